package db

import "database/sql"

type Snapshot struct {
	Key         string `json:"key"`
	GeneratedAt int64  `json:"generated_at"`
	Body        []byte `json:"body"`
}

// GetSnapshot returns the named snapshot, or nil if none has been written.
func (s *Store) GetSnapshot(key string) (*Snapshot, error) {
	var snap Snapshot
	var body string
	err := s.db.QueryRow(s.rebind(
		"SELECT key, generated_at, body FROM public_snapshots WHERE key = ?"), key).
		Scan(&snap.Key, &snap.GeneratedAt, &body)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	snap.Body = []byte(body)
	return &snap, nil
}

func (s *Store) PutSnapshot(key string, generatedAt int64, body []byte) error {
	_, err := s.db.Exec(s.rebind(`
		INSERT INTO public_snapshots (key, generated_at, body) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET generated_at = excluded.generated_at, body = excluded.body
	`), key, generatedAt, string(body))
	return err
}
