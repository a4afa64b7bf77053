package db

import "database/sql"

// Settings is a small string kv used for operational bookmarks (last rolled
// day) and operator overrides. Missing keys return ErrNoRows untouched so
// callers can fall back to defaults.

func (s *Store) GetSetting(key string) (string, error) {
	var value string
	err := s.db.QueryRow(s.rebind("SELECT value FROM settings WHERE key = ?"), key).Scan(&value)
	return value, err
}

// GetSettingOr returns the value or def when the key is missing.
func (s *Store) GetSettingOr(key, def string) string {
	v, err := s.GetSetting(key)
	if err == sql.ErrNoRows || v == "" {
		return def
	}
	if err != nil {
		return def
	}
	return v
}

func (s *Store) SetSetting(key, value string) error {
	_, err := s.db.Exec(s.rebind(`
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`), key, value)
	return err
}
