package db

import (
	"database/sql"
	"errors"
)

// ErrLockHeld is returned when another holder owns an unexpired lease.
var ErrLockHeld = errors.New("lock held by another instance")

type Lock struct {
	Name       string `json:"name"`
	Holder     string `json:"holder"`
	AcquiredAt int64  `json:"acquired_at"`
	ExpiresAt  int64  `json:"expires_at"`
}

// AcquireLock claims the named lease for holder until now+ttlSec. A row is
// claimable iff it does not exist, has expired, or is already owned by this
// holder (re-entrant refresh). Anything else returns ErrLockHeld.
func (s *Store) AcquireLock(name, holder string, now, ttlSec int64) error {
	expires := now + ttlSec

	// Single conditional update wins or loses atomically; the insert below
	// only runs when no row exists at all.
	res, err := s.db.Exec(s.rebind(
		"UPDATE locks SET holder = ?, acquired_at = ?, expires_at = ? WHERE name = ? AND (expires_at <= ? OR holder = ?)"),
		holder, now, expires, name, now, holder)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows > 0 {
		return nil
	}

	var exists int
	err = s.db.QueryRow(s.rebind("SELECT COUNT(*) FROM locks WHERE name = ?"), name).Scan(&exists)
	if err != nil {
		return err
	}
	if exists > 0 {
		return ErrLockHeld
	}

	_, err = s.db.Exec(s.rebind(
		"INSERT INTO locks (name, holder, acquired_at, expires_at) VALUES (?, ?, ?, ?) ON CONFLICT (name) DO NOTHING"),
		name, holder, now, expires)
	if err != nil {
		return err
	}
	// The insert may have lost a race with another instance; only the row
	// owner proceeds.
	var owner string
	if err := s.db.QueryRow(s.rebind("SELECT holder FROM locks WHERE name = ?"), name).Scan(&owner); err != nil {
		return err
	}
	if owner != holder {
		return ErrLockHeld
	}
	return nil
}

// ReleaseLock expires the lease immediately. Best-effort: a missed release
// just leaves the lease to expire on its own.
func (s *Store) ReleaseLock(name, holder string) error {
	_, err := s.db.Exec(s.rebind(
		"UPDATE locks SET expires_at = 0 WHERE name = ? AND holder = ?"), name, holder)
	return err
}

func (s *Store) GetLock(name string) (*Lock, error) {
	var l Lock
	err := s.db.QueryRow(s.rebind(
		"SELECT name, holder, acquired_at, expires_at FROM locks WHERE name = ?"), name).
		Scan(&l.Name, &l.Holder, &l.AcquiredAt, &l.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}
