package db

import (
	"database/sql"
	"encoding/json"
	"errors"
)

// ErrDeliveryExists is returned when a delivery claim loses to an existing
// row for the same (event_key, channel_id).
var ErrDeliveryExists = errors.New("delivery already claimed")

// ErrChannelNotFound is returned when a notification channel is not found
var ErrChannelNotFound = errors.New("notification channel not found")

type NotificationChannel struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Config    ChannelConfig `json:"config"`
	CreatedAt int64         `json:"created_at"`
}

// ChannelConfig is the webhook sink configuration, stored as a JSON blob.
type ChannelConfig struct {
	URL             string            `json:"url"`
	Method          string            `json:"method,omitempty"`
	Headers         map[string]string `json:"headers,omitempty"`
	PayloadType     string            `json:"payload_type,omitempty"`
	TimeoutMs       int64             `json:"timeout_ms,omitempty"`
	Signing         *SigningConfig    `json:"signing,omitempty"`
	MessageTemplate string            `json:"message_template,omitempty"`
	PayloadTemplate json.RawMessage   `json:"payload_template,omitempty"`
	EnabledEvents   []string          `json:"enabled_events,omitempty"`
}

type SigningConfig struct {
	Enabled   bool   `json:"enabled"`
	SecretRef string `json:"secret_ref,omitempty"`
}

type NotificationDelivery struct {
	EventKey    string `json:"event_key"`
	ChannelID   string `json:"channel_id"`
	Status      string `json:"status"` // pending | success | failed
	HTTPStatus  *int   `json:"http_status,omitempty"`
	Error       string `json:"error,omitempty"`
	AttemptedAt int64  `json:"attempted_at"`
	FinalizedAt *int64 `json:"finalized_at,omitempty"`
}

func (s *Store) CreateChannel(ch NotificationChannel) error {
	configJSON, err := json.Marshal(ch.Config)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(s.rebind(
		"INSERT INTO notification_channels (id, name, config, created_at) VALUES (?, ?, ?, ?)"),
		ch.ID, ch.Name, string(configJSON), ch.CreatedAt)
	return err
}

func (s *Store) DeleteChannel(id string) error {
	res, err := s.db.Exec(s.rebind("DELETE FROM notification_channels WHERE id = ?"), id)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrChannelNotFound
	}
	return nil
}

func (s *Store) GetChannels() ([]NotificationChannel, error) {
	rows, err := s.db.Query("SELECT id, name, config, created_at FROM notification_channels ORDER BY created_at ASC, id ASC")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var channels []NotificationChannel
	for rows.Next() {
		var ch NotificationChannel
		var configJSON string
		if err := rows.Scan(&ch.ID, &ch.Name, &configJSON, &ch.CreatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(configJSON), &ch.Config)
		ch.Config.PayloadType = ParsePayloadType(ch.Config.PayloadType)
		channels = append(channels, ch)
	}
	return channels, rows.Err()
}

// ClaimDelivery inserts the pending delivery row for (eventKey, channelID).
// The primary key makes the claim at-most-once: a second claim for the same
// pair returns ErrDeliveryExists and must not dispatch.
func (s *Store) ClaimDelivery(eventKey, channelID string, now int64) error {
	res, err := s.db.Exec(s.rebind(
		"INSERT INTO notification_deliveries (event_key, channel_id, status, attempted_at) VALUES (?, ?, 'pending', ?) ON CONFLICT (event_key, channel_id) DO NOTHING"),
		eventKey, channelID, now)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrDeliveryExists
	}
	return nil
}

// FinalizeDelivery records the terminal status of a claimed delivery.
func (s *Store) FinalizeDelivery(eventKey, channelID, status string, httpStatus *int, errMsg string, now int64) error {
	var hs any
	if httpStatus != nil {
		hs = *httpStatus
	}
	var e any
	if errMsg != "" {
		e = errMsg
	}
	_, err := s.db.Exec(s.rebind(
		"UPDATE notification_deliveries SET status = ?, http_status = ?, error = ?, finalized_at = ? WHERE event_key = ? AND channel_id = ?"),
		status, hs, e, now, eventKey, channelID)
	return err
}

func (s *Store) GetDelivery(eventKey, channelID string) (*NotificationDelivery, error) {
	query := s.rebind(`
		SELECT event_key, channel_id, status, http_status, error, attempted_at, finalized_at
		FROM notification_deliveries
		WHERE event_key = ? AND channel_id = ?
	`)
	var d NotificationDelivery
	var httpStatus sql.NullInt64
	var errMsg sql.NullString
	var finalized sql.NullInt64
	err := s.db.QueryRow(query, eventKey, channelID).Scan(
		&d.EventKey, &d.ChannelID, &d.Status, &httpStatus, &errMsg, &d.AttemptedAt, &finalized)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if httpStatus.Valid {
		v := int(httpStatus.Int64)
		d.HTTPStatus = &v
	}
	d.Error = errMsg.String
	if finalized.Valid {
		v := finalized.Int64
		d.FinalizedAt = &v
	}
	return &d, nil
}
