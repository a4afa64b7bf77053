package db

import (
	"encoding/json"
	"errors"
	"testing"
)

func seedChannel(t *testing.T, store *Store, id string) {
	t.Helper()
	err := store.CreateChannel(NotificationChannel{
		ID:   id,
		Name: "chan-" + id,
		Config: ChannelConfig{
			URL:         "https://hooks.example.com/" + id,
			PayloadType: PayloadJSON,
		},
		CreatedAt: 1000,
	})
	if err != nil {
		t.Fatalf("CreateChannel failed: %v", err)
	}
}

func TestClaimDeliveryAtMostOnce(t *testing.T) {
	RunTestWithBothDBs(t, "ClaimDelivery", func(t *testing.T, store *Store) {
		seedChannel(t, store, "c1")

		if err := store.ClaimDelivery("monitor.down:m1:o1", "c1", 1000); err != nil {
			t.Fatalf("first claim failed: %v", err)
		}
		if err := store.ClaimDelivery("monitor.down:m1:o1", "c1", 1001); !errors.Is(err, ErrDeliveryExists) {
			t.Errorf("expected ErrDeliveryExists, got %v", err)
		}

		// Different channel or key claims independently.
		seedChannel(t, store, "c2")
		if err := store.ClaimDelivery("monitor.down:m1:o1", "c2", 1000); err != nil {
			t.Errorf("claim for other channel failed: %v", err)
		}
		if err := store.ClaimDelivery("monitor.up:m1:o1", "c1", 1000); err != nil {
			t.Errorf("claim for other key failed: %v", err)
		}
	})
}

func TestFinalizeDelivery(t *testing.T) {
	store := newTestStore(t)
	seedChannel(t, store, "c1")

	if err := store.ClaimDelivery("k1", "c1", 1000); err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	code := 200
	if err := store.FinalizeDelivery("k1", "c1", DeliverySuccess, &code, "", 1002); err != nil {
		t.Fatalf("finalize failed: %v", err)
	}

	d, err := store.GetDelivery("k1", "c1")
	if err != nil {
		t.Fatalf("GetDelivery failed: %v", err)
	}
	if d.Status != DeliverySuccess || d.HTTPStatus == nil || *d.HTTPStatus != 200 {
		t.Errorf("unexpected delivery: %+v", d)
	}
	if d.AttemptedAt != 1000 || d.FinalizedAt == nil || *d.FinalizedAt != 1002 {
		t.Errorf("timestamps wrong: %+v", d)
	}
}

func TestChannelConfigRoundTrip(t *testing.T) {
	store := newTestStore(t)

	cfg := ChannelConfig{
		URL:             "https://hooks.example.com/x",
		Method:          "PUT",
		Headers:         map[string]string{"Authorization": "Bearer {token}"},
		PayloadType:     PayloadForm,
		TimeoutMs:       2500,
		Signing:         &SigningConfig{Enabled: true, SecretRef: "HOOK_SECRET"},
		MessageTemplate: "{monitor_name} is {status}",
		PayloadTemplate: json.RawMessage(`{"text":"{monitor_name}"}`),
		EnabledEvents:   []string{"monitor.down", "monitor.up"},
	}
	if err := store.CreateChannel(NotificationChannel{ID: "c1", Name: "full", Config: cfg, CreatedAt: 1}); err != nil {
		t.Fatalf("CreateChannel failed: %v", err)
	}

	channels, err := store.GetChannels()
	if err != nil {
		t.Fatalf("GetChannels failed: %v", err)
	}
	if len(channels) != 1 {
		t.Fatalf("expected 1 channel, got %d", len(channels))
	}
	got := channels[0].Config
	if got.Method != "PUT" || got.PayloadType != PayloadForm || got.TimeoutMs != 2500 {
		t.Errorf("config lost fields: %+v", got)
	}
	if got.Signing == nil || !got.Signing.Enabled || got.Signing.SecretRef != "HOOK_SECRET" {
		t.Errorf("signing config lost: %+v", got.Signing)
	}
	if len(got.EnabledEvents) != 2 {
		t.Errorf("enabled events lost: %v", got.EnabledEvents)
	}
}

func TestUnknownPayloadTypeDegrades(t *testing.T) {
	store := newTestStore(t)
	err := store.CreateChannel(NotificationChannel{
		ID: "c1", Name: "legacy",
		Config:    ChannelConfig{URL: "https://hooks.example.com", PayloadType: "msgpack"},
		CreatedAt: 1,
	})
	if err != nil {
		t.Fatalf("CreateChannel failed: %v", err)
	}
	channels, _ := store.GetChannels()
	if channels[0].Config.PayloadType != PayloadJSON {
		t.Errorf("unknown payload type must degrade to json, got %s", channels[0].Config.PayloadType)
	}
}
