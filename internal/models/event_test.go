package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventValidate(t *testing.T) {
	valid := Event{
		Topic:     "user.login",
		EventID:   "evt_1234567890",
		Timestamp: "2025-12-02T10:30:00Z",
		Source:    "auth-service",
		Payload:   map[string]any{"user_id": "user_123"},
	}

	tests := []struct {
		name    string
		ev      Event
		wantErr string // empty means valid; substring match
	}{
		{
			name: "valid event",
			ev:   valid,
		},
		{
			name: "valid without timestamp source payload",
			ev:   Event{Topic: "orders", EventID: "e1"},
		},
		{
			name:    "missing topic",
			ev:      func() Event { e := valid; e.Topic = ""; return e }(),
			wantErr: "topic required",
		},
		{
			name:    "topic with spaces",
			ev:      func() Event { e := valid; e.Topic = "user login"; return e }(),
			wantErr: "topic must match",
		},
		{
			name:    "topic with slash",
			ev:      func() Event { e := valid; e.Topic = "user/login"; return e }(),
			wantErr: "topic must match",
		},
		{
			name: "topic with dots dashes underscores",
			ev:   func() Event { e := valid; e.Topic = "user.log-in_v2"; return e }(),
		},
		{
			name:    "missing event_id",
			ev:      func() Event { e := valid; e.EventID = ""; return e }(),
			wantErr: "event_id required",
		},
		{
			name:    "malformed timestamp",
			ev:      func() Event { e := valid; e.Timestamp = "yesterday"; return e }(),
			wantErr: "timestamp must be RFC3339",
		},
		{
			name: "timestamp with offset",
			ev:   func() Event { e := valid; e.Timestamp = "2025-12-02T10:30:00+07:00"; return e }(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ev.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidEvent), "should wrap ErrInvalidEvent")
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
