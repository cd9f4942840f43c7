package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"budget/internal/core"

	"github.com/google/uuid"
)

// LedgerEvent announces that one ledger record changed. It carries the key
// and version only; consumers read the record itself from the store.
type LedgerEvent struct {
	UserID    uuid.UUID `json:"user_id"`
	Date      string    `json:"date"`
	Version   int64     `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

func NewLedgerEvent(key core.LedgerKey, version int64) *LedgerEvent {
	return &LedgerEvent{
		UserID:    key.UserID,
		Date:      key.Date.String(),
		Version:   version,
		Timestamp: time.Now(),
	}
}

// Key returns the ledger key the event refers to.
func (m *LedgerEvent) Key() (core.LedgerKey, error) {
	if m.UserID == uuid.Nil {
		return core.LedgerKey{}, core.ErrMissingUser
	}
	d, err := core.ParseDate(m.Date)
	if err != nil {
		return core.LedgerKey{}, err
	}
	return core.LedgerKey{UserID: m.UserID, Date: d}, nil
}

func (m *LedgerEvent) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// LedgerEventFromJSON decodes and checks an event body.
func LedgerEventFromJSON(data []byte) (*LedgerEvent, error) {
	var msg LedgerEvent
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if _, err := msg.Key(); err != nil {
		return nil, fmt.Errorf("invalid ledger event: %w", err)
	}
	return &msg, nil
}
