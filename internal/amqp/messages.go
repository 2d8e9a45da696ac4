package amqp

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"creatorbank/internal/core"
)

// EarningRecordedMessage announces a newly recorded earning. It carries only
// identifiers; the worker reloads the earning from storage.
type EarningRecordedMessage struct {
	MessageID uuid.UUID `json:"message_id"`
	EarningID int64     `json:"earning_id"`
	UserID    int64     `json:"user_id"`
	Taxable   bool      `json:"taxable"`
	Timestamp time.Time `json:"timestamp"`
}

func NewEarningRecordedMessage(e core.Earning) *EarningRecordedMessage {
	return &EarningRecordedMessage{
		MessageID: uuid.New(),
		EarningID: e.ID,
		UserID:    e.UserID,
		Taxable:   e.IsTaxable,
		Timestamp: time.Now().UTC(),
	}
}

func (m *EarningRecordedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func EarningRecordedMessageFromJSON(data []byte) (*EarningRecordedMessage, error) {
	var msg EarningRecordedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
