package amqp

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"pettycash/internal/core"
)

// ReceiptSubmittedEvent announces a submission that reached the ledger.
type ReceiptSubmittedEvent struct {
	EventID      string    `json:"event_id"`
	DocumentID   string    `json:"document_id"`
	Period       string    `json:"period"`
	PID          string    `json:"pid"`
	IDNumber     string    `json:"id_number"`
	ORNumber     string    `json:"or_number"`
	Date         string    `json:"date"`
	Time         string    `json:"time"`
	AmountPaid   string    `json:"amount_paid"`
	LedgerTitle  string    `json:"ledger_title"`
	UpdatedRange string    `json:"updated_range"`
	ImageURI     string    `json:"image_uri,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// NewReceiptSubmittedEvent builds the event for a stored record.
func NewReceiptSubmittedEvent(rec core.FormRecord, ledgerTitle, updatedRange string) *ReceiptSubmittedEvent {
	return &ReceiptSubmittedEvent{
		EventID:      uuid.NewString(),
		DocumentID:   rec.ID,
		Period:       rec.Month,
		PID:          rec.PID,
		IDNumber:     rec.IDNumber,
		ORNumber:     rec.ReferenceNumber,
		Date:         rec.Date,
		Time:         rec.Time,
		AmountPaid:   rec.AmountPaid,
		LedgerTitle:  ledgerTitle,
		UpdatedRange: updatedRange,
		ImageURI:     rec.ImageURI,
		Timestamp:    time.Now().UTC(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *ReceiptSubmittedEvent) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ReceiptSubmittedEventFromJSON creates a message from JSON bytes
func ReceiptSubmittedEventFromJSON(data []byte) (*ReceiptSubmittedEvent, error) {
	var msg ReceiptSubmittedEvent
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
