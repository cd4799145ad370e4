package amqp

import (
	"encoding/json"
	"time"
)

// DonationArchiveMessage asks the worker to archive one completed donation.
// It carries only the ledger id; the worker fetches the full record itself, so
// a stale message can never overwrite fresher donation data.
type DonationArchiveMessage struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

func NewDonationArchiveMessage(id int64) *DonationArchiveMessage {
	return &DonationArchiveMessage{
		ID:        id,
		Timestamp: time.Now(),
	}
}

func (m *DonationArchiveMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func DonationArchiveMessageFromJSON(data []byte) (*DonationArchiveMessage, error) {
	var msg DonationArchiveMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
