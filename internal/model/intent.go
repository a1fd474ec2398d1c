package model

import (
	"time"

	"github.com/google/uuid"
)

// IntentStatus describes the lifecycle of an order intent. It only moves
// forward: pending to confirmed, or pending to expired.
type IntentStatus string

const (
	IntentPending   IntentStatus = "pending"
	IntentConfirmed IntentStatus = "confirmed"
	IntentExpired   IntentStatus = "expired"
)

// IntentLine is one cart line with the unit price captured when the intent
// was created.
type IntentLine struct {
	LineNo    int       `json:"lineNo"`
	AssetID   uuid.UUID `json:"assetId"`
	UnitPrice int64     `json:"unitPrice"`
}

// OrderIntent is a buyer's declared, not yet paid cart.
type OrderIntent struct {
	Token       string       `json:"token"`
	BuyerID     string       `json:"buyerId"`
	BuyerEmail  string       `json:"buyerEmail,omitempty"`
	Lines       []IntentLine `json:"lines"`
	Total       int64        `json:"total"`
	Status      IntentStatus `json:"status"`
	PaymentKey  string       `json:"-"`
	CreatedAt   time.Time    `json:"createdAt"`
	ConfirmedAt *time.Time   `json:"confirmedAt,omitempty"`
}

// LinesTotal sums the captured line prices.
func (o *OrderIntent) LinesTotal() int64 {
	var sum int64
	for _, l := range o.Lines {
		sum += l.UnitPrice
	}
	return sum
}
