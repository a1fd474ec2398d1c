package model

import (
	"time"

	"github.com/google/uuid"
)

// Purchase is a buyer's quota-bounded entitlement to one asset. Apart from
// DownloadCount and LastDownloadAt it never changes after creation.
type Purchase struct {
	ID             uuid.UUID  `json:"id"`
	BuyerID        string     `json:"buyerId"`
	AssetID        uuid.UUID  `json:"assetId"`
	IntentToken    string     `json:"intentToken"`
	LineNo         int        `json:"lineNo"`
	PaidAmount     int64      `json:"paidAmount"`
	PurchasedAt    time.Time  `json:"purchasedAt"`
	DownloadCount  int        `json:"downloadCount"`
	DownloadLimit  int        `json:"downloadLimit"`
	ExpiresAt      time.Time  `json:"expiresAt"`
	LastDownloadAt *time.Time `json:"lastDownloadAt,omitempty"`
}

// Expired reports whether the entitlement window has closed at now.
func (p *Purchase) Expired(now time.Time) bool { return !now.Before(p.ExpiresAt) }

// Remaining returns how many downloads are left.
func (p *Purchase) Remaining() int {
	if n := p.DownloadLimit - p.DownloadCount; n > 0 {
		return n
	}
	return 0
}

// PurchaseTerms are the deployment-wide entitlement constants copied onto each
// new purchase.
type PurchaseTerms struct {
	DownloadLimit int
	Window        time.Duration
}

// NewPurchases materializes one purchase per intent line.
func NewPurchases(intent *OrderIntent, terms PurchaseTerms, now time.Time) []Purchase {
	out := make([]Purchase, 0, len(intent.Lines))
	for _, line := range intent.Lines {
		out = append(out, Purchase{
			ID:            uuid.New(),
			BuyerID:       intent.BuyerID,
			AssetID:       line.AssetID,
			IntentToken:   intent.Token,
			LineNo:        line.LineNo,
			PaidAmount:    line.UnitPrice,
			PurchasedAt:   now,
			DownloadLimit: terms.DownloadLimit,
			ExpiresAt:     now.Add(terms.Window),
		})
	}
	return out
}
