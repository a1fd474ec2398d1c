// Package repository declares the persistence contracts of the pipeline.
// Postgres implementations live in repository/postgres; MemoryStore backs
// tests and single-process development.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dharsanguruparan/VaultShop/internal/model"
)

// AssetRepository stores catalog records.
type AssetRepository interface {
	Create(ctx context.Context, a *model.Asset) error
	Get(ctx context.Context, id uuid.UUID) (*model.Asset, error)
	// Update applies a patch and returns the updated record.
	Update(ctx context.Context, id uuid.UUID, patch model.AssetPatch) (*model.Asset, error)
	// DeleteUnreferenced hard-deletes the asset only if no purchase or intent
	// line points at it; otherwise errs.ErrAssetReferenced.
	DeleteUnreferenced(ctx context.Context, id uuid.UUID) error
	// ListByBackend pages through assets held by a backend in id order.
	ListByBackend(ctx context.Context, backend string, after uuid.UUID, limit int) ([]model.Asset, error)
	// SwapStorage replaces the storage reference only if it still equals from;
	// otherwise errs.ErrConflict.
	SwapStorage(ctx context.Context, id uuid.UUID, from, to model.StorageRef) error
	IncrementDownloads(ctx context.Context, id uuid.UUID) error
}

// IntentRepository stores order intents.
type IntentRepository interface {
	// Create inserts the intent; an existing token yields errs.ErrTokenCollision
	// and the existing row is left untouched.
	Create(ctx context.Context, o *model.OrderIntent) error
	Get(ctx context.Context, token string) (*model.OrderIntent, error)
	// ExpirePending marks pending intents created before cutoff as expired.
	ExpirePending(ctx context.Context, cutoff time.Time) (int64, error)
}

// PurchaseRepository stores purchases and owns the two atomic operations of
// the pipeline: confirming an intent and consuming a download.
type PurchaseRepository interface {
	// ConfirmIntent atomically inserts purchases and marks the intent
	// confirmed. If the intent was already confirmed it returns the existing
	// purchases with created=false. Callers hold a gateway approval, so an
	// intent the expiry sweep flipped to expired is confirmed as well.
	ConfirmIntent(ctx context.Context, token, paymentKey string, purchases []model.Purchase, now time.Time) (out []model.Purchase, created bool, err error)
	ListByIntent(ctx context.Context, token string) ([]model.Purchase, error)
	ListByBuyer(ctx context.Context, buyerID string) ([]model.Purchase, error)
	// ListByBuyerAsset returns purchases newest first.
	ListByBuyerAsset(ctx context.Context, buyerID string, assetID uuid.UUID) ([]model.Purchase, error)
	// ConsumeDownload increments the count only while it is below the limit
	// and the window is open; otherwise errs.ErrQuotaExceeded.
	ConsumeDownload(ctx context.Context, id uuid.UUID, now time.Time) (*model.Purchase, error)
	// ReleaseDownload undoes one ConsumeDownload made at attemptAt. The last
	// download time goes back to previous unless a later download moved it.
	ReleaseDownload(ctx context.Context, id uuid.UUID, attemptAt time.Time, previous *time.Time) error
}
