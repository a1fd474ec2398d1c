package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dharsanguruparan/VaultShop/internal/errs"
	"github.com/dharsanguruparan/VaultShop/internal/model"
)

// MemoryStore keeps assets, intents and purchases in maps guarded by one
// RWMutex, so the confirm and consume operations are atomic within a single
// process. It is meant for tests and local development; multi-instance
// deployments must use Postgres.
type MemoryStore struct {
	mu        sync.RWMutex
	assets    map[uuid.UUID]*model.Asset
	intents   map[string]*model.OrderIntent
	purchases map[uuid.UUID]*model.Purchase
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		assets:    make(map[uuid.UUID]*model.Asset),
		intents:   make(map[string]*model.OrderIntent),
		purchases: make(map[uuid.UUID]*model.Purchase),
	}
}

// Assets returns the AssetRepository view.
func (m *MemoryStore) Assets() AssetRepository { return memAssets{m} }

// Intents returns the IntentRepository view.
func (m *MemoryStore) Intents() IntentRepository { return memIntents{m} }

// Purchases returns the PurchaseRepository view.
func (m *MemoryStore) Purchases() PurchaseRepository { return memPurchases{m} }

type memAssets struct{ m *MemoryStore }

func (r memAssets) Create(_ context.Context, a *model.Asset) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.assets[a.ID]; ok {
		return errs.ErrAlreadyExists
	}
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	cp := copyAsset(a)
	r.m.assets[a.ID] = cp
	return nil
}

func (r memAssets) Get(_ context.Context, id uuid.UUID) (*model.Asset, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	a, ok := r.m.assets[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return copyAsset(a), nil
}

func (r memAssets) Update(_ context.Context, id uuid.UUID, p model.AssetPatch) (*model.Asset, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	a, ok := r.m.assets[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	if p.Title != nil {
		a.Title = *p.Title
	}
	if p.Price != nil {
		a.Price = *p.Price
	}
	if p.ListPrice != nil {
		lp := *p.ListPrice
		a.ListPrice = &lp
	}
	if p.Category != nil {
		a.Category = *p.Category
	}
	if p.Active != nil {
		a.Active = *p.Active
	}
	a.UpdatedAt = time.Now().UTC()
	return copyAsset(a), nil
}

func (r memAssets) DeleteUnreferenced(_ context.Context, id uuid.UUID) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.assets[id]; !ok {
		return errs.ErrNotFound
	}
	for _, p := range r.m.purchases {
		if p.AssetID == id {
			return errs.ErrAssetReferenced
		}
	}
	for _, o := range r.m.intents {
		for _, l := range o.Lines {
			if l.AssetID == id {
				return errs.ErrAssetReferenced
			}
		}
	}
	delete(r.m.assets, id)
	return nil
}

func (r memAssets) ListByBackend(_ context.Context, backend string, after uuid.UUID, limit int) ([]model.Asset, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	var out []model.Asset
	for _, a := range r.m.assets {
		if a.Storage.Backend == backend && compareUUID(a.ID, after) > 0 {
			out = append(out, *copyAsset(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return compareUUID(out[i].ID, out[j].ID) < 0 })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r memAssets) SwapStorage(_ context.Context, id uuid.UUID, from, to model.StorageRef) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	a, ok := r.m.assets[id]
	if !ok {
		return errs.ErrNotFound
	}
	if a.Storage != from {
		return errs.ErrConflict
	}
	a.Storage = to
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (r memAssets) IncrementDownloads(_ context.Context, id uuid.UUID) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	a, ok := r.m.assets[id]
	if !ok {
		return errs.ErrNotFound
	}
	a.DownloadTotal++
	return nil
}

type memIntents struct{ m *MemoryStore }

func (r memIntents) Create(_ context.Context, o *model.OrderIntent) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.intents[o.Token]; ok {
		return errs.ErrTokenCollision
	}
	r.m.intents[o.Token] = copyIntent(o)
	return nil
}

func (r memIntents) Get(_ context.Context, token string) (*model.OrderIntent, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	o, ok := r.m.intents[token]
	if !ok {
		return nil, errs.ErrIntentNotFound
	}
	return copyIntent(o), nil
}

func (r memIntents) ExpirePending(_ context.Context, cutoff time.Time) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var n int64
	for _, o := range r.m.intents {
		if o.Status == model.IntentPending && o.CreatedAt.Before(cutoff) {
			o.Status = model.IntentExpired
			n++
		}
	}
	return n, nil
}

type memPurchases struct{ m *MemoryStore }

func (r memPurchases) ConfirmIntent(_ context.Context, token, paymentKey string, purchases []model.Purchase, now time.Time) ([]model.Purchase, bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	o, ok := r.m.intents[token]
	if !ok {
		return nil, false, errs.ErrIntentNotFound
	}
	switch o.Status {
	case model.IntentConfirmed:
		return r.byIntentLocked(token), false, nil
	}
	for _, p := range r.m.purchases {
		if p.IntentToken == token {
			return nil, false, errs.ErrAlreadyExists
		}
	}
	for i := range purchases {
		p := purchases[i]
		r.m.purchases[p.ID] = &p
	}
	o.Status = model.IntentConfirmed
	o.PaymentKey = paymentKey
	confirmedAt := now
	o.ConfirmedAt = &confirmedAt
	return r.byIntentLocked(token), true, nil
}

func (r memPurchases) ListByIntent(_ context.Context, token string) ([]model.Purchase, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	return r.byIntentLocked(token), nil
}

func (r memPurchases) byIntentLocked(token string) []model.Purchase {
	var out []model.Purchase
	for _, p := range r.m.purchases {
		if p.IntentToken == token {
			out = append(out, *copyPurchase(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LineNo < out[j].LineNo })
	return out
}

func (r memPurchases) ListByBuyer(_ context.Context, buyerID string) ([]model.Purchase, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	var out []model.Purchase
	for _, p := range r.m.purchases {
		if p.BuyerID == buyerID {
			out = append(out, *copyPurchase(p))
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (r memPurchases) ListByBuyerAsset(_ context.Context, buyerID string, assetID uuid.UUID) ([]model.Purchase, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	var out []model.Purchase
	for _, p := range r.m.purchases {
		if p.BuyerID == buyerID && p.AssetID == assetID {
			out = append(out, *copyPurchase(p))
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (r memPurchases) ConsumeDownload(_ context.Context, id uuid.UUID, now time.Time) (*model.Purchase, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	p, ok := r.m.purchases[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	if p.DownloadCount >= p.DownloadLimit || !now.Before(p.ExpiresAt) {
		return nil, errs.ErrQuotaExceeded
	}
	p.DownloadCount++
	at := now
	p.LastDownloadAt = &at
	return copyPurchase(p), nil
}

func (r memPurchases) ReleaseDownload(_ context.Context, id uuid.UUID, attemptAt time.Time, previous *time.Time) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	p, ok := r.m.purchases[id]
	if !ok {
		return errs.ErrNotFound
	}
	if p.DownloadCount == 0 {
		return nil
	}
	p.DownloadCount--
	if p.LastDownloadAt != nil && p.LastDownloadAt.Equal(attemptAt) {
		if previous == nil {
			p.LastDownloadAt = nil
		} else {
			at := *previous
			p.LastDownloadAt = &at
		}
	}
	return nil
}

func sortNewestFirst(ps []model.Purchase) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].PurchasedAt.Equal(ps[j].PurchasedAt) {
			return ps[i].LineNo < ps[j].LineNo
		}
		return ps[i].PurchasedAt.After(ps[j].PurchasedAt)
	})
}

func compareUUID(a, b uuid.UUID) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// Returning copies prevents callers from mutating internal state.
func copyAsset(a *model.Asset) *model.Asset {
	cp := *a
	if a.ListPrice != nil {
		lp := *a.ListPrice
		cp.ListPrice = &lp
	}
	return &cp
}

func copyIntent(o *model.OrderIntent) *model.OrderIntent {
	cp := *o
	cp.Lines = append([]model.IntentLine(nil), o.Lines...)
	if o.ConfirmedAt != nil {
		t := *o.ConfirmedAt
		cp.ConfirmedAt = &t
	}
	return &cp
}

func copyPurchase(p *model.Purchase) *model.Purchase {
	cp := *p
	if p.LastDownloadAt != nil {
		t := *p.LastDownloadAt
		cp.LastDownloadAt = &t
	}
	return &cp
}
