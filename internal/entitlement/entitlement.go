// Package entitlement decides whether a buyer may download an asset and
// hands the request to storage once a download has been counted.
package entitlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/VaultShop/internal/errs"
	"github.com/dharsanguruparan/VaultShop/internal/events"
	"github.com/dharsanguruparan/VaultShop/internal/metrics"
	"github.com/dharsanguruparan/VaultShop/internal/model"
	"github.com/dharsanguruparan/VaultShop/internal/ratelimit"
	"github.com/dharsanguruparan/VaultShop/internal/repository"
	"github.com/dharsanguruparan/VaultShop/internal/storage"
)

// Resolver turns a storage reference into deliverable access.
type Resolver interface {
	Resolve(ctx context.Context, ref model.StorageRef, filename string) (*storage.Access, error)
}

// DownloadRecorder bumps the catalog's download counter.
type DownloadRecorder interface {
	RecordDownload(ctx context.Context, id uuid.UUID)
}

// Grant is a successful download decision. Purchase is nil for free assets.
// Resumed is set when the grant continues an earlier counted download.
type Grant struct {
	Asset     *model.Asset
	Purchase  *model.Purchase
	Access    *storage.Access
	Filename  string
	Remaining int
	Resumed   bool
}

// Deps bundles the Controller collaborators. Limiter, Recorder, Events and
// Metrics may be nil. A zero ResumeWindow counts every resumed request.
type Deps struct {
	Assets       repository.AssetRepository
	Purchases    repository.PurchaseRepository
	Storage      Resolver
	Limiter      ratelimit.Limiter
	Recorder     DownloadRecorder
	Events       events.Publisher
	Metrics      *metrics.Metrics
	Log          *zap.Logger
	ResumeWindow time.Duration
}

// Controller implements RequestDownload.
type Controller struct {
	assets    repository.AssetRepository
	purchases repository.PurchaseRepository
	storage   Resolver
	limiter   ratelimit.Limiter
	recorder  DownloadRecorder
	events    events.Publisher
	metrics   *metrics.Metrics
	log       *zap.Logger
	resume    time.Duration
	now       func() time.Time
}

// New constructs a Controller.
func New(d Deps) *Controller {
	lim := d.Limiter
	if lim == nil {
		lim = ratelimit.Noop{}
	}
	return &Controller{
		assets:    d.Assets,
		purchases: d.Purchases,
		storage:   d.Storage,
		limiter:   lim,
		recorder:  d.Recorder,
		events:    d.Events,
		metrics:   d.Metrics,
		log:       d.Log,
		resume:    d.ResumeWindow,
		now:       time.Now,
	}
}

// RequestDownload checks the caller's entitlement to assetID, consumes one
// download and resolves the asset's bytes. A storage failure after the
// download was counted gives the download back.
func (c *Controller) RequestDownload(ctx context.Context, who model.Identity, assetID uuid.UUID) (*Grant, error) {
	return c.observe(c.requestDownload(ctx, who, assetID, false))
}

// ResumeDownload serves a continuation of a download, such as an HTTP range
// request. If one of the buyer's live purchases was downloaded within the
// resume window the bytes are served without counting another download, even
// when its quota is used up. Otherwise it behaves like RequestDownload.
func (c *Controller) ResumeDownload(ctx context.Context, who model.Identity, assetID uuid.UUID) (*Grant, error) {
	return c.observe(c.requestDownload(ctx, who, assetID, true))
}

func (c *Controller) observe(g *Grant, err error) (*Grant, error) {
	if err != nil {
		c.metrics.Download(outcome(err))
		return nil, err
	}
	c.metrics.Download(metrics.OutcomeOK)
	return g, nil
}

func (c *Controller) requestDownload(ctx context.Context, who model.Identity, assetID uuid.UUID, resume bool) (*Grant, error) {
	if who.Anonymous() {
		return nil, errs.ErrUnauthorized
	}
	ok, err := c.limiter.Allow(ctx, who.ID)
	if err != nil {
		// Downloads stay available when the limiter's store is down.
		c.log.Warn("rate limiter unavailable", zap.Error(err))
	} else if !ok {
		return nil, errs.ErrRateLimited
	}

	asset, err := c.assets.Get(ctx, assetID)
	if err != nil {
		return nil, err
	}

	now := c.now().UTC()
	g := &Grant{Asset: asset, Filename: asset.FileName}
	var cl claim
	if asset.IsFree() {
		if !asset.Active {
			return nil, errs.ErrNotEntitled
		}
	} else {
		cl, err = c.claimPurchase(ctx, who.ID, asset.ID, now, resume)
		if err != nil {
			return nil, err
		}
		g.Purchase = cl.purchase
		g.Remaining = cl.purchase.Remaining()
		g.Resumed = !cl.counted
	}

	access, err := c.storage.Resolve(ctx, asset.Storage, asset.FileName)
	if err != nil {
		if cl.counted {
			rerr := c.purchases.ReleaseDownload(context.WithoutCancel(ctx), cl.purchase.ID, now, cl.previous)
			if rerr != nil {
				c.log.Error("release download after storage failure",
					zap.String("purchase_id", g.Purchase.ID.String()), zap.Error(rerr))
			}
		}
		return nil, fmt.Errorf("resolve asset %s: %w", asset.ID, err)
	}
	g.Access = access
	if g.Resumed {
		return g, nil
	}

	if c.recorder != nil {
		c.recorder.RecordDownload(ctx, asset.ID)
	}
	payload := map[string]any{"assetId": asset.ID.String(), "buyerId": who.ID, "backend": asset.Storage.Backend}
	if g.Purchase != nil {
		payload["purchaseId"] = g.Purchase.ID.String()
		payload["downloadCount"] = g.Purchase.DownloadCount
	}
	events.Emit(ctx, c.events, c.log, events.Event{Type: events.TypeAssetDownloaded, Key: who.ID, At: now, Payload: payload})
	return g, nil
}

// claim is the purchase a download is served under. previous is its last
// download time before this request counted one.
type claim struct {
	purchase *model.Purchase
	counted  bool
	previous *time.Time
}

// claimPurchase picks the newest purchase that still has quota and counts one
// download against it. A resumed request first looks for a live purchase
// downloaded within the resume window and counts nothing.
func (c *Controller) claimPurchase(ctx context.Context, buyerID string, assetID uuid.UUID, now time.Time, resume bool) (claim, error) {
	ps, err := c.purchases.ListByBuyerAsset(ctx, buyerID, assetID)
	if err != nil {
		return claim{}, err
	}
	if len(ps) == 0 {
		return claim{}, errs.ErrNotEntitled
	}
	var live []model.Purchase
	for _, p := range ps {
		if !p.Expired(now) {
			live = append(live, p)
		}
	}
	if len(live) == 0 {
		return claim{}, errs.ErrEntitlementExpired
	}
	if resume && c.resume > 0 {
		for i := range live {
			p := &live[i]
			if p.LastDownloadAt != nil && now.Sub(*p.LastDownloadAt) < c.resume {
				return claim{purchase: p}, nil
			}
		}
	}
	for _, p := range live {
		if p.Remaining() == 0 {
			continue
		}
		got, err := c.purchases.ConsumeDownload(ctx, p.ID, now)
		if errors.Is(err, errs.ErrQuotaExceeded) {
			continue
		}
		if err != nil {
			return claim{}, err
		}
		return claim{purchase: got, counted: true, previous: p.LastDownloadAt}, nil
	}
	return claim{}, errs.ErrQuotaExceeded
}

func outcome(err error) string {
	switch {
	case errors.Is(err, errs.ErrStorageUnavailable), errors.Is(err, errs.ErrAssetMissingOnBackend):
		return metrics.OutcomeError
	default:
		return metrics.OutcomeRejected
	}
}
