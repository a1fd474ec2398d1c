// Package migration moves asset bytes from one storage backend to another
// without touching purchases or interrupting downloads.
package migration

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/VaultShop/internal/errs"
	"github.com/dharsanguruparan/VaultShop/internal/events"
	"github.com/dharsanguruparan/VaultShop/internal/metrics"
	"github.com/dharsanguruparan/VaultShop/internal/model"
	"github.com/dharsanguruparan/VaultShop/internal/processing"
	"github.com/dharsanguruparan/VaultShop/internal/repository"
	"github.com/dharsanguruparan/VaultShop/internal/storage"
)

const pageSize = 100

// Store is the part of storage.Router migration needs.
type Store interface {
	Open(ctx context.Context, ref model.StorageRef) (io.ReadCloser, error)
	PutTo(ctx context.Context, backend string, body io.Reader, size int64, name, contentType string) (model.StorageRef, error)
	Delete(ctx context.Context, ref model.StorageRef) error
	Backend(name string) (storage.Backend, error)
}

// Report summarizes a batch run.
type Report struct {
	Migrated int64 `json:"migrated"`
	Skipped  int64 `json:"skipped"`
	Failed   int64 `json:"failed"`
}

// Migrator copies assets between backends.
type Migrator struct {
	assets  repository.AssetRepository
	store   Store
	events  events.Publisher
	metrics *metrics.Metrics
	log     *zap.Logger
}

// New constructs a Migrator. events and m may be nil.
func New(assets repository.AssetRepository, store Store, pub events.Publisher, m *metrics.Metrics, log *zap.Logger) *Migrator {
	return &Migrator{assets: assets, store: store, events: pub, metrics: m, log: log}
}

// errSkipped reports an asset that already lives on the target backend.
var errSkipped = errors.New("already on target backend")

// MigrateAsset moves one asset to the backend named to. The reference swap is
// conditional: if the asset changed underneath, the copy is deleted and
// errs.ErrConflict returned. The old object is deleted only after the swap.
func (m *Migrator) MigrateAsset(ctx context.Context, id uuid.UUID, to string) error {
	_, err := m.migrate(ctx, id, to)
	return err
}

func (m *Migrator) migrate(ctx context.Context, id uuid.UUID, to string) (skipped bool, err error) {
	err = m.migrateAsset(ctx, id, to)
	switch {
	case errors.Is(err, errSkipped):
		m.metrics.Migration(metrics.OutcomeSkipped)
		return true, nil
	case err != nil:
		m.metrics.Migration(metrics.OutcomeError)
		return false, err
	}
	m.metrics.Migration(metrics.OutcomeOK)
	return false, nil
}

func (m *Migrator) migrateAsset(ctx context.Context, id uuid.UUID, to string) error {
	if _, err := m.store.Backend(to); err != nil {
		return err
	}
	a, err := m.assets.Get(ctx, id)
	if err != nil {
		return err
	}
	old := a.Storage
	if old.Backend == to {
		return errSkipped
	}

	data, err := m.read(ctx, a)
	if err != nil {
		return err
	}
	ref, err := m.store.PutTo(ctx, to, bytes.NewReader(data), int64(len(data)), a.FileName, a.ContentType)
	if err != nil {
		return fmt.Errorf("write to %s: %w", to, err)
	}
	if err := m.assets.SwapStorage(ctx, a.ID, old, ref); err != nil {
		if derr := m.store.Delete(context.WithoutCancel(ctx), ref); derr != nil {
			m.log.Warn("delete copy after failed swap", zap.String("asset_id", id.String()), zap.Error(derr))
		}
		return fmt.Errorf("swap reference: %w", err)
	}
	if err := m.store.Delete(ctx, old); err != nil {
		m.log.Warn("delete migrated source object",
			zap.String("asset_id", id.String()), zap.String("backend", old.Backend), zap.Error(err))
	}

	m.log.Info("asset migrated",
		zap.String("asset_id", id.String()), zap.String("from", old.Backend), zap.String("to", to),
		zap.Int("bytes", len(data)))
	events.Emit(ctx, m.events, m.log, events.Event{
		Type: events.TypeAssetMigrated, Key: id.String(),
		Payload: map[string]any{"assetId": id.String(), "from": old.Backend, "to": to},
	})
	return nil
}

func (m *Migrator) read(ctx context.Context, a *model.Asset) ([]byte, error) {
	rc, err := m.store.Open(ctx, a.Storage)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read source: %w", err)
	}
	if a.SizeBytes > 0 && int64(len(data)) != a.SizeBytes {
		return nil, fmt.Errorf("%w: source has %d bytes, record says %d", errs.ErrConflict, len(data), a.SizeBytes)
	}
	return data, nil
}

// ForEach pages through the assets stored on backend.
func (m *Migrator) ForEach(ctx context.Context, backend string, fn func(model.Asset) error) error {
	after := uuid.Nil
	for {
		page, err := m.assets.ListByBackend(ctx, backend, after, pageSize)
		if err != nil {
			return err
		}
		for _, a := range page {
			if err := fn(a); err != nil {
				return err
			}
		}
		if len(page) < pageSize {
			return nil
		}
		after = page[len(page)-1].ID
	}
}

// Run migrates every asset on from to the backend to, using workers
// goroutines. A failing asset is logged and counted; it never stops the batch.
func (m *Migrator) Run(ctx context.Context, from, to string, workers int) (Report, error) {
	if from == to {
		return Report{}, fmt.Errorf("%w: source and target backend are both %q", errs.ErrValidation, from)
	}
	if _, err := m.store.Backend(from); err != nil {
		return Report{}, err
	}
	if _, err := m.store.Backend(to); err != nil {
		return Report{}, err
	}

	var migrated, skipped, failed atomic.Int64
	pool := processing.New(workers, func(ctx context.Context, j processing.Job) error {
		skip, err := m.migrate(ctx, j.AssetID, to)
		switch {
		case err != nil:
			failed.Add(1)
		case skip:
			skipped.Add(1)
		default:
			migrated.Add(1)
		}
		return err
	}, m.log)
	pool.Start(ctx)

	// Swapped assets leave the from listing, so paging is collected up front
	// instead of interleaved with the workers.
	var ids []uuid.UUID
	err := m.ForEach(ctx, from, func(a model.Asset) error {
		ids = append(ids, a.ID)
		return nil
	})
	if err == nil {
		for _, id := range ids {
			if err = pool.Submit(ctx, processing.Job{AssetID: id}); err != nil {
				break
			}
		}
	}
	pool.Close()

	r := Report{Migrated: migrated.Load(), Skipped: skipped.Load(), Failed: failed.Load()}
	m.log.Info("storage migration finished",
		zap.String("from", from), zap.String("to", to),
		zap.Int64("migrated", r.Migrated), zap.Int64("skipped", r.Skipped), zap.Int64("failed", r.Failed))
	return r, err
}
