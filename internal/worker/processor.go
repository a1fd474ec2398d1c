package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/VaultShop/internal/errs"
	"github.com/dharsanguruparan/VaultShop/internal/queue"
)

// AssetMigrator moves one asset between backends.
type AssetMigrator interface {
	MigrateAsset(ctx context.Context, id uuid.UUID, to string) error
}

// IntentExpirer expires stale intents.
type IntentExpirer interface {
	ExpireStale(ctx context.Context) (int64, error)
}

// Processor is plugged into the asynq worker loop.
type Processor struct {
	migrator AssetMigrator
	intents  IntentExpirer
	log      *zap.Logger
}

// NewProcessor constructs a worker processor.
func NewProcessor(m AssetMigrator, intents IntentExpirer, log *zap.Logger) *Processor {
	return &Processor{migrator: m, intents: intents, log: log}
}

// Handler registers the task handlers.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.MigrateAssetTask, p.handleMigrate)
	mux.HandleFunc(queue.ExpireIntentsTask, p.handleExpire)
	return mux
}

func (p *Processor) handleMigrate(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.ParseMigratePayload(task)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	log := p.log.With(zap.String("asset_id", payload.AssetID.String()), zap.String("to", payload.To))
	if err := p.migrator.MigrateAsset(ctx, payload.AssetID, payload.To); err != nil {
		if terminal(err) {
			log.Warn("migration abandoned", zap.Error(err))
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		log.Warn("migration failed, will retry", zap.Error(err))
		return err
	}
	return nil
}

func (p *Processor) handleExpire(ctx context.Context, _ *asynq.Task) error {
	n, err := p.intents.ExpireStale(ctx)
	if err != nil {
		return fmt.Errorf("expire intents: %w", err)
	}
	p.log.Debug("expire intents run", zap.Int64("expired", n))
	return nil
}

// terminal reports errors a retry cannot fix.
func terminal(err error) bool {
	return errors.Is(err, errs.ErrNotFound) ||
		errors.Is(err, errs.ErrConflict) ||
		errors.Is(err, errs.ErrAssetMissingOnBackend) ||
		errors.Is(err, errs.ErrValidation)
}
