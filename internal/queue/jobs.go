package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	// MigrateAssetTask moves one asset to another storage backend.
	MigrateAssetTask = "storage:migrate_asset"
	// ExpireIntentsTask marks stale pending intents as expired. The worker's
	// scheduler enqueues it periodically.
	ExpireIntentsTask = "intent:expire"
)

// Enqueuer is the part of *asynq.Client the producers use.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// MigratePayload is serialized into the task payload so the worker knows
// which asset to move and where.
type MigratePayload struct {
	AssetID uuid.UUID `json:"asset_id"`
	To      string    `json:"to"`
}

// NewMigrateAssetTask builds the task for one asset. The task id is derived
// from the asset and target, so enqueueing the same migration twice while the
// first is pending is a no-op.
func NewMigrateAssetTask(p MigratePayload) (*asynq.Task, []asynq.Option, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal payload: %w", err)
	}
	opts := []asynq.Option{
		asynq.MaxRetry(5),
		asynq.TaskID(fmt.Sprintf("migrate:%s:%s", p.AssetID, p.To)),
	}
	return asynq.NewTask(MigrateAssetTask, data), opts, nil
}

// EnqueueMigrateAsset enqueues a migration of one asset.
func EnqueueMigrateAsset(ctx context.Context, client Enqueuer, p MigratePayload) error {
	task, opts, err := NewMigrateAssetTask(p)
	if err != nil {
		return err
	}
	if _, err := client.EnqueueContext(ctx, task, opts...); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			return nil
		}
		return fmt.Errorf("enqueue migrate task: %w", err)
	}
	return nil
}

// ParseMigratePayload decodes a migrate task payload.
func ParseMigratePayload(task *asynq.Task) (MigratePayload, error) {
	var p MigratePayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		return p, fmt.Errorf("decode payload: %w", err)
	}
	if p.AssetID == uuid.Nil || p.To == "" {
		return p, errors.New("migrate payload needs asset_id and to")
	}
	return p, nil
}

// NewExpireIntentsTask builds the periodic expiry task.
func NewExpireIntentsTask() *asynq.Task {
	return asynq.NewTask(ExpireIntentsTask, nil, asynq.MaxRetry(1))
}
