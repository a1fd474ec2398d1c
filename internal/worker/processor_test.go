package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dharsanguruparan/VaultShop/internal/errs"
	"github.com/dharsanguruparan/VaultShop/internal/queue"
)

type fakeMigrator struct {
	got []queue.MigratePayload
	err error
}

func (f *fakeMigrator) MigrateAsset(_ context.Context, id uuid.UUID, to string) error {
	f.got = append(f.got, queue.MigratePayload{AssetID: id, To: to})
	return f.err
}

type fakeExpirer struct {
	calls int
	err   error
}

func (f *fakeExpirer) ExpireStale(context.Context) (int64, error) {
	f.calls++
	return 2, f.err
}

func migrateTask(t *testing.T, p queue.MigratePayload) *asynq.Task {
	t.Helper()
	task, _, err := queue.NewMigrateAssetTask(p)
	require.NoError(t, err)
	return task
}

func TestHandleMigrate(t *testing.T) {
	m := &fakeMigrator{}
	p := NewProcessor(m, &fakeExpirer{}, zaptest.NewLogger(t))
	payload := queue.MigratePayload{AssetID: uuid.New(), To: "s3"}

	require.NoError(t, p.Handler().ProcessTask(context.Background(), migrateTask(t, payload)))
	require.Equal(t, []queue.MigratePayload{payload}, m.got)
}

func TestHandleMigrate_RetryClassification(t *testing.T) {
	m := &fakeMigrator{err: errs.ErrConflict}
	p := NewProcessor(m, &fakeExpirer{}, zaptest.NewLogger(t))
	task := migrateTask(t, queue.MigratePayload{AssetID: uuid.New(), To: "s3"})

	err := p.handleMigrate(context.Background(), task)
	require.ErrorIs(t, err, asynq.SkipRetry)

	m.err = errs.ErrStorageUnavailable
	err = p.handleMigrate(context.Background(), task)
	require.Error(t, err)
	require.NotErrorIs(t, err, asynq.SkipRetry)

	err = p.handleMigrate(context.Background(), asynq.NewTask(queue.MigrateAssetTask, []byte("nope")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestHandleExpire(t *testing.T) {
	e := &fakeExpirer{}
	p := NewProcessor(&fakeMigrator{}, e, zaptest.NewLogger(t))
	require.NoError(t, p.Handler().ProcessTask(context.Background(), queue.NewExpireIntentsTask()))
	require.Equal(t, 1, e.calls)

	e.err = errors.New("db down")
	require.Error(t, p.handleExpire(context.Background(), queue.NewExpireIntentsTask()))
}
