package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: "1", Type: task.Type()}, nil
}

func TestEnqueueMigrateAsset(t *testing.T) {
	f := &fakeEnqueuer{}
	id := uuid.New()
	require.NoError(t, EnqueueMigrateAsset(context.Background(), f, MigratePayload{AssetID: id, To: "s3"}))
	require.Len(t, f.tasks, 1)
	require.Equal(t, MigrateAssetTask, f.tasks[0].Type())

	p, err := ParseMigratePayload(f.tasks[0])
	require.NoError(t, err)
	require.Equal(t, MigratePayload{AssetID: id, To: "s3"}, p)
}

func TestEnqueueMigrateAsset_DuplicateIsNotAnError(t *testing.T) {
	f := &fakeEnqueuer{err: asynq.ErrTaskIDConflict}
	require.NoError(t, EnqueueMigrateAsset(context.Background(), f, MigratePayload{AssetID: uuid.New(), To: "s3"}))

	f.err = errors.New("redis down")
	require.Error(t, EnqueueMigrateAsset(context.Background(), f, MigratePayload{AssetID: uuid.New(), To: "s3"}))
}

func TestParseMigratePayload_Invalid(t *testing.T) {
	_, err := ParseMigratePayload(asynq.NewTask(MigrateAssetTask, []byte("{")))
	require.Error(t, err)
	_, err = ParseMigratePayload(asynq.NewTask(MigrateAssetTask, []byte(`{"to":"s3"}`)))
	require.Error(t, err)
}
