package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dharsanguruparan/VaultShop/internal/config"
	"github.com/dharsanguruparan/VaultShop/internal/model"
	"github.com/dharsanguruparan/VaultShop/internal/queue"
)

func memoryConfig(t *testing.T) *config.Config {
	return &config.Config{
		Address:           ":0",
		MaxUploadBytes:    1 << 20,
		StorageBackend:    config.BackendLocal,
		LocalContentDir:   t.TempDir(),
		DownloadLimit:     10,
		EntitlementWindow: 365 * 24 * time.Hour,
		IntentTTL:         time.Hour,
		JWTSecret:         []byte("jwt"),
		SessionSecret:     []byte("session"),
	}
}

func TestNewInMemory(t *testing.T) {
	a, err := New(context.Background(), memoryConfig(t), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(a.Close)

	require.Nil(t, a.DB)
	require.Nil(t, a.Queue)
	require.Equal(t, []string{config.BackendLocal}, a.Storage.Names())

	ready := a.Ready(context.Background())
	require.Contains(t, ready, "storage:local")
	require.NoError(t, ready["storage:local"])

	_, err = a.ScheduleMigration(context.Background(), "local", "s3")
	require.Error(t, err)

	srv := httptest.NewServer(a.API().Routes())
	t.Cleanup(srv.Close)
	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

type fakeLister struct{ assets []model.Asset }

func (f fakeLister) ForEach(_ context.Context, backend string, fn func(model.Asset) error) error {
	for _, a := range f.assets {
		if a.Storage.Backend != backend {
			continue
		}
		if err := fn(a); err != nil {
			return err
		}
	}
	return nil
}

type recordingEnqueuer struct{ ids []string }

func (r *recordingEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	for _, o := range opts {
		if o.Type() == asynq.TaskIDOpt {
			r.ids = append(r.ids, o.Value().(string))
		}
	}
	return &asynq.TaskInfo{Type: task.Type()}, nil
}

func TestEnqueueMigrations(t *testing.T) {
	lister := fakeLister{assets: []model.Asset{
		{ID: uuid.New(), Storage: model.StorageRef{Backend: "local", Key: "a"}},
		{ID: uuid.New(), Storage: model.StorageRef{Backend: "s3", Key: "b"}},
		{ID: uuid.New(), Storage: model.StorageRef{Backend: "local", Key: "c"}},
	}}
	q := &recordingEnqueuer{}
	var _ queue.Enqueuer = q

	n, err := EnqueueMigrations(context.Background(), lister, q, "local", "s3")
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Len(t, q.ids, 2)
	for _, id := range q.ids {
		require.True(t, strings.HasPrefix(id, "migrate:"), id)
		require.True(t, strings.HasSuffix(id, ":s3"), id)
	}
}
