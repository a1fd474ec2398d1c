package migration

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dharsanguruparan/VaultShop/internal/errs"
	"github.com/dharsanguruparan/VaultShop/internal/metrics"
	"github.com/dharsanguruparan/VaultShop/internal/model"
	"github.com/dharsanguruparan/VaultShop/internal/repository"
	"github.com/dharsanguruparan/VaultShop/internal/storage"
)

type fixture struct {
	mig     *Migrator
	mem     *repository.MemoryStore
	router  *storage.Router
	srcDir  string
	dstDir  string
	metrics *metrics.Metrics
}

// newFixture wires two local backends named "local" and "s3"; the backend
// contract is the same, so this exercises the local to remote path.
func newFixture(t *testing.T, wrap func(repository.AssetRepository) repository.AssetRepository) *fixture {
	t.Helper()
	f := &fixture{srcDir: t.TempDir(), dstDir: t.TempDir(), mem: repository.NewMemoryStore(),
		metrics: metrics.New(prometheus.NewRegistry())}
	src, err := storage.NewLocal("local", f.srcDir)
	require.NoError(t, err)
	dst, err := storage.NewLocal("s3", f.dstDir)
	require.NoError(t, err)
	f.router, err = storage.NewRouter(storage.RouterConfig{Active: "local"}, zaptest.NewLogger(t), src, dst)
	require.NoError(t, err)
	assets := f.mem.Assets()
	if wrap != nil {
		assets = wrap(assets)
	}
	f.mig = New(assets, f.router, nil, f.metrics, zaptest.NewLogger(t))
	return f
}

func (f *fixture) seed(t *testing.T, body string) *model.Asset {
	t.Helper()
	ref, err := f.router.Put(context.Background(), strings.NewReader(body), int64(len(body)), "book.pdf", "application/pdf")
	require.NoError(t, err)
	a := &model.Asset{ID: uuid.New(), Title: "Book", Price: 100, Active: true, Storage: ref,
		FileName: "book.pdf", ContentType: "application/pdf", SizeBytes: int64(len(body))}
	require.NoError(t, f.mem.Assets().Create(context.Background(), a))
	return a
}

func readRef(t *testing.T, r *storage.Router, ref model.StorageRef) string {
	t.Helper()
	rc, err := r.Open(context.Background(), ref)
	require.NoError(t, err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(b)
}

func TestMigrateAsset_RoundTrip(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a := f.seed(t, "the original bytes")

	now := time.Now().UTC()
	o := &model.OrderIntent{Token: "ord_mig", BuyerID: "b1", Status: model.IntentPending, Total: 100,
		Lines: []model.IntentLine{{LineNo: 1, AssetID: a.ID, UnitPrice: 100}}}
	require.NoError(t, f.mem.Intents().Create(ctx, o))
	before, _, err := f.mem.Purchases().ConfirmIntent(ctx, o.Token, "pay",
		model.NewPurchases(o, model.PurchaseTerms{DownloadLimit: 10, Window: time.Hour}, now), now)
	require.NoError(t, err)

	require.NoError(t, f.mig.MigrateAsset(ctx, a.ID, "s3"))

	got, err := f.mem.Assets().Get(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, "s3", got.Storage.Backend)
	require.Equal(t, "the original bytes", readRef(t, f.router, got.Storage))

	_, err = f.router.Open(ctx, a.Storage)
	require.ErrorIs(t, err, errs.ErrAssetMissingOnBackend, "old reference is inert")

	after, err := f.mem.Purchases().ListByIntent(ctx, o.Token)
	require.NoError(t, err)
	require.Equal(t, before, after)
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Migrations.WithLabelValues(metrics.OutcomeOK)))

	// Running again is a no-op.
	require.NoError(t, f.mig.MigrateAsset(ctx, a.ID, "s3"))
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Migrations.WithLabelValues(metrics.OutcomeSkipped)))
}

type conflictingSwap struct {
	repository.AssetRepository
}

func (conflictingSwap) SwapStorage(context.Context, uuid.UUID, model.StorageRef, model.StorageRef) error {
	return errs.ErrConflict
}

func TestMigrateAsset_ConflictDeletesCopy(t *testing.T) {
	f := newFixture(t, func(r repository.AssetRepository) repository.AssetRepository { return conflictingSwap{r} })
	ctx := context.Background()
	a := f.seed(t, "bytes")

	err := f.mig.MigrateAsset(ctx, a.ID, "s3")
	require.ErrorIs(t, err, errs.ErrConflict)

	entries, err := os.ReadDir(f.dstDir)
	require.NoError(t, err)
	require.Empty(t, entries)
	require.Equal(t, "bytes", readRef(t, f.router, a.Storage), "source untouched")
}

func TestMigrateAsset_UnknownTarget(t *testing.T) {
	f := newFixture(t, nil)
	a := f.seed(t, "bytes")
	require.ErrorIs(t, f.mig.MigrateAsset(context.Background(), a.ID, "ftp"), errs.ErrStorageUnavailable)
}

func TestRun_ContinuesPastFailures(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	var good []*model.Asset
	for i := 0; i < 7; i++ {
		good = append(good, f.seed(t, fmt.Sprintf("asset-%d", i)))
	}
	broken := f.seed(t, "gone")
	require.NoError(t, f.router.Delete(ctx, broken.Storage))

	report, err := f.mig.Run(ctx, "local", "s3", 3)
	require.NoError(t, err)
	require.Equal(t, Report{Migrated: 7, Failed: 1}, report)

	for i, a := range good {
		got, err := f.mem.Assets().Get(ctx, a.ID)
		require.NoError(t, err)
		require.Equal(t, "s3", got.Storage.Backend)
		require.Equal(t, fmt.Sprintf("asset-%d", i), readRef(t, f.router, got.Storage))
	}
	got, err := f.mem.Assets().Get(ctx, broken.ID)
	require.NoError(t, err)
	require.Equal(t, "local", got.Storage.Backend)
}

func TestRun_RejectsSameBackend(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.mig.Run(context.Background(), "local", "local", 1)
	require.ErrorIs(t, err, errs.ErrValidation)
}
