package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/VaultShop/internal/errs"
	"github.com/dharsanguruparan/VaultShop/internal/model"
)

func newDB(t *testing.T) (*DB, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return &DB{Pool: mock}, mock
}

var purchaseCols = []string{"id", "buyer_id", "asset_id", "intent_token", "line_no", "paid_amount", "purchased_at",
	"download_count", "download_limit", "expires_at", "last_download_at"}

var assetCols = []string{"id", "title", "price", "list_price", "category", "author_id", "storage_backend", "storage_key",
	"file_name", "content_type", "size_bytes", "page_count", "active", "download_total", "created_at", "updated_at"}

func purchaseRow(rows *pgxmock.Rows, p model.Purchase) *pgxmock.Rows {
	return rows.AddRow(p.ID, p.BuyerID, p.AssetID, p.IntentToken, p.LineNo, p.PaidAmount, p.PurchasedAt,
		p.DownloadCount, p.DownloadLimit, p.ExpiresAt, p.LastDownloadAt)
}

func TestAssetRepo_CreateAndGet(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewAssetRepo(db)
	ctx := context.Background()
	a := &model.Asset{
		ID: uuid.New(), Title: "Go Patterns", Price: 10000, AuthorID: "author-1",
		Storage:  model.StorageRef{Backend: "local", Key: "1_go.pdf"},
		FileName: "go.pdf", ContentType: "application/pdf", SizeBytes: 42, PageCount: 3, Active: true,
	}

	mock.ExpectExec(`INSERT INTO assets`).
		WithArgs(a.ID, a.Title, a.Price, a.ListPrice, a.Category, a.AuthorID, "local", "1_go.pdf",
			a.FileName, a.ContentType, a.SizeBytes, a.PageCount, a.Active, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, r.Create(ctx, a))

	mock.ExpectExec(`INSERT INTO assets`).
		WithArgs(a.ID, a.Title, a.Price, a.ListPrice, a.Category, a.AuthorID, "local", "1_go.pdf",
			a.FileName, a.ContentType, a.SizeBytes, a.PageCount, a.Active, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	require.ErrorIs(t, r.Create(ctx, a), errs.ErrAlreadyExists)

	now := time.Now().UTC()
	mock.ExpectQuery(`SELECT .+ FROM assets WHERE id=\$1`).
		WithArgs(a.ID).
		WillReturnRows(pgxmock.NewRows(assetCols).AddRow(a.ID, a.Title, a.Price, (*int64)(nil), "", a.AuthorID,
			"local", "1_go.pdf", a.FileName, a.ContentType, a.SizeBytes, a.PageCount, true, int64(5), now, now))
	got, err := r.Get(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, a.Storage, got.Storage)
	require.Equal(t, int64(5), got.DownloadTotal)

	mock.ExpectQuery(`SELECT .+ FROM assets WHERE id=\$1`).
		WithArgs(a.ID).
		WillReturnRows(pgxmock.NewRows(assetCols))
	_, err = r.Get(ctx, a.ID)
	require.ErrorIs(t, err, errs.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAssetRepo_SwapStorageIsConditional(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewAssetRepo(db)
	id := uuid.New()
	from := model.StorageRef{Backend: "local", Key: "1_a.pdf"}
	to := model.StorageRef{Backend: "s3", Key: "products/2_a.pdf"}

	mock.ExpectExec(`UPDATE assets SET storage_backend = \$4, storage_key = \$5`).
		WithArgs(id, "local", "1_a.pdf", "s3", "products/2_a.pdf", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, r.SwapStorage(context.Background(), id, from, to))

	mock.ExpectExec(`UPDATE assets SET storage_backend = \$4, storage_key = \$5`).
		WithArgs(id, "local", "1_a.pdf", "s3", "products/2_a.pdf", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	require.ErrorIs(t, r.SwapStorage(context.Background(), id, from, to), errs.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAssetRepo_DeleteUnreferenced(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewAssetRepo(db)
	id := uuid.New()

	mock.ExpectExec(`DELETE FROM assets a WHERE a.id=\$1 AND NOT EXISTS`).
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	require.ErrorIs(t, r.DeleteUnreferenced(context.Background(), id), errs.ErrAssetReferenced)

	mock.ExpectExec(`DELETE FROM assets`).
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	require.NoError(t, r.DeleteUnreferenced(context.Background(), id))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIntentRepo_CreateCollisionRollsBack(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewIntentRepo(db)
	o := &model.OrderIntent{
		Token: "ord_x", BuyerID: "b1", Total: 15000, Status: model.IntentPending, CreatedAt: time.Now().UTC(),
		Lines: []model.IntentLine{{LineNo: 1, AssetID: uuid.New(), UnitPrice: 10000}, {LineNo: 2, AssetID: uuid.New(), UnitPrice: 5000}},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO order_intents .+ ON CONFLICT \(token\) DO NOTHING`).
		WithArgs(o.Token, o.BuyerID, o.BuyerEmail, o.Total, o.Status, o.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	for _, l := range o.Lines {
		mock.ExpectExec(`INSERT INTO order_intent_lines`).
			WithArgs(o.Token, l.LineNo, l.AssetID, l.UnitPrice).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	mock.ExpectCommit()
	require.NoError(t, r.Create(context.Background(), o))

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO order_intents`).
		WithArgs(o.Token, o.BuyerID, o.BuyerEmail, o.Total, o.Status, o.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectRollback()
	require.ErrorIs(t, r.Create(context.Background(), o), errs.ErrTokenCollision)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIntentRepo_Get(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewIntentRepo(db)
	now := time.Now().UTC()
	assetID := uuid.New()

	mock.ExpectQuery(`SELECT token, buyer_id, .+ FROM order_intents WHERE token=\$1`).
		WithArgs("ord_x").
		WillReturnRows(pgxmock.NewRows([]string{"token", "buyer_id", "buyer_email", "total", "status", "payment_key", "created_at", "confirmed_at"}).
			AddRow("ord_x", "b1", "b1@example.com", int64(10000), model.IntentPending, "", now, (*time.Time)(nil)))
	mock.ExpectQuery(`SELECT line_no, asset_id, unit_price FROM order_intent_lines`).
		WithArgs("ord_x").
		WillReturnRows(pgxmock.NewRows([]string{"line_no", "asset_id", "unit_price"}).AddRow(1, assetID, int64(10000)))
	o, err := r.Get(context.Background(), "ord_x")
	require.NoError(t, err)
	require.Equal(t, model.IntentPending, o.Status)
	require.Equal(t, []model.IntentLine{{LineNo: 1, AssetID: assetID, UnitPrice: 10000}}, o.Lines)

	mock.ExpectQuery(`FROM order_intents WHERE token=\$1`).
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows([]string{"token"}))
	_, err = r.Get(context.Background(), "missing")
	require.ErrorIs(t, err, errs.ErrIntentNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPurchaseRepo_ConfirmIntent_CreatesRowsAndMarksConfirmed(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewPurchaseRepo(db)
	now := time.Now().UTC()
	intent := &model.OrderIntent{Token: "ord_1", BuyerID: "b1", Lines: []model.IntentLine{
		{LineNo: 1, AssetID: uuid.New(), UnitPrice: 10000},
		{LineNo: 2, AssetID: uuid.New(), UnitPrice: 5000},
	}}
	ps := model.NewPurchases(intent, model.PurchaseTerms{DownloadLimit: 10, Window: time.Hour}, now)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status FROM order_intents WHERE token=\$1 FOR UPDATE`).
		WithArgs("ord_1").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow(model.IntentPending))
	for _, p := range ps {
		mock.ExpectExec(`INSERT INTO purchases`).
			WithArgs(p.ID, p.BuyerID, p.AssetID, p.IntentToken, p.LineNo, p.PaidAmount, p.PurchasedAt, p.DownloadLimit, p.ExpiresAt).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	mock.ExpectExec(`UPDATE order_intents SET status='confirmed'`).
		WithArgs("ord_1", now, "pay_1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	out, created, err := r.ConfirmIntent(context.Background(), "ord_1", "pay_1", ps, now)
	require.NoError(t, err)
	require.True(t, created)
	require.Len(t, out, 2)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPurchaseRepo_ConfirmIntent_SweptIntentIsConfirmed(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewPurchaseRepo(db)
	now := time.Now().UTC()
	intent := &model.OrderIntent{Token: "ord_1", BuyerID: "b1", Lines: []model.IntentLine{
		{LineNo: 1, AssetID: uuid.New(), UnitPrice: 15000},
	}}
	ps := model.NewPurchases(intent, model.PurchaseTerms{DownloadLimit: 10, Window: time.Hour}, now)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status FROM order_intents WHERE token=\$1 FOR UPDATE`).
		WithArgs("ord_1").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow(model.IntentExpired))
	mock.ExpectExec(`INSERT INTO purchases`).
		WithArgs(ps[0].ID, ps[0].BuyerID, ps[0].AssetID, ps[0].IntentToken, ps[0].LineNo, ps[0].PaidAmount, ps[0].PurchasedAt, ps[0].DownloadLimit, ps[0].ExpiresAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`(?s)UPDATE order_intents SET status='confirmed'.+status IN \('pending', 'expired'\)`).
		WithArgs("ord_1", now, "pay_1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	out, created, err := r.ConfirmIntent(context.Background(), "ord_1", "pay_1", ps, now)
	require.NoError(t, err)
	require.True(t, created)
	require.Len(t, out, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPurchaseRepo_ConfirmIntent_AlreadyConfirmedReturnsExisting(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewPurchaseRepo(db)
	now := time.Now().UTC()
	existing := model.Purchase{ID: uuid.New(), BuyerID: "b1", AssetID: uuid.New(), IntentToken: "ord_1", LineNo: 1,
		PaidAmount: 10000, PurchasedAt: now, DownloadLimit: 10, ExpiresAt: now.Add(time.Hour)}

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WithArgs("ord_1").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow(model.IntentConfirmed))
	mock.ExpectQuery(`SELECT .+ FROM purchases WHERE intent_token=\$1`).
		WithArgs("ord_1").
		WillReturnRows(purchaseRow(pgxmock.NewRows(purchaseCols), existing))
	mock.ExpectCommit()

	out, created, err := r.ConfirmIntent(context.Background(), "ord_1", "pay_1", nil, now)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, []model.Purchase{existing}, out)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPurchaseRepo_ConfirmIntent_InsertFailureRollsBack(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewPurchaseRepo(db)
	now := time.Now().UTC()
	intent := &model.OrderIntent{Token: "ord_1", BuyerID: "b1", Lines: []model.IntentLine{{LineNo: 1, AssetID: uuid.New(), UnitPrice: 1}}}
	ps := model.NewPurchases(intent, model.PurchaseTerms{DownloadLimit: 10, Window: time.Hour}, now)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WithArgs("ord_1").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow(model.IntentPending))
	mock.ExpectExec(`INSERT INTO purchases`).
		WithArgs(ps[0].ID, ps[0].BuyerID, ps[0].AssetID, ps[0].IntentToken, ps[0].LineNo, ps[0].PaidAmount,
			ps[0].PurchasedAt, ps[0].DownloadLimit, ps[0].ExpiresAt).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectRollback()

	_, created, err := r.ConfirmIntent(context.Background(), "ord_1", "pay_1", ps, now)
	require.ErrorIs(t, err, errs.ErrAlreadyExists)
	require.False(t, created)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPurchaseRepo_ConfirmIntent_Missing(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewPurchaseRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WithArgs("nope").
		WillReturnRows(pgxmock.NewRows([]string{"status"}))
	mock.ExpectRollback()

	_, _, err := r.ConfirmIntent(context.Background(), "nope", "pay", nil, time.Now())
	require.ErrorIs(t, err, errs.ErrIntentNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPurchaseRepo_ConsumeDownload(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewPurchaseRepo(db)
	now := time.Now().UTC()
	p := model.Purchase{ID: uuid.New(), BuyerID: "b1", AssetID: uuid.New(), IntentToken: "ord_1", LineNo: 1,
		PaidAmount: 10000, PurchasedAt: now, DownloadCount: 10, DownloadLimit: 10, ExpiresAt: now.Add(time.Hour), LastDownloadAt: &now}

	mock.ExpectQuery(`UPDATE purchases SET download_count = download_count \+ 1, last_download_at = \$2 WHERE id = \$1 AND download_count < download_limit AND expires_at > \$2`).
		WithArgs(p.ID, now).
		WillReturnRows(purchaseRow(pgxmock.NewRows(purchaseCols), p))
	got, err := r.ConsumeDownload(context.Background(), p.ID, now)
	require.NoError(t, err)
	require.Equal(t, 10, got.DownloadCount)

	mock.ExpectQuery(`UPDATE purchases SET download_count = download_count \+ 1`).
		WithArgs(p.ID, now).
		WillReturnRows(pgxmock.NewRows(purchaseCols))
	_, err = r.ConsumeDownload(context.Background(), p.ID, now)
	require.ErrorIs(t, err, errs.ErrQuotaExceeded)

	earlier := now.Add(-time.Hour)
	mock.ExpectExec(`UPDATE purchases\s+SET download_count = download_count - 1,\s+last_download_at = CASE WHEN last_download_at = \$2 THEN \$3 ELSE last_download_at END\s+WHERE id=\$1 AND download_count > 0`).
		WithArgs(p.ID, now, &earlier).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, r.ReleaseDownload(context.Background(), p.ID, now, &earlier))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIntentRepo_ExpirePending(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewIntentRepo(db)
	cutoff := time.Now().UTC()

	mock.ExpectExec(`UPDATE order_intents SET status='expired' WHERE status='pending' AND created_at < \$1`).
		WithArgs(cutoff).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))
	n, err := r.ExpirePending(context.Background(), cutoff)
	require.NoError(t, err)
	require.EqualValues(t, 3, n)
	require.NoError(t, mock.ExpectationsWereMet())
}
