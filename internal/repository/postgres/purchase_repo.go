package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dharsanguruparan/VaultShop/internal/errs"
	"github.com/dharsanguruparan/VaultShop/internal/model"
	"github.com/dharsanguruparan/VaultShop/internal/repository"
)

const purchaseColumns = `id, buyer_id, asset_id, intent_token, line_no, paid_amount, purchased_at,
download_count, download_limit, expires_at, last_download_at`

// PurchaseRepo implements repository.PurchaseRepository.
type PurchaseRepo struct{ db *DB }

var _ repository.PurchaseRepository = (*PurchaseRepo)(nil)

// NewPurchaseRepo constructs a purchase repository.
func NewPurchaseRepo(db *DB) *PurchaseRepo { return &PurchaseRepo{db: db} }

// ConfirmIntent locks the intent row, so concurrent confirmations of one
// token run one after another. The first inserts the purchases and marks the
// intent confirmed in the same transaction; later ones see "confirmed" and
// get the rows the first created. An expired intent is still confirmed: the
// caller already holds the gateway's approval.
func (r *PurchaseRepo) ConfirmIntent(
	ctx context.Context, token, paymentKey string, purchases []model.Purchase, now time.Time,
) (out []model.Purchase, created bool, err error) {
	const lock = `SELECT status FROM order_intents WHERE token=$1 FOR UPDATE`
	const ins = `
INSERT INTO purchases (id, buyer_id, asset_id, intent_token, line_no, paid_amount, purchased_at,
	download_count, download_limit, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $9)`
	const mark = `
UPDATE order_intents SET status='confirmed', confirmed_at=$2, payment_key=$3
WHERE token=$1 AND status IN ('pending', 'expired')`

	err = r.db.inTx(ctx, func(tx pgx.Tx) error {
		var status model.IntentStatus
		if err := tx.QueryRow(ctx, lock, token).Scan(&status); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return errs.ErrIntentNotFound
			}
			return fmt.Errorf("lock intent: %w", err)
		}
		if status == model.IntentConfirmed {
			existing, err := listPurchases(ctx, tx, `WHERE intent_token=$1 ORDER BY line_no`, token)
			if err != nil {
				return err
			}
			out = existing
			return nil
		}

		for _, p := range purchases {
			_, err := tx.Exec(ctx, ins, p.ID, p.BuyerID, p.AssetID, p.IntentToken, p.LineNo, p.PaidAmount,
				p.PurchasedAt, p.DownloadLimit, p.ExpiresAt)
			if isUniqueViolation(err) {
				return errs.ErrAlreadyExists
			}
			if err != nil {
				return fmt.Errorf("insert purchase: %w", err)
			}
		}
		tag, err := tx.Exec(ctx, mark, token, now, paymentKey)
		if err != nil {
			return fmt.Errorf("mark intent confirmed: %w", err)
		}
		if tag.RowsAffected() != 1 {
			return errs.ErrConflict
		}
		out = append([]model.Purchase(nil), purchases...)
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, created, nil
}

// ListByIntent returns an intent's purchases in line order.
func (r *PurchaseRepo) ListByIntent(ctx context.Context, token string) ([]model.Purchase, error) {
	return listPurchases(ctx, r.db.Pool, `WHERE intent_token=$1 ORDER BY line_no`, token)
}

// ListByBuyer returns a buyer's purchases, newest first.
func (r *PurchaseRepo) ListByBuyer(ctx context.Context, buyerID string) ([]model.Purchase, error) {
	return listPurchases(ctx, r.db.Pool, `WHERE buyer_id=$1 ORDER BY purchased_at DESC, line_no`, buyerID)
}

// ListByBuyerAsset returns the buyer's purchases of one asset, newest first.
func (r *PurchaseRepo) ListByBuyerAsset(ctx context.Context, buyerID string, assetID uuid.UUID) ([]model.Purchase, error) {
	return listPurchases(ctx, r.db.Pool,
		`WHERE buyer_id=$1 AND asset_id=$2 ORDER BY purchased_at DESC, line_no`, buyerID, assetID)
}

// ConsumeDownload is a single conditional UPDATE: the count only moves while
// it is below the limit and the window is open, so concurrent requests can
// never push it past the ceiling.
func (r *PurchaseRepo) ConsumeDownload(ctx context.Context, id uuid.UUID, now time.Time) (*model.Purchase, error) {
	q := `
UPDATE purchases
SET download_count = download_count + 1, last_download_at = $2
WHERE id = $1 AND download_count < download_limit AND expires_at > $2
RETURNING ` + purchaseColumns
	p, err := scanPurchase(r.db.Pool.QueryRow(ctx, q, id, now))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrQuotaExceeded
	}
	if err != nil {
		return nil, fmt.Errorf("consume download: %w", err)
	}
	return p, nil
}

// ReleaseDownload gives back one download after a failed delivery. The last
// download time is restored only if no later download has replaced it.
func (r *PurchaseRepo) ReleaseDownload(ctx context.Context, id uuid.UUID, attemptAt time.Time, previous *time.Time) error {
	const q = `
UPDATE purchases
SET download_count = download_count - 1,
	last_download_at = CASE WHEN last_download_at = $2 THEN $3 ELSE last_download_at END
WHERE id=$1 AND download_count > 0`
	if _, err := r.db.Pool.Exec(ctx, q, id, attemptAt, previous); err != nil {
		return fmt.Errorf("release download: %w", err)
	}
	return nil
}

func listPurchases(ctx context.Context, q querier, where string, args ...any) ([]model.Purchase, error) {
	rows, err := q.Query(ctx, `SELECT `+purchaseColumns+` FROM purchases `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("select purchases: %w", err)
	}
	defer rows.Close()
	var out []model.Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan purchase: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func scanPurchase(row pgx.Row) (*model.Purchase, error) {
	var p model.Purchase
	err := row.Scan(&p.ID, &p.BuyerID, &p.AssetID, &p.IntentToken, &p.LineNo, &p.PaidAmount, &p.PurchasedAt,
		&p.DownloadCount, &p.DownloadLimit, &p.ExpiresAt, &p.LastDownloadAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
