package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dharsanguruparan/VaultShop/internal/errs"
	"github.com/dharsanguruparan/VaultShop/internal/model"
	"github.com/dharsanguruparan/VaultShop/internal/repository"
)

// IntentRepo implements repository.IntentRepository.
type IntentRepo struct{ db *DB }

var _ repository.IntentRepository = (*IntentRepo)(nil)

// NewIntentRepo constructs an intent repository.
func NewIntentRepo(db *DB) *IntentRepo { return &IntentRepo{db: db} }

// Create inserts the intent header and its lines in one transaction. The
// header insert never overwrites: a taken token affects zero rows and the
// caller gets ErrTokenCollision.
func (r *IntentRepo) Create(ctx context.Context, o *model.OrderIntent) error {
	const insHeader = `
INSERT INTO order_intents (token, buyer_id, buyer_email, total, status, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (token) DO NOTHING`
	const insLine = `
INSERT INTO order_intent_lines (token, line_no, asset_id, unit_price)
VALUES ($1, $2, $3, $4)`

	return r.db.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, insHeader, o.Token, o.BuyerID, o.BuyerEmail, o.Total, o.Status, o.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert intent: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return errs.ErrTokenCollision
		}
		for _, l := range o.Lines {
			if _, err := tx.Exec(ctx, insLine, o.Token, l.LineNo, l.AssetID, l.UnitPrice); err != nil {
				if isForeignKeyViolation(err) {
					return fmt.Errorf("line %d: %w", l.LineNo, errs.ErrNotFound)
				}
				return fmt.Errorf("insert intent line: %w", err)
			}
		}
		return nil
	})
}

// Get loads an intent with its lines.
func (r *IntentRepo) Get(ctx context.Context, token string) (*model.OrderIntent, error) {
	const q = `
SELECT token, buyer_id, buyer_email, total, status, COALESCE(payment_key, ''), created_at, confirmed_at
FROM order_intents WHERE token=$1`
	var o model.OrderIntent
	err := r.db.Pool.QueryRow(ctx, q, token).Scan(
		&o.Token, &o.BuyerID, &o.BuyerEmail, &o.Total, &o.Status, &o.PaymentKey, &o.CreatedAt, &o.ConfirmedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrIntentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select intent: %w", err)
	}
	lines, err := listLines(ctx, r.db.Pool, token)
	if err != nil {
		return nil, err
	}
	o.Lines = lines
	return &o, nil
}

// ExpirePending flips stale pending intents to expired.
func (r *IntentRepo) ExpirePending(ctx context.Context, cutoff time.Time) (int64, error) {
	const q = `UPDATE order_intents SET status='expired' WHERE status='pending' AND created_at < $1`
	tag, err := r.db.Pool.Exec(ctx, q, cutoff)
	if err != nil {
		return 0, fmt.Errorf("expire intents: %w", err)
	}
	return tag.RowsAffected(), nil
}

func listLines(ctx context.Context, q querier, token string) ([]model.IntentLine, error) {
	const sel = `SELECT line_no, asset_id, unit_price FROM order_intent_lines WHERE token=$1 ORDER BY line_no`
	rows, err := q.Query(ctx, sel, token)
	if err != nil {
		return nil, fmt.Errorf("select intent lines: %w", err)
	}
	defer rows.Close()
	var out []model.IntentLine
	for rows.Next() {
		var l model.IntentLine
		if err := rows.Scan(&l.LineNo, &l.AssetID, &l.UnitPrice); err != nil {
			return nil, fmt.Errorf("scan intent line: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
