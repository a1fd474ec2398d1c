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

const assetColumns = `id, title, price, list_price, category, author_id, storage_backend, storage_key,
file_name, content_type, size_bytes, page_count, active, download_total, created_at, updated_at`

// AssetRepo implements repository.AssetRepository.
type AssetRepo struct{ db *DB }

var _ repository.AssetRepository = (*AssetRepo)(nil)

// NewAssetRepo constructs an asset repository.
func NewAssetRepo(db *DB) *AssetRepo { return &AssetRepo{db: db} }

// Create inserts a new asset row.
func (r *AssetRepo) Create(ctx context.Context, a *model.Asset) error {
	const q = `
INSERT INTO assets (id, title, price, list_price, category, author_id, storage_backend, storage_key,
	file_name, content_type, size_bytes, page_count, active, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	_, err := r.db.Pool.Exec(ctx, q,
		a.ID, a.Title, a.Price, a.ListPrice, a.Category, a.AuthorID, a.Storage.Backend, a.Storage.Key,
		a.FileName, a.ContentType, a.SizeBytes, a.PageCount, a.Active, a.CreatedAt, a.UpdatedAt)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert asset: %w", err)
	}
	return nil
}

// Get selects an asset by id.
func (r *AssetRepo) Get(ctx context.Context, id uuid.UUID) (*model.Asset, error) {
	q := `SELECT ` + assetColumns + ` FROM assets WHERE id=$1`
	a, err := scanAsset(r.db.Pool.QueryRow(ctx, q, id))
	if err != nil {
		return nil, notFound(err, "select asset")
	}
	return a, nil
}

// Update applies the non-nil patch fields.
func (r *AssetRepo) Update(ctx context.Context, id uuid.UUID, p model.AssetPatch) (*model.Asset, error) {
	q := `
UPDATE assets SET
	title = COALESCE($2, title),
	price = COALESCE($3, price),
	list_price = COALESCE($4, list_price),
	category = COALESCE($5, category),
	active = COALESCE($6, active),
	updated_at = $7
WHERE id=$1
RETURNING ` + assetColumns
	a, err := scanAsset(r.db.Pool.QueryRow(ctx, q, id, p.Title, p.Price, p.ListPrice, p.Category, p.Active, time.Now().UTC()))
	if err != nil {
		return nil, notFound(err, "update asset")
	}
	return a, nil
}

// DeleteUnreferenced removes the asset only while nothing points at it.
func (r *AssetRepo) DeleteUnreferenced(ctx context.Context, id uuid.UUID) error {
	const q = `
DELETE FROM assets a
WHERE a.id=$1
	AND NOT EXISTS (SELECT 1 FROM purchases p WHERE p.asset_id = a.id)
	AND NOT EXISTS (SELECT 1 FROM order_intent_lines l WHERE l.asset_id = a.id)`
	tag, err := r.db.Pool.Exec(ctx, q, id)
	if isForeignKeyViolation(err) {
		return errs.ErrAssetReferenced
	}
	if err != nil {
		return fmt.Errorf("delete asset: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var exists bool
	if err := r.db.Pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM assets WHERE id=$1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check asset: %w", err)
	}
	if exists {
		return errs.ErrAssetReferenced
	}
	return errs.ErrNotFound
}

// ListByBackend pages through a backend's assets with keyset pagination on id.
func (r *AssetRepo) ListByBackend(ctx context.Context, backend string, after uuid.UUID, limit int) ([]model.Asset, error) {
	q := `SELECT ` + assetColumns + ` FROM assets WHERE storage_backend=$1 AND id > $2 ORDER BY id LIMIT $3`
	rows, err := r.db.Pool.Query(ctx, q, backend, after, limit)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	defer rows.Close()
	var out []model.Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("scan asset: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// SwapStorage rewrites the reference only if it still matches from.
func (r *AssetRepo) SwapStorage(ctx context.Context, id uuid.UUID, from, to model.StorageRef) error {
	const q = `
UPDATE assets
SET storage_backend = $4, storage_key = $5, updated_at = $6
WHERE id = $1 AND storage_backend = $2 AND storage_key = $3`
	tag, err := r.db.Pool.Exec(ctx, q, id, from.Backend, from.Key, to.Backend, to.Key, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("swap storage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrConflict
	}
	return nil
}

// IncrementDownloads bumps the denormalized download counter.
func (r *AssetRepo) IncrementDownloads(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE assets SET download_total = download_total + 1 WHERE id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, id)
	if err != nil {
		return fmt.Errorf("increment downloads: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func scanAsset(row pgx.Row) (*model.Asset, error) {
	var a model.Asset
	err := row.Scan(&a.ID, &a.Title, &a.Price, &a.ListPrice, &a.Category, &a.AuthorID,
		&a.Storage.Backend, &a.Storage.Key, &a.FileName, &a.ContentType, &a.SizeBytes,
		&a.PageCount, &a.Active, &a.DownloadTotal, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func notFound(err error, op string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return errs.ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}
