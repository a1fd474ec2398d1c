// Package catalog manages the purchasable assets and the bytes behind them.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/VaultShop/internal/errs"
	"github.com/dharsanguruparan/VaultShop/internal/model"
	pdfutil "github.com/dharsanguruparan/VaultShop/internal/pdf"
	"github.com/dharsanguruparan/VaultShop/internal/repository"
)

// Store is the part of storage.Router the catalog needs.
type Store interface {
	Put(ctx context.Context, body io.Reader, size int64, name, contentType string) (model.StorageRef, error)
	Delete(ctx context.Context, ref model.StorageRef) error
}

// Content is an uploaded file. Spooled uploads (*os.File) satisfy it.
type Content interface {
	io.Reader
	io.ReaderAt
}

// UploadInput describes a new asset.
type UploadInput struct {
	Title       string
	Price       int64
	ListPrice   *int64
	Category    string
	AuthorID    string
	FileName    string
	ContentType string
	Size        int64
	Body        Content
	Inactive    bool
}

// Service implements the catalog operations.
type Service struct {
	assets repository.AssetRepository
	store  Store
	log    *zap.Logger
}

// New constructs a Service.
func New(assets repository.AssetRepository, store Store, log *zap.Logger) *Service {
	return &Service{assets: assets, store: store, log: log}
}

// Get returns one asset.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.Asset, error) {
	return s.assets.Get(ctx, id)
}

// Upload stores the bytes on the active backend and inserts the record. A
// failed insert removes the stored object again.
func (s *Service) Upload(ctx context.Context, in UploadInput) (*model.Asset, error) {
	in.Title = strings.TrimSpace(in.Title)
	if err := validate(in.Title, in.Price, in.ListPrice); err != nil {
		return nil, err
	}
	if in.Body == nil || in.Size <= 0 {
		return nil, fmt.Errorf("%w: empty file", errs.ErrValidation)
	}
	if in.ContentType == "" {
		in.ContentType = "application/octet-stream"
	}

	var pages int
	if pdfutil.IsPDF(in.ContentType, in.FileName) {
		n, err := pdfutil.Inspect(in.Body, in.Size)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrValidation, err)
		}
		pages = n
	}

	ref, err := s.store.Put(ctx, io.NewSectionReader(in.Body, 0, in.Size), in.Size, in.FileName, in.ContentType)
	if err != nil {
		return nil, fmt.Errorf("store asset: %w", err)
	}

	a := &model.Asset{
		ID:          uuid.New(),
		Title:       in.Title,
		Price:       in.Price,
		ListPrice:   in.ListPrice,
		Category:    in.Category,
		AuthorID:    in.AuthorID,
		Storage:     ref,
		FileName:    in.FileName,
		ContentType: in.ContentType,
		SizeBytes:   in.Size,
		PageCount:   pages,
		Active:      !in.Inactive,
	}
	if err := s.assets.Create(ctx, a); err != nil {
		if derr := s.store.Delete(context.WithoutCancel(ctx), ref); derr != nil {
			s.log.Warn("orphaned object after failed insert",
				zap.String("backend", ref.Backend), zap.String("key", ref.Key), zap.Error(derr))
		}
		return nil, fmt.Errorf("insert asset: %w", err)
	}
	s.log.Info("asset uploaded",
		zap.String("asset_id", a.ID.String()), zap.String("backend", ref.Backend), zap.Int64("bytes", a.SizeBytes))
	return a, nil
}

// Update applies an admin edit.
func (s *Service) Update(ctx context.Context, id uuid.UUID, p model.AssetPatch) (*model.Asset, error) {
	if p.Title != nil {
		t := strings.TrimSpace(*p.Title)
		if t == "" {
			return nil, fmt.Errorf("%w: title required", errs.ErrValidation)
		}
		p.Title = &t
	}
	if p.Price != nil && *p.Price < 0 {
		return nil, fmt.Errorf("%w: negative price", errs.ErrValidation)
	}
	if p.ListPrice != nil && *p.ListPrice < 0 {
		return nil, fmt.Errorf("%w: negative list price", errs.ErrValidation)
	}
	return s.assets.Update(ctx, id, p)
}

// Remove hard-deletes an asset nobody references, then its bytes. Referenced
// assets must be deactivated instead.
func (s *Service) Remove(ctx context.Context, id uuid.UUID) error {
	a, err := s.assets.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.assets.DeleteUnreferenced(ctx, id); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, a.Storage); err != nil {
		s.log.Warn("delete stored object", zap.String("asset_id", id.String()), zap.Error(err))
	}
	return nil
}

// RecordDownload bumps the download total. Failures are logged only.
func (s *Service) RecordDownload(ctx context.Context, id uuid.UUID) {
	if err := s.assets.IncrementDownloads(ctx, id); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("record download", zap.String("asset_id", id.String()), zap.Error(err))
	}
}

func validate(title string, price int64, list *int64) error {
	if title == "" {
		return fmt.Errorf("%w: title required", errs.ErrValidation)
	}
	if price < 0 {
		return fmt.Errorf("%w: negative price", errs.ErrValidation)
	}
	if list != nil && *list < 0 {
		return fmt.Errorf("%w: negative list price", errs.ErrValidation)
	}
	return nil
}
