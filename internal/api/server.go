// Package api exposes the storefront pipeline over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/VaultShop/internal/catalog"
	"github.com/dharsanguruparan/VaultShop/internal/entitlement"
	"github.com/dharsanguruparan/VaultShop/internal/identity"
	"github.com/dharsanguruparan/VaultShop/internal/ledger"
	"github.com/dharsanguruparan/VaultShop/internal/metrics"
	"github.com/dharsanguruparan/VaultShop/internal/model"
	"github.com/dharsanguruparan/VaultShop/internal/purchase"
)

// Catalog is the asset surface the API calls.
type Catalog interface {
	Get(ctx context.Context, id uuid.UUID) (*model.Asset, error)
	Upload(ctx context.Context, in catalog.UploadInput) (*model.Asset, error)
	Update(ctx context.Context, id uuid.UUID, p model.AssetPatch) (*model.Asset, error)
	Remove(ctx context.Context, id uuid.UUID) error
}

// Ledger is the intent surface the API calls.
type Ledger interface {
	CreateIntent(ctx context.Context, buyer model.Identity, in ledger.CreateInput) (*model.OrderIntent, error)
	GetIntent(ctx context.Context, token string) (*model.OrderIntent, error)
}

// Purchases is the confirmation surface the API calls.
type Purchases interface {
	Confirm(ctx context.Context, token, paymentKey string, claimedAmount int64) ([]model.Purchase, error)
	ListForBuyer(ctx context.Context, buyerID string) ([]model.Purchase, error)
}

// Downloads is the entitlement surface the API calls.
type Downloads interface {
	RequestDownload(ctx context.Context, who model.Identity, assetID uuid.UUID) (*entitlement.Grant, error)
	ResumeDownload(ctx context.Context, who model.Identity, assetID uuid.UUID) (*entitlement.Grant, error)
}

var (
	_ Catalog   = (*catalog.Service)(nil)
	_ Ledger    = (*ledger.Service)(nil)
	_ Purchases = (*purchase.Service)(nil)
	_ Downloads = (*entitlement.Controller)(nil)
)

// Deps bundles the Server collaborators.
type Deps struct {
	Catalog   Catalog
	Ledger    Ledger
	Purchases Purchases
	Downloads Downloads
	Identity  identity.Provider
	Metrics   *metrics.Metrics
	// Ready reports dependency health for /readyz, keyed by component.
	Ready func(ctx context.Context) map[string]error
	// ScheduleMigration queues the move of every asset on from to to and
	// returns how many were queued.
	ScheduleMigration func(ctx context.Context, from, to string) (int, error)
	Log               *zap.Logger
	Address           string
	MaxUploadBytes    int64
}

// Server exposes HTTP endpoints for the catalog, checkout and downloads.
type Server struct {
	deps   Deps
	log    *zap.Logger
	server *http.Server
	once   sync.Once
}

// New constructs a Server.
func New(d Deps) *Server {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	return &Server{deps: d, log: d.Log}
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.once.Do(func() {
		s.server = &http.Server{
			Addr:              s.deps.Address,
			Handler:           s.Routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}
	})
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
	s.log.Info("api listening", zap.String("address", s.deps.Address))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Routes builds the chi router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(s.loggingMiddleware)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Method(http.MethodGet, "/metrics", s.deps.Metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if s.deps.Identity != nil {
			r.Use(identity.Middleware(s.deps.Identity, s.writeError))
		}
		r.Get("/assets/{id}", s.handleGetAsset)

		r.Group(func(r chi.Router) {
			r.Use(identity.RequireBuyer(s.writeError))
			r.Post("/intents", s.handleCreateIntent)
			r.Get("/intents/{token}", s.handleGetIntent)
			r.Post("/payments/confirm", s.handleConfirm)
			r.Get("/purchases", s.handleListPurchases)
			r.Get("/assets/{id}/download", s.handleDownload)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(identity.RequireRole(model.RoleAdmin, s.writeError))
			r.Post("/assets", s.handleUpload)
			r.Patch("/assets/{id}", s.handleUpdateAsset)
			r.Delete("/assets/{id}", s.handleRemoveAsset)
			r.Post("/storage/migrations", s.handleScheduleMigration)
		})
	})
	return r
}
