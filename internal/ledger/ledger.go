// Package ledger records order intents: the cart a buyer declared, priced at
// the moment of declaration, under a token the payment gateway echoes back.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/VaultShop/internal/errs"
	"github.com/dharsanguruparan/VaultShop/internal/metrics"
	"github.com/dharsanguruparan/VaultShop/internal/model"
	"github.com/dharsanguruparan/VaultShop/internal/repository"
)

const (
	// MaxCartLines bounds the number of lines in one intent.
	MaxCartLines = 50
	// tokenAttempts is how often a server-generated token is retried after
	// a collision.
	tokenAttempts = 3
)

// CreateInput is a declared cart. Token is optional; when empty the ledger
// generates one.
type CreateInput struct {
	Token    string
	AssetIDs []uuid.UUID
}

// Service creates and reads order intents.
type Service struct {
	intents repository.IntentRepository
	assets  repository.AssetRepository
	ttl     time.Duration
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	token   func() string
}

// New constructs a Service. ttl is how long a pending intent stays payable.
func New(intents repository.IntentRepository, assets repository.AssetRepository, ttl time.Duration, log *zap.Logger) *Service {
	return &Service{intents: intents, assets: assets, ttl: ttl, log: log, now: time.Now, token: NewToken}
}

// WithMetrics attaches counters and returns s.
func (s *Service) WithMetrics(m *metrics.Metrics) *Service {
	s.metrics = m
	return s
}

// CreateIntent validates the cart, snapshots line prices and persists the
// intent. The returned intent is durable before the caller redirects anyone
// to the gateway.
func (s *Service) CreateIntent(ctx context.Context, buyer model.Identity, in CreateInput) (*model.OrderIntent, error) {
	if buyer.Anonymous() {
		return nil, errs.ErrUnauthorized
	}
	if err := checkCart(in.AssetIDs); err != nil {
		return nil, err
	}
	if in.Token != "" && !ValidClientToken(in.Token) {
		return nil, fmt.Errorf("%w: malformed token", errs.ErrInvalidCart)
	}

	lines := make([]model.IntentLine, 0, len(in.AssetIDs))
	var total int64
	for i, id := range in.AssetIDs {
		a, err := s.assets.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("asset %s: %w", id, err)
		}
		if !a.Active || a.IsFree() {
			return nil, fmt.Errorf("asset %s: %w", id, errs.ErrAssetUnavailable)
		}
		lines = append(lines, model.IntentLine{LineNo: i + 1, AssetID: a.ID, UnitPrice: a.Price})
		total += a.Price
	}

	intent := &model.OrderIntent{
		BuyerID:    buyer.ID,
		BuyerEmail: buyer.Email,
		Lines:      lines,
		Total:      total,
		Status:     model.IntentPending,
		CreatedAt:  s.now().UTC(),
	}

	if in.Token != "" {
		intent.Token = in.Token
		if err := s.intents.Create(ctx, intent); err != nil {
			return nil, fmt.Errorf("create intent: %w", err)
		}
		s.logCreated(intent)
		return intent, nil
	}

	for attempt := 1; ; attempt++ {
		intent.Token = s.token()
		err := s.intents.Create(ctx, intent)
		if err == nil {
			break
		}
		if !errors.Is(err, errs.ErrTokenCollision) || attempt >= tokenAttempts {
			return nil, fmt.Errorf("create intent: %w", err)
		}
		s.log.Warn("order token collision, regenerating", zap.Int("attempt", attempt))
	}
	s.logCreated(intent)
	return intent, nil
}

// GetIntent returns the intent for token.
func (s *Service) GetIntent(ctx context.Context, token string) (*model.OrderIntent, error) {
	if token == "" {
		return nil, errs.ErrIntentNotFound
	}
	return s.intents.Get(ctx, token)
}

// ExpireStale marks pending intents older than the TTL as expired.
func (s *Service) ExpireStale(ctx context.Context) (int64, error) {
	cutoff := s.now().UTC().Add(-s.ttl)
	n, err := s.intents.ExpirePending(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("expired stale intents", zap.Int64("count", n), zap.Time("cutoff", cutoff))
	}
	return n, nil
}

func (s *Service) logCreated(o *model.OrderIntent) {
	s.metrics.IntentCreated()
	s.log.Info("intent created",
		zap.String("token", o.Token),
		zap.String("buyer_id", o.BuyerID),
		zap.Int("lines", len(o.Lines)),
		zap.Int64("total", o.Total))
}

func checkCart(ids []uuid.UUID) error {
	if len(ids) == 0 {
		return fmt.Errorf("%w: empty cart", errs.ErrInvalidCart)
	}
	if len(ids) > MaxCartLines {
		return fmt.Errorf("%w: more than %d lines", errs.ErrInvalidCart, MaxCartLines)
	}
	seen := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: duplicate asset %s", errs.ErrInvalidCart, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}
