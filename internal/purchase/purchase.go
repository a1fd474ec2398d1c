// Package purchase turns a gateway-approved payment into purchase records,
// exactly once per intent.
package purchase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dharsanguruparan/VaultShop/internal/errs"
	"github.com/dharsanguruparan/VaultShop/internal/events"
	"github.com/dharsanguruparan/VaultShop/internal/metrics"
	"github.com/dharsanguruparan/VaultShop/internal/model"
	"github.com/dharsanguruparan/VaultShop/internal/payment"
	"github.com/dharsanguruparan/VaultShop/internal/repository"
)

// Service confirms payments.
type Service struct {
	intents   repository.IntentRepository
	purchases repository.PurchaseRepository
	gateway   payment.Gateway
	terms     model.PurchaseTerms
	events    events.Publisher
	metrics   *metrics.Metrics
	log       *zap.Logger
	now       func() time.Time
}

// Deps bundles the Service collaborators. Events and Metrics may be nil.
type Deps struct {
	Intents   repository.IntentRepository
	Purchases repository.PurchaseRepository
	Gateway   payment.Gateway
	Terms     model.PurchaseTerms
	Events    events.Publisher
	Metrics   *metrics.Metrics
	Log       *zap.Logger
}

// New constructs a Service.
func New(d Deps) *Service {
	return &Service{
		intents:   d.Intents,
		purchases: d.Purchases,
		gateway:   d.Gateway,
		terms:     d.Terms,
		events:    d.Events,
		metrics:   d.Metrics,
		log:       d.Log,
		now:       time.Now,
	}
}

// Confirm verifies the payment for token with the gateway and materializes
// one purchase per intent line. Repeated or concurrent calls for the same
// token return the same purchase set.
func (s *Service) Confirm(ctx context.Context, token, paymentKey string, claimedAmount int64) ([]model.Purchase, error) {
	ps, err := s.confirm(ctx, token, paymentKey, claimedAmount)
	switch {
	case errors.Is(err, errs.ErrDuplicateConfirmation):
		s.log.Info("intent already confirmed, returning existing purchases", zap.String("token", token))
		s.metrics.Confirmation(metrics.OutcomeReplayed)
		return ps, nil
	case errors.Is(err, errs.ErrPaymentRejected), errors.Is(err, errs.ErrAmountMismatch):
		s.metrics.Confirmation(metrics.OutcomeRejected)
		return nil, err
	case err != nil:
		s.metrics.Confirmation(metrics.OutcomeError)
		return nil, err
	}
	s.metrics.Confirmation(metrics.OutcomeOK)
	return ps, nil
}

func (s *Service) confirm(ctx context.Context, token, paymentKey string, claimedAmount int64) ([]model.Purchase, error) {
	if paymentKey == "" {
		return nil, fmt.Errorf("%w: payment key required", errs.ErrValidation)
	}
	intent, err := s.intents.Get(ctx, token)
	if err != nil {
		return nil, err
	}
	switch intent.Status {
	case model.IntentConfirmed:
		// The gateway refuses a second confirm of a captured payment, so a
		// replay is answered from the ledger alone.
		ps, err := s.purchases.ListByIntent(ctx, token)
		if err != nil {
			return nil, err
		}
		return ps, errs.ErrDuplicateConfirmation
	case model.IntentExpired:
		return nil, errs.ErrIntentExpired
	}
	if claimedAmount != intent.Total {
		return nil, fmt.Errorf("%w: claimed %d, intent total %d", errs.ErrAmountMismatch, claimedAmount, intent.Total)
	}

	started := s.now()
	res, err := s.gateway.Confirm(ctx, payment.ConfirmRequest{PaymentKey: paymentKey, OrderToken: token, Amount: intent.Total})
	s.metrics.ObserveGateway(s.now().Sub(started).Seconds())
	if err != nil {
		return nil, err
	}
	if !res.Approved {
		ps, captured, err := s.afterRefusal(ctx, token, paymentKey, res)
		if err != nil {
			return ps, err
		}
		res = captured
	}
	if res.Amount != intent.Total {
		s.log.Error("gateway confirmed a different amount",
			zap.String("token", token), zap.Int64("confirmed", res.Amount), zap.Int64("total", intent.Total))
		return nil, fmt.Errorf("%w: gateway confirmed %d, intent total %d", errs.ErrAmountMismatch, res.Amount, intent.Total)
	}

	now := s.now().UTC()
	ps, created, err := s.purchases.ConfirmIntent(ctx, token, paymentKey, model.NewPurchases(intent, s.terms, now), now)
	if err != nil {
		return nil, fmt.Errorf("confirm intent: %w", err)
	}
	if !created {
		return ps, errs.ErrDuplicateConfirmation
	}

	s.log.Info("purchases created",
		zap.String("token", token), zap.String("buyer_id", intent.BuyerID), zap.Int("count", len(ps)))
	events.Emit(ctx, s.events, s.log, events.Event{
		Type: events.TypePurchaseConfirmed,
		Key:  intent.BuyerID,
		At:   now,
		Payload: map[string]any{
			"token":     token,
			"buyerId":   intent.BuyerID,
			"total":     intent.Total,
			"purchases": len(ps),
		},
	})
	return ps, nil
}

// afterRefusal decides what a gateway refusal means. The gateway refuses to
// capture a payment twice, so a refusal may only mean that a concurrent or
// earlier confirmation of the same payment got there first. If that
// confirmation is already recorded its purchases are returned; if the gateway
// reports the payment captured for this order, the captured result is
// returned so the caller can record it.
func (s *Service) afterRefusal(ctx context.Context, token, paymentKey string, refused *payment.Result) ([]model.Purchase, *payment.Result, error) {
	current, err := s.intents.Get(ctx, token)
	if err != nil {
		return nil, nil, err
	}
	if current.Status == model.IntentConfirmed {
		ps, err := s.purchases.ListByIntent(ctx, token)
		if err != nil {
			return nil, nil, err
		}
		return ps, nil, errs.ErrDuplicateConfirmation
	}
	if refused.Code != payment.CodeAlreadyProcessed {
		s.log.Info("payment rejected", zap.String("token", token), zap.String("reason", refused.Reason))
		return nil, nil, fmt.Errorf("%w: %s", errs.ErrPaymentRejected, refused.Reason)
	}

	res, err := s.gateway.Lookup(ctx, paymentKey)
	if err != nil {
		return nil, nil, err
	}
	switch {
	case res.OrderToken != "" && res.OrderToken != token:
		s.log.Warn("payment key belongs to another order",
			zap.String("token", token), zap.String("payment_order", res.OrderToken))
		return nil, nil, fmt.Errorf("%w: payment belongs to another order", errs.ErrPaymentRejected)
	case res.Code != "":
		return nil, nil, fmt.Errorf("%w: %s", errs.ErrPaymentRejected, res.Reason)
	case !res.Approved:
		// Captured elsewhere but not settled yet; the buyer can retry.
		return nil, nil, fmt.Errorf("%w: payment status %s", errs.ErrGatewayUnavailable, res.Status)
	}
	s.log.Info("payment already captured, recording purchases", zap.String("token", token))
	return nil, res, nil
}

// ListForBuyer returns a buyer's purchases, newest first.
func (s *Service) ListForBuyer(ctx context.Context, buyerID string) ([]model.Purchase, error) {
	return s.purchases.ListByBuyer(ctx, buyerID)
}
