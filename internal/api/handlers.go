package api

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/VaultShop/internal/errs"
	"github.com/dharsanguruparan/VaultShop/internal/identity"
	"github.com/dharsanguruparan/VaultShop/internal/ledger"
	"github.com/dharsanguruparan/VaultShop/internal/model"
)

const maxJSONBytes = 1 << 20

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	status := http.StatusOK
	if s.deps.Ready != nil {
		for name, err := range s.deps.Ready(r.Context()) {
			if err != nil {
				checks[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			checks[name] = "ok"
		}
	}
	writeJSON(w, status, map[string]any{"ready": status == http.StatusOK, "checks": checks})
}

func (s *Server) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	a, err := s.deps.Catalog.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	// Deactivated assets stay visible to admins only.
	if !a.Active && !identity.FromContext(r.Context()).IsAdmin() {
		s.writeError(w, r, errs.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type createIntentRequest struct {
	Token    string      `json:"token"`
	AssetIDs []uuid.UUID `json:"assetIds"`
}

func (s *Server) handleCreateIntent(w http.ResponseWriter, r *http.Request) {
	var req createIntentRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	who := identity.FromContext(r.Context())
	o, err := s.deps.Ledger.CreateIntent(r.Context(), who, ledger.CreateInput{Token: req.Token, AssetIDs: req.AssetIDs})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (s *Server) handleGetIntent(w http.ResponseWriter, r *http.Request) {
	o, err := s.ownedIntent(r, chi.URLParam(r, "token"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// ownedIntent loads an intent visible to the caller. Another buyer's intent
// reads as missing.
func (s *Server) ownedIntent(r *http.Request, token string) (*model.OrderIntent, error) {
	o, err := s.deps.Ledger.GetIntent(r.Context(), token)
	if err != nil {
		return nil, err
	}
	who := identity.FromContext(r.Context())
	if o.BuyerID != who.ID && !who.IsAdmin() {
		return nil, errs.ErrIntentNotFound
	}
	return o, nil
}

type confirmRequest struct {
	PaymentKey string `json:"paymentKey"`
	OrderID    string `json:"orderId"`
	Amount     int64  `json:"amount"`
}

type confirmResponse struct {
	OrderID   string           `json:"orderId"`
	Purchases []model.Purchase `json:"purchases"`
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := s.ownedIntent(r, req.OrderID); err != nil {
		s.writeError(w, r, err)
		return
	}
	ps, err := s.deps.Purchases.Confirm(r.Context(), req.OrderID, req.PaymentKey, req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, confirmResponse{OrderID: req.OrderID, Purchases: ps})
}

func (s *Server) handleListPurchases(w http.ResponseWriter, r *http.Request) {
	ps, err := s.deps.Purchases.ListForBuyer(r.Context(), identity.FromContext(r.Context()).ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if ps == nil {
		ps = []model.Purchase{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"purchases": ps})
}

type downloadLink struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
	Filename  string    `json:"filename"`
	Remaining *int      `json:"remaining,omitempty"`
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	// A range request continues a transfer the buyer already started.
	get := s.deps.Downloads.RequestDownload
	if r.Header.Get("Range") != "" || r.Header.Get("If-Range") != "" {
		get = s.deps.Downloads.ResumeDownload
	}
	g, err := get(r.Context(), identity.FromContext(r.Context()), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	access := g.Access
	defer access.Close()

	if g.Purchase != nil {
		w.Header().Set("X-Downloads-Remaining", fmt.Sprint(g.Remaining))
	}
	if access.IsURL() {
		if r.URL.Query().Get("redirect") == "1" {
			http.Redirect(w, r, access.URL, http.StatusFound)
			return
		}
		link := downloadLink{URL: access.URL, ExpiresAt: access.ExpiresAt, Filename: g.Filename}
		if g.Purchase != nil {
			link.Remaining = &g.Remaining
		}
		writeJSON(w, http.StatusOK, link)
		return
	}

	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": g.Filename}))
	if g.Asset.ContentType != "" {
		w.Header().Set("Content-Type", g.Asset.ContentType)
	}
	if rs, ok := access.Body.(io.ReadSeeker); ok {
		http.ServeContent(w, r, g.Filename, access.ModTime, rs)
		return
	}
	if access.Size > 0 {
		w.Header().Set("Content-Length", fmt.Sprint(access.Size))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, access.Body); err != nil {
		s.log.Warn("stream download", zap.String("asset_id", id.String()), zap.Error(err))
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.deps.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.deps.MaxUploadBytes+maxJSONBytes)
	}
	fields, tmp, err := s.readUpload(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer tmp.cleanup()

	in, err := uploadInput(fields, tmp)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	in.AuthorID = identity.FromContext(r.Context()).ID
	a, err := s.deps.Catalog.Upload(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) handleUpdateAsset(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var patch model.AssetPatch
	if err := decodeJSON(r, &patch); err != nil {
		s.writeError(w, r, err)
		return
	}
	a, err := s.deps.Catalog.Update(r.Context(), id, patch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleRemoveAsset(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.deps.Catalog.Remove(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type migrationRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func (s *Server) handleScheduleMigration(w http.ResponseWriter, r *http.Request) {
	var req migrationRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	req.From, req.To = strings.TrimSpace(req.From), strings.TrimSpace(req.To)
	if req.From == "" || req.To == "" || req.From == req.To {
		s.writeError(w, r, fmt.Errorf("%w: from and to must name two different backends", errs.ErrValidation))
		return
	}
	if s.deps.ScheduleMigration == nil {
		s.writeError(w, r, fmt.Errorf("%w: migrations are not enabled", errs.ErrValidation))
		return
	}
	n, err := s.deps.ScheduleMigration(r.Context(), req.From, req.To)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"from": req.From, "to": req.To, "enqueued": n})
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid %s", errs.ErrNotFound, name)
	}
	return id, nil
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %v", errs.ErrValidation, err)
	}
	return nil
}
