package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"khip-entitlements/internal/domain"
	"khip-entitlements/internal/domain/model"
	"khip-entitlements/internal/infra/logging"
	"khip-entitlements/internal/usecase"
)

const maxBody = 1 << 16

// decode reads a JSON body. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: malformed body: %v", domain.ErrValidation, err)
	}
	return nil
}

// ===== Checkout =====

func (s *Server) handleCreatePurchase(w http.ResponseWriter, r *http.Request) {
	var in usecase.CreatePurchaseInput
	if err := decode(r, &in); err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	p, err := s.deps.Purchases.Create(r.Context(), in)
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// ===== Current user =====

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Purchases.History(r.Context(), userFrom(r.Context()))
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	if list == nil {
		list = []*model.Purchase{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.deps.Purchases.Summary(r.Context(), userFrom(r.Context()), s.now())
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleEntitlements(w http.ResponseWriter, r *http.Request) {
	ent, err := s.deps.Entitlements.Snapshot(r.Context(), userFrom(r.Context()), s.now())
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, ent)
}

// handleAccess always answers 200; a denial is a decision, not an error.
func (s *Server) handleAccess(w http.ResponseWriter, r *http.Request) {
	d := s.deps.Access.Authorize(r.Context(), userFrom(r.Context()), chi.URLParam(r, "companyID"), s.now())
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleStartTrial(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Purchases.StartTrial(r.Context(), userFrom(r.Context()))
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// ===== Admin =====

func (s *Server) handleAllPurchases(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Queue.AllPurchases(r.Context())
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	if list == nil {
		list = []*model.Purchase{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	items, err := s.deps.Queue.PendingQueue(r.Context(), s.now())
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	if items == nil {
		items = []usecase.QueueItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleQueueCounts(w http.ResponseWriter, r *http.Request) {
	c, err := s.deps.Queue.Counts(r.Context(), s.now())
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleGenerateDraft(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := logging.WithPurchaseID(r.Context(), id)
	res, err := s.deps.Queue.GenerateDraft(ctx, id, s.now())
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type deliverRequest struct {
	// ReportURL defaults to the standard report location when omitted.
	ReportURL *string `json:"reportUrl"`
}

func (s *Server) handleDeliver(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := logging.WithPurchaseID(r.Context(), id)
	var req deliverRequest
	if err := decode(r, &req); err != nil {
		s.writeError(ctx, w, err)
		return
	}
	url := model.DefaultReportURL(id)
	if req.ReportURL != nil {
		url = *req.ReportURL
	}
	res, err := s.deps.Queue.ApproveAndDeliver(ctx, id, url, s.now())
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type failRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleFail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := logging.WithPurchaseID(r.Context(), id)
	var req failRequest
	if err := decode(r, &req); err != nil {
		s.writeError(ctx, w, err)
		return
	}
	res, err := s.deps.Queue.MarkFailed(ctx, id, req.Reason, s.now())
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
