package api

import (
	"errors"
	"math"
	"net/http"

	"stock_monitor/internal/filter"
	"stock_monitor/internal/model"
	"stock_monitor/internal/monitor"
	"stock_monitor/internal/registry"
	"stock_monitor/internal/token"
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	res, err := s.snapshots.LoadStatus(r.Context())
	if err != nil {
		s.log.Error("load status", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if res.Changes == nil {
		res.Changes = []model.Change{}
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleProducts(w http.ResponseWriter, r *http.Request) {
	cat, err := s.catalog.FetchAll(r.Context())
	if err != nil {
		s.log.Error("fetch catalog", "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]any{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"products":  cat.Items,
		"total":     cat.Total,
		"lostPages": cat.LostPages,
	})
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	res, err := s.cycle.RunCycle(r.Context())
	if errors.Is(err, monitor.ErrLeaseHeld) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		s.log.Error("manual check", "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleVAPIDKey(w http.ResponseWriter, _ *http.Request) {
	if s.vapidKey == "" {
		writeError(w, http.StatusNotFound, "web push is not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": s.vapidKey})
}

type subscribeRequest struct {
	Subscription    model.PushSubscription `json:"subscription"`
	Keywords        []string               `json:"keywords"`
	ExcludeKeywords []string               `json:"excludeKeywords"`
	TargetPrice     *float64               `json:"targetPrice"`
}

type updateRequest struct {
	Endpoint        string   `json:"endpoint"`
	Keywords        []string `json:"keywords"`
	ExcludeKeywords []string `json:"excludeKeywords"`
	TargetPrice     *float64 `json:"targetPrice"`
}

func validPrice(p *float64) bool {
	return p == nil || (*p > 0 && !math.IsInf(*p, 0) && !math.IsNaN(*p))
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Subscription.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "subscription endpoint is required")
		return
	}
	if !validPrice(req.TargetPrice) {
		writeError(w, http.StatusBadRequest, "targetPrice must be a positive number")
		return
	}

	sub := &model.PushSubscriber{
		Subscription: req.Subscription,
		KeywordFilter: model.KeywordFilter{
			Keywords:        filter.Normalize(req.Keywords),
			ExcludeKeywords: filter.Normalize(req.ExcludeKeywords),
		},
	}
	sub.SetTargetPrice(req.TargetPrice)

	if err := s.registry.RegisterPush(r.Context(), sub); err != nil {
		s.log.Error("register push subscriber", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.log.Info("push subscriber registered", "id", sub.ID, "keywords", sub.Keywords)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "id": sub.ID})
}

func (s *Server) handleUpdateSubscription(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !validPrice(req.TargetPrice) {
		writeError(w, http.StatusBadRequest, "targetPrice must be a positive number")
		return
	}

	sub, err := s.registry.FindPush(r.Context(), req.Endpoint)
	if errors.Is(err, registry.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Subscription not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	sub.Keywords = filter.Normalize(req.Keywords)
	sub.ExcludeKeywords = filter.Normalize(req.ExcludeKeywords)
	if !samePrice(sub.TargetPrice, req.TargetPrice) {
		sub.SetTargetPrice(req.TargetPrice)
	}

	if err := s.registry.Save(r.Context(), sub); err != nil {
		s.log.Error("update push subscriber", "id", sub.ID, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func samePrice(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Endpoint string `json:"endpoint"`
	}
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	removed, err := s.registry.DeletePush(r.Context(), req.Endpoint)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if removed {
		s.log.Info("push subscriber removed")
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleTokenStatus(w http.ResponseWriter, r *http.Request) {
	tok, err := s.tokens.Stored(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := map[string]any{"hasToken": tok != ""}
	if exp := token.Expiry(tok); !exp.IsZero() {
		resp["exp"] = exp.Unix()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSetToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := decode(w, r, &req); err != nil || req.Token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}

	ctx := r.Context()
	before, err := s.catalog.Probe(ctx, "")
	if err != nil {
		s.log.Warn("anonymous catalog probe failed", "error", err)
		before = 0
	}
	after, err := s.catalog.Probe(ctx, req.Token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "token rejected by catalog: "+err.Error())
		return
	}
	if after <= before {
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"error":  "token does not unlock additional items",
			"before": before,
			"after":  after,
		})
		return
	}

	err = s.tokens.Set(ctx, req.Token)
	if errors.Is(err, token.ErrNotLater) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.log.Info("catalog token updated", "before", before, "after", after)
	resp := map[string]any{"ok": true, "before": before, "after": after}
	if exp := token.Expiry(req.Token); !exp.IsZero() {
		resp["exp"] = exp.Unix()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeleteToken(w http.ResponseWriter, r *http.Request) {
	if err := s.tokens.Delete(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
