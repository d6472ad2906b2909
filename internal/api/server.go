// Package api exposes the admin HTTP surface the override editors talk
// to: merged-ruleset previews, override CRUD, snapshot publish, and the
// parity audit. The editors' UI itself lives elsewhere; this is its data
// contract.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/northpeak/aso-bible-cli/internal/audit"
	"github.com/northpeak/aso-bible-cli/internal/merger"
	"github.com/northpeak/aso-bible-cli/internal/model"
	"github.com/northpeak/aso-bible-cli/internal/profile"
	"github.com/northpeak/aso-bible-cli/internal/store"
)

// Server wires the admin routes over the registry and store.
type Server struct {
	registry *profile.Registry
	store    store.Store
	merger   *merger.Merger
	auditor  *audit.Auditor
}

// NewServer creates the admin API server.
func NewServer(reg *profile.Registry, st store.Store, auditConcurrency int) *Server {
	return &Server{
		registry: reg,
		store:    st,
		merger:   merger.New(reg, st),
		auditor:  audit.New(reg, st, auditConcurrency),
	}
}

// Router builds the chi router with CORS for the admin frontend.
func (s *Server) Router(allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/ruleset", s.handleMergePreview)
		r.Get("/overrides", s.handleListOverrides)
		r.Post("/overrides", s.handleUpsertOverride)
		r.Delete("/overrides/{kind}/{id}", s.handleDeactivateOverride)
		r.Get("/snapshots", s.handleListSnapshots)
		r.Post("/publish", s.handlePublish)
		r.Get("/audit", s.handleAudit)
		r.Get("/profiles/verticals", s.handleListVerticals)
		r.Get("/profiles/markets", s.handleListMarkets)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMergePreview(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	target := merger.Target{
		Vertical:       q.Get("vertical"),
		Market:         q.Get("market"),
		OrganizationID: q.Get("organization_id"),
	}
	if target.Vertical == "" {
		writeError(w, http.StatusBadRequest, errors.New("vertical is required"))
		return
	}

	merged, err := s.merger.Merge(r.Context(), target)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, merged)
}

func (s *Server) handleListOverrides(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.OverrideFilter{
		Kind:            model.OverrideKind(q.Get("kind")),
		Scope:           model.Scope(q.Get("scope")),
		Vertical:        q.Get("vertical"),
		Market:          q.Get("market"),
		OrganizationID:  q.Get("organization_id"),
		IncludeInactive: q.Get("include_inactive") == "true",
	}

	rows, err := s.store.ListOverrides(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"overrides": rows, "count": len(rows)})
}

// upsertRequest is the write body for POST /v1/overrides. Payload shape
// depends on kind and is schema-checked before anything touches the store.
type upsertRequest struct {
	Kind           model.OverrideKind `json:"kind"`
	Scope          model.Scope        `json:"scope"`
	Vertical       string             `json:"vertical,omitempty"`
	Market         string             `json:"market,omitempty"`
	OrganizationID string             `json:"organization_id,omitempty"`
	Payload        json.RawMessage    `json:"payload"`
}

func (s *Server) handleUpsertOverride(w http.ResponseWriter, r *http.Request) {
	var req upsertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}

	payload, err := model.DecodePayload(req.Kind, req.Payload)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	rec, err := s.store.UpsertOverride(r.Context(), model.OverrideRecord{
		Scope:          req.Scope,
		Vertical:       req.Vertical,
		Market:         req.Market,
		OrganizationID: req.OrganizationID,
		Payload:        payload,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	zap.L().Info("api: override upserted",
		zap.String("kind", string(req.Kind)),
		zap.String("scope", string(req.Scope)),
		zap.String("id", rec.ID),
		zap.Int("version", rec.Version),
	)
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleDeactivateOverride(w http.ResponseWriter, r *http.Request) {
	kind := model.OverrideKind(chi.URLParam(r, "kind"))
	id := chi.URLParam(r, "id")

	if err := s.store.DeactivateOverride(r.Context(), kind, id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated", "id": id})
}

func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	snaps, err := s.store.ListSnapshots(r.Context(), store.SnapshotFilter{
		Vertical:   q.Get("vertical"),
		Market:     q.Get("market"),
		ActiveOnly: q.Get("active_only") == "true",
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshots": snaps, "count": len(snaps)})
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Vertical string `json:"vertical"`
		Market   string `json:"market"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	if req.Vertical == "" || req.Market == "" {
		writeError(w, http.StatusBadRequest, errors.New("vertical and market are required"))
		return
	}

	snap, err := s.merger.Publish(r.Context(), merger.Target{Vertical: req.Vertical, Market: req.Market})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	report := s.auditor.Run(r.Context())
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleListVerticals(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"verticals": s.registry.AllVerticals()})
}

func (s *Server) handleListMarkets(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"markets": s.registry.AllMarkets()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// writeDomainError maps the error taxonomy onto HTTP statuses. Store
// errors pass through verbatim, code included, so the editor can show the
// raw failure.
func writeDomainError(w http.ResponseWriter, err error) {
	var notFound *model.ProfileNotFoundError
	var validation *model.ValidationError
	var storeErr *model.StoreError

	switch {
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, err)
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, err)
	case errors.As(err, &storeErr):
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"error": err.Error(),
			"code":  storeErr.Code,
		})
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}
