// Pulsefeed - Feed Ranking and Engagement Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsefeed

package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/pulsefeed/internal/auth"
	"github.com/tomtom215/pulsefeed/internal/database"
	"github.com/tomtom215/pulsefeed/internal/engage"
	"github.com/tomtom215/pulsefeed/internal/feed"
	"github.com/tomtom215/pulsefeed/internal/logging"
	"github.com/tomtom215/pulsefeed/internal/realtime"
	"github.com/tomtom215/pulsefeed/internal/validation"
)

const (
	defaultFeedLimit = 20
	maxFeedLimit     = 50
)

// FeedBuilder assembles ranked feed pages. *feed.Engine satisfies it.
type FeedBuilder interface {
	BuildPage(ctx context.Context, userID, cursor string, limit int) (*feed.Page, error)
}

// EngagementService is the engagement surface the handlers call.
// *engage.Service satisfies it.
type EngagementService interface {
	Toggle(ctx context.Context, userID, itemID, kind string) (*database.ToggleResult, error)
	RecordInteraction(ctx context.Context, userID, itemID, kind string) error
	State(ctx context.Context, userID, itemID string) (*engage.ItemEngagement, error)
}

// ConfigRegistry manages versioned ranking parameter documents.
// *feed.Registry satisfies it.
type ConfigRegistry interface {
	Publish(ctx context.Context, p *feed.Params) (int64, error)
	Activate(ctx context.Context, version int64) error
	Environment() string
}

// ConfigReader reads persisted config rows for the admin API.
// *database.DB satisfies it.
type ConfigReader interface {
	ActiveRecoConfig(ctx context.Context, environment string) (*database.RecoConfigRow, error)
	ListRecoConfigs(ctx context.Context, environment string) ([]database.RecoConfigRow, error)
}

// Pinger reports storage liveness for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds the dependencies behind the HTTP surface.
type Handler struct {
	engine    FeedBuilder
	engage    EngagementService
	registry  ConfigRegistry
	configs   ConfigReader
	hub       *realtime.Hub
	jwt       *auth.JWTManager
	bootstrap *auth.BootstrapAdmin
	pinger    Pinger
	upgrader  websocket.Upgrader
}

// NewHandler constructs the handler set. bootstrap may be nil when no
// bootstrap admin is configured; Login then rejects every attempt.
func NewHandler(
	engine FeedBuilder,
	engagements EngagementService,
	registry ConfigRegistry,
	configs ConfigReader,
	hub *realtime.Hub,
	jwt *auth.JWTManager,
	bootstrap *auth.BootstrapAdmin,
	pinger Pinger,
) *Handler {
	return &Handler{
		engine:    engine,
		engage:    engagements,
		registry:  registry,
		configs:   configs,
		hub:       hub,
		jwt:       jwt,
		bootstrap: bootstrap,
		pinger:    pinger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(_ *http.Request) bool { return true },
		},
	}
}

type feedQuery struct {
	Limit  int    `json:"limit" validate:"min=1,max=50"`
	Cursor string `json:"cursor" validate:"omitempty,cursor"`
}

// Feed serves GET /api/v1/feed?cursor=...&limit=N.
func (h *Handler) Feed(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	subject := auth.GetSubject(r.Context())
	if subject == nil {
		respondError(w, http.StatusUnauthorized, ErrCodeAuthentication, "authentication required")
		return
	}

	query := feedQuery{
		Limit:  defaultFeedLimit,
		Cursor: r.URL.Query().Get("cursor"),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, ErrCodeValidation, "limit must be an integer")
			return
		}
		// Oversized limits are capped, not rejected.
		if parsed > maxFeedLimit {
			parsed = maxFeedLimit
		}
		query.Limit = parsed
	}
	if verr := validation.ValidateStruct(&query); verr != nil {
		respondError(w, http.StatusBadRequest, ErrCodeValidation, verr.Error())
		return
	}

	page, err := h.engine.BuildPage(r.Context(), subject.ID, query.Cursor, query.Limit)
	if err != nil {
		logging.Error().Err(err).Str("user_id", sanitizeLogValue(subject.ID)).Msg("Feed build failed")
		respondError(w, http.StatusInternalServerError, ErrCodeDatabase, "failed to build feed")
		return
	}

	respondSuccess(w, http.StatusOK, page, start)
}

type toggleRequest struct {
	ItemID string `json:"item_id" validate:"required"`
	Kind   string `json:"kind" validate:"required,oneof=like repost"`
}

type toggleResponse struct {
	ItemID      string `json:"item_id"`
	Kind        string `json:"kind"`
	Active      bool   `json:"active"`
	LikeCount   int64  `json:"like_count"`
	RepostCount int64  `json:"repost_count"`
	Revision    int64  `json:"revision"`
}

// ToggleEngagement serves POST /api/v1/engagements/toggle.
func (h *Handler) ToggleEngagement(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	subject := auth.GetSubject(r.Context())
	if subject == nil {
		respondError(w, http.StatusUnauthorized, ErrCodeAuthentication, "authentication required")
		return
	}

	var req toggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeValidation, "invalid request body")
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		respondError(w, http.StatusBadRequest, ErrCodeValidation, verr.Error())
		return
	}

	result, err := h.engage.Toggle(r.Context(), subject.ID, req.ItemID, req.Kind)
	if err != nil {
		h.respondEngageError(w, err, req.ItemID)
		return
	}

	respondSuccess(w, http.StatusOK, toggleResponse{
		ItemID:      result.ItemID,
		Kind:        result.Kind,
		Active:      result.Active,
		LikeCount:   result.LikeCount,
		RepostCount: result.RepostCount,
		Revision:    result.Revision,
	}, start)
}

type interactionRequest struct {
	ItemID string `json:"item_id" validate:"required"`
	// Interaction kinds are open-ended (reply, click, dwell, ...); the
	// engage service owns the allowlist.
	Kind string `json:"kind" validate:"required"`
}

// RecordInteraction serves POST /api/v1/interactions for non-toggle signals
// such as replies, clicks, and dwell events.
func (h *Handler) RecordInteraction(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	subject := auth.GetSubject(r.Context())
	if subject == nil {
		respondError(w, http.StatusUnauthorized, ErrCodeAuthentication, "authentication required")
		return
	}

	var req interactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeValidation, "invalid request body")
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		respondError(w, http.StatusBadRequest, ErrCodeValidation, verr.Error())
		return
	}

	if err := h.engage.RecordInteraction(r.Context(), subject.ID, req.ItemID, req.Kind); err != nil {
		h.respondEngageError(w, err, req.ItemID)
		return
	}

	respondSuccess(w, http.StatusAccepted, map[string]string{
		"item_id": req.ItemID,
		"kind":    req.Kind,
	}, start)
}

type engagementStateResponse struct {
	ItemID      string `json:"item_id"`
	IsLiked     bool   `json:"is_liked"`
	IsReposted  bool   `json:"is_reposted"`
	LikeCount   int64  `json:"like_count"`
	RepostCount int64  `json:"repost_count"`
	Revision    int64  `json:"revision"`
}

// EngagementState serves GET /api/v1/engagements/{itemID}. Clients seed an
// item's state machine from it when the item enters the working set,
// before the first realtime update arrives.
func (h *Handler) EngagementState(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	subject := auth.GetSubject(r.Context())
	if subject == nil {
		respondError(w, http.StatusUnauthorized, ErrCodeAuthentication, "authentication required")
		return
	}

	itemID := chi.URLParam(r, "itemID")
	if itemID == "" {
		respondError(w, http.StatusBadRequest, ErrCodeValidation, "item_id is required")
		return
	}

	state, err := h.engage.State(r.Context(), subject.ID, itemID)
	if err != nil {
		h.respondEngageError(w, err, itemID)
		return
	}

	respondSuccess(w, http.StatusOK, engagementStateResponse{
		ItemID:      state.ItemID,
		IsLiked:     state.IsLiked,
		IsReposted:  state.IsReposted,
		LikeCount:   state.LikeCount,
		RepostCount: state.RepostCount,
		Revision:    state.Revision,
	}, start)
}

func (h *Handler) respondEngageError(w http.ResponseWriter, err error, itemID string) {
	switch {
	case errors.Is(err, engage.ErrUnauthenticated):
		respondError(w, http.StatusUnauthorized, ErrCodeAuthentication, "authentication required")
	case errors.Is(err, engage.ErrRateLimited):
		respondError(w, http.StatusTooManyRequests, ErrCodeRateLimit, "engagement rate limit exceeded")
	case errors.Is(err, engage.ErrNotFound):
		respondError(w, http.StatusNotFound, ErrCodeNotFound, "item not found")
	case errors.Is(err, engage.ErrInvalidKind):
		respondError(w, http.StatusBadRequest, ErrCodeValidation, "invalid engagement kind")
	default:
		logging.Error().Err(err).Str("item_id", sanitizeLogValue(itemID)).Msg("Engagement operation failed")
		respondError(w, http.StatusInternalServerError, ErrCodeDatabase, "engagement operation failed")
	}
}

// WebSocket serves GET /ws, upgrading the connection and handing it to the
// realtime hub. The subscribe/counter_update protocol lives in the realtime
// package.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	subject := auth.GetSubject(r.Context())
	if subject == nil {
		respondError(w, http.StatusUnauthorized, ErrCodeAuthentication, "authentication required")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote an HTTP error to the client.
		logging.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := realtime.NewClient(h.hub, conn)
	h.hub.Register <- client
	client.Start()

	logging.Debug().
		Str("user_id", sanitizeLogValue(subject.ID)).
		Msg("WebSocket client connected")
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	Username  string    `json:"username"`
	Roles     []string  `json:"roles"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Login serves POST /api/v1/auth/login against the bootstrap admin account.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeValidation, "invalid request body")
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		respondError(w, http.StatusBadRequest, ErrCodeValidation, verr.Error())
		return
	}

	if err := h.bootstrap.Verify(req.Username, req.Password); err != nil {
		logging.Warn().
			Str("username", sanitizeLogValue(req.Username)).
			Str("remote_addr", r.RemoteAddr).
			Msg("Login attempt rejected")
		respondError(w, http.StatusUnauthorized, ErrCodeAuthentication, "invalid credentials")
		return
	}

	subject := h.bootstrap.Subject()
	token, err := h.jwt.GenerateToken(subject.ID, subject.Username, subject.Roles)
	if err != nil {
		logging.Error().Err(err).Msg("Token generation failed")
		respondError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to generate token")
		return
	}

	claims, err := h.jwt.ValidateToken(token)
	if err != nil {
		respondError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to generate token")
		return
	}

	// Cookie carries the token for the websocket path, where clients cannot
	// set an Authorization header.
	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    token,
		Path:     "/",
		Expires:  claims.ExpiresAt.Time,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})

	respondSuccess(w, http.StatusOK, loginResponse{
		Token:     token,
		Username:  subject.Username,
		Roles:     subject.Roles,
		ExpiresAt: claims.ExpiresAt.Time,
	}, start)
}

type recoConfigView struct {
	Environment string      `json:"environment"`
	Version     int64       `json:"version"`
	IsActive    bool        `json:"is_active"`
	Params      feed.Params `json:"params"`
	CreatedAt   time.Time   `json:"created_at"`
	ActivatedAt *time.Time  `json:"activated_at,omitempty"`
}

func toRecoConfigView(row *database.RecoConfigRow) (*recoConfigView, error) {
	params, err := feed.ParseParams(row.ParamsJSON)
	if err != nil {
		return nil, err
	}
	return &recoConfigView{
		Environment: row.Environment,
		Version:     row.Version,
		IsActive:    row.IsActive,
		Params:      *params,
		CreatedAt:   row.CreatedAt,
		ActivatedAt: row.ActivatedAt,
	}, nil
}

// RecoConfigCreate serves POST /api/v1/admin/reco-configs. The body is a
// full parameter document; it is validated before being stored inactive.
func (h *Handler) RecoConfigCreate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	// Decode over defaults so a partial document only overrides the fields
	// it names, same as stored configs are parsed.
	params := feed.DefaultParams()
	if err := json.NewDecoder(r.Body).Decode(params); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeValidation, "invalid request body")
		return
	}
	if err := params.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}

	version, err := h.registry.Publish(r.Context(), params)
	if err != nil {
		logging.Error().Err(err).Msg("Config publish failed")
		respondError(w, http.StatusInternalServerError, ErrCodeDatabase, "failed to publish config")
		return
	}

	respondSuccess(w, http.StatusCreated, map[string]interface{}{
		"environment": h.registry.Environment(),
		"version":     version,
	}, start)
}

// RecoConfigActivate serves POST /api/v1/admin/reco-configs/{version}/activate.
func (h *Handler) RecoConfigActivate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	version, err := strconv.ParseInt(chi.URLParam(r, "version"), 10, 64)
	if err != nil || version < 1 {
		respondError(w, http.StatusBadRequest, ErrCodeValidation, "version must be a positive integer")
		return
	}

	if err := h.registry.Activate(r.Context(), version); err != nil {
		if errors.Is(err, database.ErrConfigNotFound) {
			respondError(w, http.StatusNotFound, ErrCodeNotFound, "config version not found")
			return
		}
		logging.Error().Err(err).Int64("version", version).Msg("Config activation failed")
		respondError(w, http.StatusInternalServerError, ErrCodeDatabase, "failed to activate config")
		return
	}

	respondSuccess(w, http.StatusOK, map[string]interface{}{
		"environment": h.registry.Environment(),
		"version":     version,
		"active":      true,
	}, start)
}

// RecoConfigActive serves GET /api/v1/admin/reco-configs/active.
func (h *Handler) RecoConfigActive(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	row, err := h.configs.ActiveRecoConfig(r.Context(), h.registry.Environment())
	if err != nil {
		if errors.Is(err, database.ErrConfigNotFound) {
			respondError(w, http.StatusNotFound, ErrCodeNotFound, "no active config")
			return
		}
		logging.Error().Err(err).Msg("Active config lookup failed")
		respondError(w, http.StatusInternalServerError, ErrCodeDatabase, "failed to load active config")
		return
	}

	view, err := toRecoConfigView(row)
	if err != nil {
		logging.Error().Err(err).Int64("version", row.Version).Msg("Stored config is unparseable")
		respondError(w, http.StatusInternalServerError, ErrCodeInternal, "stored config is unparseable")
		return
	}

	respondSuccess(w, http.StatusOK, view, start)
}

// RecoConfigList serves GET /api/v1/admin/reco-configs.
func (h *Handler) RecoConfigList(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	rows, err := h.configs.ListRecoConfigs(r.Context(), h.registry.Environment())
	if err != nil {
		logging.Error().Err(err).Msg("Config list failed")
		respondError(w, http.StatusInternalServerError, ErrCodeDatabase, "failed to list configs")
		return
	}

	views := make([]*recoConfigView, 0, len(rows))
	for i := range rows {
		view, err := toRecoConfigView(&rows[i])
		if err != nil {
			logging.Warn().Err(err).Int64("version", rows[i].Version).Msg("Skipping unparseable config row")
			continue
		}
		views = append(views, view)
	}

	respondSuccess(w, http.StatusOK, views, start)
}

// Healthz serves GET /healthz.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.pinger.Ping(ctx); err != nil {
		respondError(w, http.StatusServiceUnavailable, ErrCodeDatabase, "database unavailable")
		return
	}

	respondSuccess(w, http.StatusOK, map[string]string{"status": "healthy"}, time.Now())
}
