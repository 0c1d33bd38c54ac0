// Pulsefeed - Feed Ranking and Engagement Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsefeed

package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/pulsefeed/internal/auth"
	"github.com/tomtom215/pulsefeed/internal/config"
	"github.com/tomtom215/pulsefeed/internal/database"
	"github.com/tomtom215/pulsefeed/internal/engage"
	"github.com/tomtom215/pulsefeed/internal/feed"
)

type fakeFeedBuilder struct {
	page      *feed.Page
	err       error
	lastLimit int
}

func (f *fakeFeedBuilder) BuildPage(_ context.Context, _, _ string, limit int) (*feed.Page, error) {
	f.lastLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	return f.page, nil
}

type fakeEngagementService struct {
	result     *database.ToggleResult
	state      *engage.ItemEngagement
	toggleErr  error
	recordErr  error
	stateErr   error
	lastUserID string
	lastKind   string
}

func (f *fakeEngagementService) Toggle(_ context.Context, userID, itemID, kind string) (*database.ToggleResult, error) {
	f.lastUserID = userID
	f.lastKind = kind
	if f.toggleErr != nil {
		return nil, f.toggleErr
	}
	return f.result, nil
}

func (f *fakeEngagementService) RecordInteraction(_ context.Context, userID, _, kind string) error {
	f.lastUserID = userID
	f.lastKind = kind
	return f.recordErr
}

func (f *fakeEngagementService) State(_ context.Context, userID, _ string) (*engage.ItemEngagement, error) {
	f.lastUserID = userID
	if f.stateErr != nil {
		return nil, f.stateErr
	}
	return f.state, nil
}

type fakeRegistry struct {
	publishVersion int64
	publishErr     error
	activateErr    error
	activated      int64
}

func (f *fakeRegistry) Publish(_ context.Context, _ *feed.Params) (int64, error) {
	if f.publishErr != nil {
		return 0, f.publishErr
	}
	return f.publishVersion, nil
}

func (f *fakeRegistry) Activate(_ context.Context, version int64) error {
	if f.activateErr != nil {
		return f.activateErr
	}
	f.activated = version
	return nil
}

func (f *fakeRegistry) Environment() string { return "test" }

type fakeConfigReader struct {
	active  *database.RecoConfigRow
	rows    []database.RecoConfigRow
	readErr error
}

func (f *fakeConfigReader) ActiveRecoConfig(_ context.Context, _ string) (*database.RecoConfigRow, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	return f.active, nil
}

func (f *fakeConfigReader) ListRecoConfigs(_ context.Context, _ string) ([]database.RecoConfigRow, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	return f.rows, nil
}

type fakePinger struct{ err error }

func (f *fakePinger) Ping(_ context.Context) error { return f.err }

func testSecurityConfig() *config.SecurityConfig {
	return &config.SecurityConfig{
		JWTSecret:     "test-secret-key-at-least-32-chars-long",
		AdminUsername: "admin",
		AdminPassword: "correct horse battery staple",
		TokenTTL:      time.Hour,
	}
}

type handlerFixture struct {
	handler *Handler
	engine  *fakeFeedBuilder
	engage  *fakeEngagementService
	reg     *fakeRegistry
	configs *fakeConfigReader
	pinger  *fakePinger
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()

	cfg := testSecurityConfig()
	jwtManager, err := auth.NewJWTManager(cfg)
	if err != nil {
		t.Fatalf("NewJWTManager: %v", err)
	}
	bootstrap, err := auth.NewBootstrapAdmin(cfg)
	if err != nil {
		t.Fatalf("NewBootstrapAdmin: %v", err)
	}

	f := &handlerFixture{
		engine: &fakeFeedBuilder{page: &feed.Page{
			PageID: "page-1",
			Items:  []feed.ScoredItem{{ItemID: "item-1", Score: 0.5}},
		}},
		engage: &fakeEngagementService{
			result: &database.ToggleResult{
				ItemID:      "item-1",
				Kind:        database.KindLike,
				Active:      true,
				LikeCount:   3,
				RepostCount: 1,
				Revision:    7,
			},
			state: &engage.ItemEngagement{
				ItemID:      "item-1",
				IsLiked:     true,
				LikeCount:   3,
				RepostCount: 1,
				Revision:    7,
			},
		},
		reg:     &fakeRegistry{publishVersion: 2},
		configs: &fakeConfigReader{},
		pinger:  &fakePinger{},
	}
	f.handler = NewHandler(f.engine, f.engage, f.reg, f.configs, nil, jwtManager, bootstrap, f.pinger)
	return f
}

func authedRequest(method, target, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	subject := &auth.Subject{ID: "user-1", Username: "user-1", Roles: []string{"user"}}
	return req.WithContext(auth.WithSubject(req.Context(), subject))
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) *APIResponse {
	t.Helper()
	var resp APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response envelope: %v", err)
	}
	return &resp
}

func TestFeedHandler(t *testing.T) {
	t.Run("requires authentication", func(t *testing.T) {
		f := newHandlerFixture(t)
		rec := httptest.NewRecorder()
		f.handler.Feed(rec, httptest.NewRequest(http.MethodGet, "/api/v1/feed", nil))

		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rec.Code)
		}
		resp := decodeEnvelope(t, rec)
		if resp.Error == nil || resp.Error.Code != ErrCodeAuthentication {
			t.Errorf("expected %s error, got %+v", ErrCodeAuthentication, resp.Error)
		}
	})

	t.Run("returns page", func(t *testing.T) {
		f := newHandlerFixture(t)
		rec := httptest.NewRecorder()
		f.handler.Feed(rec, authedRequest(http.MethodGet, "/api/v1/feed", ""))

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		resp := decodeEnvelope(t, rec)
		if resp.Status != "success" {
			t.Errorf("expected success status, got %q", resp.Status)
		}
		if f.engine.lastLimit != defaultFeedLimit {
			t.Errorf("expected default limit %d, got %d", defaultFeedLimit, f.engine.lastLimit)
		}
		if rec.Header().Get("ETag") == "" {
			t.Error("expected ETag header")
		}
	})

	t.Run("caps limit", func(t *testing.T) {
		f := newHandlerFixture(t)
		rec := httptest.NewRecorder()
		f.handler.Feed(rec, authedRequest(http.MethodGet, "/api/v1/feed?limit=500", ""))

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if f.engine.lastLimit != maxFeedLimit {
			t.Errorf("expected limit capped at %d, got %d", maxFeedLimit, f.engine.lastLimit)
		}
	})

	t.Run("rejects invalid limit", func(t *testing.T) {
		f := newHandlerFixture(t)
		for _, raw := range []string{"0", "-1", "abc"} {
			rec := httptest.NewRecorder()
			f.handler.Feed(rec, authedRequest(http.MethodGet, "/api/v1/feed?limit="+raw, ""))
			if rec.Code != http.StatusBadRequest {
				t.Errorf("limit %q: expected 400, got %d", raw, rec.Code)
			}
		}
	})

	t.Run("rejects malformed cursor", func(t *testing.T) {
		f := newHandlerFixture(t)
		rec := httptest.NewRecorder()
		f.handler.Feed(rec, authedRequest(http.MethodGet, "/api/v1/feed?cursor=!!!", ""))

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
		}
		resp := decodeEnvelope(t, rec)
		if resp.Error == nil || resp.Error.Code != ErrCodeValidation {
			t.Errorf("expected %s error, got %+v", ErrCodeValidation, resp.Error)
		}
	})
}

func TestToggleEngagementHandler(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		f := newHandlerFixture(t)
		rec := httptest.NewRecorder()
		f.handler.ToggleEngagement(rec, authedRequest(http.MethodPost,
			"/api/v1/engagements/toggle", `{"item_id":"item-1","kind":"like"}`))

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		if f.engage.lastUserID != "user-1" {
			t.Errorf("expected user-1, got %q", f.engage.lastUserID)
		}

		resp := decodeEnvelope(t, rec)
		data, err := json.Marshal(resp.Data)
		if err != nil {
			t.Fatalf("re-marshal data: %v", err)
		}
		var out toggleResponse
		if err := json.Unmarshal(data, &out); err != nil {
			t.Fatalf("decode toggle response: %v", err)
		}
		if !out.Active || out.LikeCount != 3 || out.Revision != 7 {
			t.Errorf("unexpected toggle response: %+v", out)
		}
	})

	t.Run("maps service errors", func(t *testing.T) {
		tests := []struct {
			name       string
			err        error
			wantStatus int
			wantCode   string
		}{
			{"unauthenticated", engage.ErrUnauthenticated, http.StatusUnauthorized, ErrCodeAuthentication},
			{"rate limited", engage.ErrRateLimited, http.StatusTooManyRequests, ErrCodeRateLimit},
			{"not found", engage.ErrNotFound, http.StatusNotFound, ErrCodeNotFound},
			{"invalid kind", engage.ErrInvalidKind, http.StatusBadRequest, ErrCodeValidation},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				f := newHandlerFixture(t)
				f.engage.toggleErr = tt.err
				rec := httptest.NewRecorder()
				f.handler.ToggleEngagement(rec, authedRequest(http.MethodPost,
					"/api/v1/engagements/toggle", `{"item_id":"item-1","kind":"like"}`))

				if rec.Code != tt.wantStatus {
					t.Errorf("expected %d, got %d", tt.wantStatus, rec.Code)
				}
				resp := decodeEnvelope(t, rec)
				if resp.Error == nil || resp.Error.Code != tt.wantCode {
					t.Errorf("expected code %s, got %+v", tt.wantCode, resp.Error)
				}
			})
		}
	})

	t.Run("rejects missing item_id", func(t *testing.T) {
		f := newHandlerFixture(t)
		rec := httptest.NewRecorder()
		f.handler.ToggleEngagement(rec, authedRequest(http.MethodPost,
			"/api/v1/engagements/toggle", `{"kind":"like"}`))

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("rejects malformed body", func(t *testing.T) {
		f := newHandlerFixture(t)
		rec := httptest.NewRecorder()
		f.handler.ToggleEngagement(rec, authedRequest(http.MethodPost,
			"/api/v1/engagements/toggle", `{not json`))

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("rejects kind outside allowlist", func(t *testing.T) {
		f := newHandlerFixture(t)
		rec := httptest.NewRecorder()
		f.handler.ToggleEngagement(rec, authedRequest(http.MethodPost,
			"/api/v1/engagements/toggle", `{"item_id":"item-1","kind":"bookmark"}`))

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
		resp := decodeEnvelope(t, rec)
		if resp.Error == nil || resp.Error.Code != ErrCodeValidation {
			t.Errorf("expected %s error, got %+v", ErrCodeValidation, resp.Error)
		}
	})
}

func TestEngagementStateHandler(t *testing.T) {
	t.Run("returns viewer state", func(t *testing.T) {
		f := newHandlerFixture(t)
		rec := httptest.NewRecorder()
		req := withChiURLParam(authedRequest(http.MethodGet, "/api/v1/engagements/item-1", ""),
			"itemID", "item-1")
		f.handler.EngagementState(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		resp := decodeEnvelope(t, rec)
		data, err := json.Marshal(resp.Data)
		if err != nil {
			t.Fatalf("re-marshal data: %v", err)
		}
		var out engagementStateResponse
		if err := json.Unmarshal(data, &out); err != nil {
			t.Fatalf("decode state response: %v", err)
		}
		if !out.IsLiked || out.IsReposted || out.LikeCount != 3 || out.Revision != 7 {
			t.Errorf("unexpected state response: %+v", out)
		}
		if f.engage.lastUserID != "user-1" {
			t.Errorf("expected viewer user-1, got %q", f.engage.lastUserID)
		}
	})

	t.Run("maps not found", func(t *testing.T) {
		f := newHandlerFixture(t)
		f.engage.stateErr = engage.ErrNotFound
		rec := httptest.NewRecorder()
		req := withChiURLParam(authedRequest(http.MethodGet, "/api/v1/engagements/nope", ""),
			"itemID", "nope")
		f.handler.EngagementState(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}
	})

	t.Run("requires authentication", func(t *testing.T) {
		f := newHandlerFixture(t)
		rec := httptest.NewRecorder()
		f.handler.EngagementState(rec,
			httptest.NewRequest(http.MethodGet, "/api/v1/engagements/item-1", nil))

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rec.Code)
		}
	})
}

func TestRecordInteractionHandler(t *testing.T) {
	f := newHandlerFixture(t)
	rec := httptest.NewRecorder()
	f.handler.RecordInteraction(rec, authedRequest(http.MethodPost,
		"/api/v1/interactions", `{"item_id":"item-1","kind":"reply"}`))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if f.engage.lastKind != "reply" {
		t.Errorf("expected kind reply, got %q", f.engage.lastKind)
	}
}

func TestLoginHandler(t *testing.T) {
	t.Run("rejects bad credentials", func(t *testing.T) {
		f := newHandlerFixture(t)
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login",
			strings.NewReader(`{"username":"admin","password":"wrong"}`))
		f.handler.Login(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rec.Code)
		}
	})

	t.Run("issues token and cookie", func(t *testing.T) {
		f := newHandlerFixture(t)
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login",
			strings.NewReader(`{"username":"admin","password":"correct horse battery staple"}`))
		f.handler.Login(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}

		resp := decodeEnvelope(t, rec)
		data, err := json.Marshal(resp.Data)
		if err != nil {
			t.Fatalf("re-marshal data: %v", err)
		}
		var out loginResponse
		if err := json.Unmarshal(data, &out); err != nil {
			t.Fatalf("decode login response: %v", err)
		}
		if out.Token == "" {
			t.Error("expected a token")
		}

		var cookie *http.Cookie
		for _, c := range rec.Result().Cookies() {
			if c.Name == "token" {
				cookie = c
			}
		}
		if cookie == nil {
			t.Fatal("expected token cookie")
		}
		if !cookie.HttpOnly {
			t.Error("expected HttpOnly cookie")
		}
	})

	t.Run("rejects when bootstrap admin is unconfigured", func(t *testing.T) {
		f := newHandlerFixture(t)
		f.handler.bootstrap = nil
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login",
			strings.NewReader(`{"username":"admin","password":"anything"}`))
		f.handler.Login(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rec.Code)
		}
	})
}

func TestRecoConfigHandlers(t *testing.T) {
	t.Run("create publishes new version", func(t *testing.T) {
		f := newHandlerFixture(t)
		rec := httptest.NewRecorder()
		f.handler.RecoConfigCreate(rec, authedRequest(http.MethodPost,
			"/api/v1/admin/reco-configs", `{"tau_hours":6,"curiosity_ratio":0.2}`))

		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("create rejects invalid params", func(t *testing.T) {
		f := newHandlerFixture(t)
		rec := httptest.NewRecorder()
		f.handler.RecoConfigCreate(rec, authedRequest(http.MethodPost,
			"/api/v1/admin/reco-configs", `{"tau_hours":-1}`))

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("activate parses version from path", func(t *testing.T) {
		f := newHandlerFixture(t)
		router := NewRouter(f.handler, newTestAuthMiddleware(t), newTestAuthzMiddleware(t), nil).Setup()

		rec := httptest.NewRecorder()
		req := adminRequest(t, http.MethodPost, "/api/v1/admin/reco-configs/3/activate", "")
		router.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		if f.reg.activated != 3 {
			t.Errorf("expected version 3 activated, got %d", f.reg.activated)
		}
	})

	t.Run("activate maps missing version to 404", func(t *testing.T) {
		f := newHandlerFixture(t)
		f.reg.activateErr = database.ErrConfigNotFound

		rec := httptest.NewRecorder()
		req := authedRequest(http.MethodPost, "/api/v1/admin/reco-configs/9/activate", "")
		req = withChiURLParam(req, "version", "9")
		f.handler.RecoConfigActivate(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}
	})

	t.Run("active returns parsed config", func(t *testing.T) {
		f := newHandlerFixture(t)
		f.configs.active = &database.RecoConfigRow{
			Environment: "test",
			Version:     4,
			IsActive:    true,
			ParamsJSON:  `{"tau_hours":12}`,
			CreatedAt:   time.Now(),
		}

		rec := httptest.NewRecorder()
		f.handler.RecoConfigActive(rec, authedRequest(http.MethodGet,
			"/api/v1/admin/reco-configs/active", ""))

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		resp := decodeEnvelope(t, rec)
		data, err := json.Marshal(resp.Data)
		if err != nil {
			t.Fatalf("re-marshal data: %v", err)
		}
		var view recoConfigView
		if err := json.Unmarshal(data, &view); err != nil {
			t.Fatalf("decode config view: %v", err)
		}
		if view.Version != 4 || view.Params.TauHours != 12 {
			t.Errorf("unexpected config view: %+v", view)
		}
	})

	t.Run("active maps no config to 404", func(t *testing.T) {
		f := newHandlerFixture(t)
		f.configs.readErr = database.ErrConfigNotFound

		rec := httptest.NewRecorder()
		f.handler.RecoConfigActive(rec, authedRequest(http.MethodGet,
			"/api/v1/admin/reco-configs/active", ""))

		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}
	})
}

func TestHealthzHandler(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		f := newHandlerFixture(t)
		rec := httptest.NewRecorder()
		f.handler.Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		if rec.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rec.Code)
		}
	})

	t.Run("unhealthy database", func(t *testing.T) {
		f := newHandlerFixture(t)
		f.pinger.err = context.DeadlineExceeded
		rec := httptest.NewRecorder()
		f.handler.Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("expected 503, got %d", rec.Code)
		}
	})
}
