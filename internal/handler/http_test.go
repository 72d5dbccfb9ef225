package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/NotIan11/TechELO/internal/auth"
	"github.com/NotIan11/TechELO/internal/config"
	"github.com/NotIan11/TechELO/internal/domain"
	"github.com/NotIan11/TechELO/internal/elo"
	"github.com/NotIan11/TechELO/internal/memstore"
	"github.com/NotIan11/TechELO/internal/service"
	"go.uber.org/zap"
)

type testServer struct {
	t        *testing.T
	handler  *Handler
	router   http.Handler
	verifier *auth.Verifier
	store    *memstore.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Auth.JWTSecret = "test-secret"

	verifier, err := auth.NewVerifier(&cfg.Auth)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	store := memstore.New(memstore.WithUsers("alice", "bob", "carol"))
	matches := service.NewMatchService(store, elo.Default(), nil, &cfg.Match, zap.NewNop())
	boards := service.NewLeaderboardService(nil, store, &cfg.Leaderboard, cfg.Match.InitialRating, zap.NewNop())

	h := NewHandler(matches, boards, verifier, nil, zap.NewNop())
	return &testServer{t: t, handler: h, router: h.Router(), verifier: verifier, store: store}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

func (s *testServer) do(method, path, user string, body interface{}) (int, envelope) {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			s.t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		token, err := s.verifier.Issue(user, time.Hour)
		if err != nil {
			s.t.Fatalf("Issue: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		s.t.Fatalf("decode %s %s response %q: %v", method, path, rec.Body.String(), err)
	}
	return rec.Code, env
}

func decodeData[T any](t *testing.T, env envelope) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(env.Data, &v); err != nil {
		t.Fatalf("decode data %s: %v", env.Data, err)
	}
	return v
}

func (s *testServer) createMatch(challenger, opponent string) domain.Match {
	s.t.Helper()
	status, env := s.do("POST", "/api/v1/matches", challenger, map[string]string{
		"opponent_id": opponent,
		"game_type":   "pool",
	})
	if status != http.StatusCreated {
		s.t.Fatalf("create match: status %d, %s", status, env.Error)
	}
	return decodeData[domain.Match](s.t, env)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	status, env := s.do("GET", "/health", "", nil)
	if status != http.StatusOK || !env.Success {
		t.Fatalf("expected healthy, got %d", status)
	}
}

func TestReadyCheck(t *testing.T) {
	s := newTestServer(t)
	if status, _ := s.do("GET", "/ready", "", nil); status != http.StatusOK {
		t.Fatalf("expected ready with no checks, got %d", status)
	}

	s.handler.AddReadinessCheck("postgres", func(context.Context) error { return errors.New("down") })
	status, env := s.do("GET", "/ready", "", nil)
	if status != http.StatusServiceUnavailable || env.Success {
		t.Fatalf("expected 503, got %d", status)
	}
	if got := decodeData[map[string]string](t, env); got["postgres"] != "unavailable" {
		t.Fatalf("unexpected readiness data: %v", got)
	}
}

func TestRequiresAuthentication(t *testing.T) {
	s := newTestServer(t)

	status, env := s.do("GET", "/api/v1/inbox", "", nil)
	if status != http.StatusUnauthorized || env.Code != "not_authenticated" {
		t.Fatalf("expected 401 not_authenticated, got %d %q", status, env.Code)
	}

	req := httptest.NewRequest("GET", "/api/v1/inbox", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", rec.Code)
	}
}

func TestMatchLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)
	m := s.createMatch("alice", "bob")
	if m.Status != domain.StatusPendingStart || m.ChallengerID != "alice" {
		t.Fatalf("unexpected match: %+v", m)
	}
	base := "/api/v1/matches/" + m.ID

	status, env := s.do("GET", "/api/v1/inbox/count", "bob", nil)
	if status != http.StatusOK {
		t.Fatalf("inbox count: %d", status)
	}
	if got := decodeData[map[string]int](t, env); got["count"] != 1 {
		t.Fatalf("expected 1 inbox item for bob, got %v", got)
	}

	if status, env = s.do("POST", base+"/accept-start", "bob", nil); status != http.StatusOK {
		t.Fatalf("accept start: %d %s", status, env.Error)
	}
	if got := decodeData[domain.Match](t, env); got.Status != domain.StatusInProgress {
		t.Fatalf("expected in_progress, got %s", got.Status)
	}

	if status, _ = s.do("POST", base+"/result", "alice", map[string]string{"winner_id": "alice"}); status != http.StatusOK {
		t.Fatalf("first report: %d", status)
	}
	status, env = s.do("POST", base+"/result", "bob", map[string]string{"winner_id": "alice"})
	if status != http.StatusOK {
		t.Fatalf("second report: %d %s", status, env.Error)
	}
	done := decodeData[domain.Match](t, env)
	if done.Status != domain.StatusCompleted || done.WinnerID != "alice" {
		t.Fatalf("expected completed with alice winning, got %+v", done)
	}
	if done.ChallengerRatingPost == nil || *done.ChallengerRatingPost != 1516 {
		t.Fatalf("expected challenger rating 1516, got %v", done.ChallengerRatingPost)
	}

	status, env = s.do("GET", "/api/v1/ratings/alice/pool", "carol", nil)
	if status != http.StatusOK {
		t.Fatalf("get rating: %d", status)
	}
	if st := decodeData[domain.Standing](t, env); st.Rating != 1516 || st.Wins != 1 {
		t.Fatalf("unexpected standing: %+v", st)
	}

	status, env = s.do("GET", "/api/v1/leaderboards/pool", "carol", nil)
	if status != http.StatusOK {
		t.Fatalf("leaderboard: %d", status)
	}
	page := decodeData[domain.LeaderboardPage](t, env)
	if len(page.Entries) != 2 || page.Entries[0].UserID != "alice" || page.Entries[0].Rank != 1 {
		t.Fatalf("unexpected leaderboard: %+v", page)
	}

	if status, env = s.do("POST", base+"/result", "bob", map[string]string{"winner_id": "bob"}); status != http.StatusConflict || env.Code != "invalid_state" {
		t.Fatalf("expected 409 on completed match, got %d %q", status, env.Code)
	}
}

func TestErrorStatuses(t *testing.T) {
	s := newTestServer(t)
	m := s.createMatch("alice", "bob")
	base := "/api/v1/matches/" + m.ID

	cases := []struct {
		name   string
		method string
		path   string
		user   string
		body   interface{}
		status int
		code   string
	}{
		{"self challenge", "POST", "/api/v1/matches", "alice", map[string]string{"opponent_id": "alice", "game_type": "pool"}, http.StatusBadRequest, "invalid_input"},
		{"unknown game", "POST", "/api/v1/matches", "alice", map[string]string{"opponent_id": "bob", "game_type": "chess"}, http.StatusBadRequest, "invalid_input"},
		{"missing opponent", "POST", "/api/v1/matches", "alice", map[string]string{"game_type": "pool"}, http.StatusBadRequest, "invalid_input"},
		{"malformed body", "POST", "/api/v1/matches", "alice", "{not json", http.StatusBadRequest, "invalid_input"},
		{"unknown opponent", "POST", "/api/v1/matches", "alice", map[string]string{"opponent_id": "mallory", "game_type": "pool"}, http.StatusNotFound, "not_found"},
		{"unknown match", "GET", "/api/v1/matches/nope", "alice", nil, http.StatusNotFound, "not_found"},
		{"outsider", "GET", base, "carol", nil, http.StatusForbidden, "not_authorized"},
		{"result before start", "POST", base + "/result", "alice", map[string]string{"winner_id": "alice"}, http.StatusConflict, "invalid_state"},
		{"missing winner", "POST", base + "/result", "alice", map[string]string{}, http.StatusBadRequest, "invalid_input"},
		{"bad game path", "GET", "/api/v1/leaderboards/darts", "alice", nil, http.StatusBadRequest, "invalid_input"},
		{"bad limit", "GET", "/api/v1/matches?limit=-1", "alice", nil, http.StatusBadRequest, "invalid_input"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, env := s.do(tc.method, tc.path, tc.user, tc.body)
			if status != tc.status || env.Code != tc.code {
				t.Fatalf("expected %d %q, got %d %q (%s)", tc.status, tc.code, status, env.Code, env.Error)
			}
			if env.Success {
				t.Fatalf("error response marked successful")
			}
		})
	}
}

func TestListMatchesAndDecline(t *testing.T) {
	s := newTestServer(t)
	first := s.createMatch("alice", "bob")
	s.createMatch("carol", "alice")

	status, env := s.do("POST", "/api/v1/matches/"+first.ID+"/decline", "bob", nil)
	if status != http.StatusOK {
		t.Fatalf("decline: %d %s", status, env.Error)
	}
	if got := decodeData[domain.Match](t, env); got.Status != domain.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", got.Status)
	}

	status, env = s.do("GET", "/api/v1/matches?limit=10", "alice", nil)
	if status != http.StatusOK {
		t.Fatalf("list: %d", status)
	}
	if got := decodeData[[]domain.Match](t, env); len(got) != 2 {
		t.Fatalf("expected 2 matches for alice, got %d", len(got))
	}

	status, env = s.do("GET", "/api/v1/inbox", "alice", nil)
	if status != http.StatusOK {
		t.Fatalf("inbox: %d", status)
	}
	inbox := decodeData[struct {
		Matches []domain.Match `json:"matches"`
		Count   int            `json:"count"`
	}](t, env)
	if inbox.Count != 1 || inbox.Matches[0].ChallengerID != "carol" {
		t.Fatalf("unexpected inbox: %+v", inbox)
	}
}

func TestClassifyInfrastructure(t *testing.T) {
	cases := map[error]int{
		domain.Infra("get match", errors.New("connection reset")): http.StatusServiceUnavailable,
		domain.Infra("update", domain.ErrVersionConflict):          http.StatusServiceUnavailable,
		domain.ErrChallengeExpired:                                  http.StatusGone,
		fmt.Errorf("wrapped: %w", domain.ErrNotAuthorized):          http.StatusForbidden,
		errors.New("boom"):                                          http.StatusInternalServerError,
	}
	for err, want := range cases {
		if got, _ := classify(err); got != want {
			t.Errorf("classify(%v) = %d, want %d", err, got, want)
		}
	}
}

func TestWebSocketWithoutHub(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.verifier.Issue("alice", time.Hour)
	status, env := s.do("GET", "/ws?token="+token, "", nil)
	if status != http.StatusServiceUnavailable || env.Code != "unavailable" {
		t.Fatalf("expected 503 without hub, got %d %q", status, env.Code)
	}
}
