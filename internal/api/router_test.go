package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/code-and-chill/chessmate-sub001/internal/config"
	"github.com/code-and-chill/chessmate-sub001/internal/models"
	"github.com/code-and-chill/chessmate-sub001/internal/pool"
	"github.com/code-and-chill/chessmate-sub001/internal/repository/memory"
	"github.com/code-and-chill/chessmate-sub001/internal/service"
	"github.com/code-and-chill/chessmate-sub001/internal/websocket"
	"github.com/code-and-chill/chessmate-sub001/pkg/clock"
	jwtutil "github.com/code-and-chill/chessmate-sub001/pkg/jwt"
)

type apiFixture struct {
	router *gin.Engine
	jwt    *jwtutil.JWTManager
	store  *memory.Store
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Env:           "test",
		JWTSecret:     "test-secret",
		JWTExpiration: time.Hour,
		ServiceToken:  "svc-token",
	}

	store := memory.NewStore()
	index := pool.NewIndex()
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	logger := zap.NewNop()
	schedule := models.DefaultWideningSchedule()

	proposer := service.NewProposer(store.Tickets(), store.Proposals(), store.Matches(),
		index, nil, nil, clk, 10*time.Second, logger)
	tickets := service.NewTicketService(store.Tickets(), index, nil, proposer, nil,
		clk, schedule, 1, logger)
	challenges := service.NewChallengeService(store.Challenges(), store.Tickets(), nil,
		proposer, clk, 5*time.Minute, logger)

	hub := websocket.NewHub(logger)
	go hub.Run()

	router := SetupRouter(Deps{
		Config:     cfg,
		Tickets:    tickets,
		Proposer:   proposer,
		Challenges: challenges,
		Hub:        hub,
		Logger:     logger,
	})

	return &apiFixture{
		router: router,
		jwt:    jwtutil.NewJWTManager(cfg.JWTSecret, cfg.JWTExpiration),
		store:  store,
	}
}

func (f *apiFixture) token(t *testing.T, userID string) string {
	t.Helper()
	token, err := f.jwt.Generate(userID, "default", userID)
	require.NoError(t, err)
	return token
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func enqueueBody() map[string]any {
	return map[string]any{
		"mode":        "rated",
		"timeControl": map[string]any{"baseSeconds": 300},
		"region":      "ASIA",
	}
}

func decodeTicketID(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Ticket struct {
			TicketID string `json:"ticketId"`
		} `json:"ticket"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Ticket.TicketID)
	return resp.Ticket.TicketID
}

func TestHealthNeedsNoAuth(t *testing.T) {
	f := newAPIFixture(t)
	w := f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthRejections(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/v1/tickets", "", enqueueBody())
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, http.MethodPost, "/v1/tickets", "not-a-jwt", enqueueBody())
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestTicketLifecycleOverHTTP(t *testing.T) {
	f := newAPIFixture(t)
	alice := f.token(t, "u_alice")

	w := f.do(t, http.MethodPost, "/v1/tickets", alice, enqueueBody())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	ticketID := decodeTicketID(t, w)

	// A second active enqueue conflicts.
	w = f.do(t, http.MethodPost, "/v1/tickets", alice, enqueueBody())
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, http.MethodGet, "/v1/tickets/"+ticketID, alice, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodPost, "/v1/tickets/"+ticketID+"/heartbeat", alice, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	// Another user sees nothing, not a 403.
	bob := f.token(t, "u_bob")
	w = f.do(t, http.MethodGet, "/v1/tickets/"+ticketID, bob, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodDelete, "/v1/tickets/"+ticketID, alice, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	// Heartbeating a cancelled ticket reports it gone.
	w = f.do(t, http.MethodPost, "/v1/tickets/"+ticketID+"/heartbeat", alice, nil)
	assert.Equal(t, http.StatusGone, w.Code)
}

func TestCreateTicketValidation(t *testing.T) {
	f := newAPIFixture(t)
	alice := f.token(t, "u_alice")

	body := enqueueBody()
	delete(body, "region")
	w := f.do(t, http.MethodPost, "/v1/tickets", alice, body)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body = enqueueBody()
	body["mode"] = "blitzkrieg"
	w = f.do(t, http.MethodPost, "/v1/tickets", alice, body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIdempotencyKeyReturnsOKOnReplay(t *testing.T) {
	f := newAPIFixture(t)
	alice := f.token(t, "u_alice")

	do := func() *httptest.ResponseRecorder {
		var buf bytes.Buffer
		require.NoError(t, json.NewEncoder(&buf).Encode(enqueueBody()))
		req := httptest.NewRequest(http.MethodPost, "/v1/tickets", &buf)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+alice)
		req.Header.Set("Idempotency-Key", "idem-123")
		w := httptest.NewRecorder()
		f.router.ServeHTTP(w, req)
		return w
	}

	first := do()
	require.Equal(t, http.StatusCreated, first.Code)

	second := do()
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, decodeTicketID(t, first), decodeTicketID(t, second))
}

func TestProposalEndpointsRejectOutsiders(t *testing.T) {
	f := newAPIFixture(t)
	mallory := f.token(t, "u_mallory")

	w := f.do(t, http.MethodPost, "/v1/proposals/p_doesnotexist/accept", mallory, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodPost, "/v1/proposals/p_doesnotexist/decline", mallory, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestChallengeFlowOverHTTP(t *testing.T) {
	f := newAPIFixture(t)
	alice := f.token(t, "u_alice")
	bob := f.token(t, "u_bob")

	body := map[string]any{
		"opponentUserId": "u_bob",
		"mode":           "casual",
		"timeControl":    map[string]any{"baseSeconds": 180},
	}
	w := f.do(t, http.MethodPost, "/v1/challenges", alice, body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created struct {
		Challenge struct {
			ChallengeID string `json:"challengeId"`
		} `json:"challenge"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	w = f.do(t, http.MethodGet, "/v1/challenges/incoming", bob, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var incoming struct {
		Total int `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &incoming))
	assert.Equal(t, 1, incoming.Total)

	w = f.do(t, http.MethodPost, "/v1/challenges/"+created.Challenge.ChallengeID+"/accept", bob, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var accepted struct {
		Match struct {
			MatchID string `json:"matchId"`
		} `json:"match"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &accepted))
	assert.NotEmpty(t, accepted.Match.MatchID)

	// Answered challenges are gone for further answers.
	w = f.do(t, http.MethodPost, "/v1/challenges/"+created.Challenge.ChallengeID+"/decline", bob, nil)
	assert.Equal(t, http.StatusGone, w.Code)
}

func TestSelfChallengeIsBadRequest(t *testing.T) {
	f := newAPIFixture(t)
	alice := f.token(t, "u_alice")

	body := map[string]any{
		"opponentUserId": "u_alice",
		"mode":           "casual",
		"timeControl":    map[string]any{"baseSeconds": 180},
	}
	w := f.do(t, http.MethodPost, "/v1/challenges", alice, body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestActiveTicketEndpointChecksIdentity(t *testing.T) {
	f := newAPIFixture(t)
	alice := f.token(t, "u_alice")

	w := f.do(t, http.MethodGet, "/v1/players/u_alice/active", alice, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	cw := f.do(t, http.MethodPost, "/v1/tickets", alice, enqueueBody())
	require.Equal(t, http.StatusCreated, cw.Code)

	w = f.do(t, http.MethodGet, "/v1/players/u_alice/active", alice, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// Peeking at someone else's queue state is forbidden.
	w = f.do(t, http.MethodGet, "/v1/players/u_bob/active", alice, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestInternalSummaryNeedsServiceToken(t *testing.T) {
	f := newAPIFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/internal/queues/summary", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// A present but wrong token is recognized and refused, not
	// challenged again.
	req = httptest.NewRequest(http.MethodGet, "/internal/queues/summary", nil)
	req.Header.Set("X-Service-Token", "not-the-token")
	w = httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/internal/queues/summary", nil)
	req.Header.Set("X-Service-Token", "svc-token")
	w = httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
