package api

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/isdelr/bookshelf-be/internal/apperror"
	"github.com/isdelr/bookshelf-be/internal/auth"
	"github.com/isdelr/bookshelf-be/internal/database"
	"github.com/isdelr/bookshelf-be/internal/models"
	"github.com/isdelr/bookshelf-be/internal/repository"
	"github.com/isdelr/bookshelf-be/internal/services"
	"github.com/isdelr/bookshelf-be/internal/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// memoryRevoker is an in-process denylist for tests.
type memoryRevoker struct {
	mu      sync.Mutex
	revoked map[string]bool
}

func (m *memoryRevoker) Revoke(_ context.Context, tokenID string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revoked[tokenID] = true
	return nil
}

func (m *memoryRevoker) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.revoked[tokenID], nil
}

func newTestServer(t *testing.T, revoker auth.Revoker) *httptest.Server {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "api.db"), 4)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.Migrate(context.Background(), db))

	hasher, err := auth.NewPasswordHasher(bcrypt.MinCost)
	require.NoError(t, err)
	tokens := auth.NewTokenManager("router-test-secret")

	hub := websocket.NewHub()
	go hub.Run()
	t.Cleanup(hub.Stop)

	events := services.NewEventService(db, hub)
	users := services.NewUserService(repository.NewUserRepository(db), hasher, events)

	deps := Dependencies{
		Users:          users,
		Events:         events,
		Tokens:         tokens,
		Hub:            hub,
		DB:             db,
		AllowedOrigins: []string{"http://localhost:3000"},
	}
	if revoker != nil {
		deps.Revoker = revoker
	}
	deps.Auth = services.NewAuthService(users, tokens, deps.Revoker, events)

	srv := httptest.NewServer(NewRouter(deps))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, srv *httptest.Server, method, path, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func signUp(t *testing.T, srv *httptest.Server, username string) services.AuthResult {
	t.Helper()
	resp := doJSON(t, srv, http.MethodPost, "/api/v1/auth/signup", "", map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": "Password123!",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[services.AuthResult](t, resp)
}

func TestSignUpAndSignIn(t *testing.T) {
	srv := newTestServer(t, nil)

	result := signUp(t, srv, "alice")
	assert.NotEmpty(t, result.Token)
	assert.Equal(t, "alice", result.User.Username)

	resp := doJSON(t, srv, http.MethodPost, "/api/v1/auth/signin", "", map[string]string{
		"login": "alice@example.com", "password": "Password123!",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == auth.TokenCookieName {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)
	signin := decode[services.AuthResult](t, resp)
	assert.Equal(t, result.User.ID, signin.User.ID)
	assert.Equal(t, cookie.Value, signin.Token)
}

func TestSignInFailures(t *testing.T) {
	srv := newTestServer(t, nil)
	signUp(t, srv, "alice")

	wrong := doJSON(t, srv, http.MethodPost, "/api/v1/auth/signin", "", map[string]string{"login": "alice", "password": "Wrong123!x"})
	unknown := doJSON(t, srv, http.MethodPost, "/api/v1/auth/signin", "", map[string]string{"login": "bob", "password": "Password123!"})

	assert.Equal(t, http.StatusUnauthorized, wrong.StatusCode)
	assert.Equal(t, http.StatusUnauthorized, unknown.StatusCode)
	assert.Equal(t, decode[apperror.ErrorResponse](t, wrong), decode[apperror.ErrorResponse](t, unknown))
}

func TestSignUpErrors(t *testing.T) {
	srv := newTestServer(t, nil)
	signUp(t, srv, "alice")

	dup := doJSON(t, srv, http.MethodPost, "/api/v1/auth/signup", "", map[string]string{
		"username": "alice", "email": "other@example.com", "password": "Password123!",
	})
	assert.Equal(t, http.StatusConflict, dup.StatusCode)
	assert.Equal(t, "CONFLICT", decode[apperror.ErrorResponse](t, dup).Code)

	weak := doJSON(t, srv, http.MethodPost, "/api/v1/auth/signup", "", map[string]string{
		"username": "bob", "email": "bob@example.com", "password": "weak",
	})
	assert.Equal(t, http.StatusBadRequest, weak.StatusCode)
	assert.Equal(t, "VALIDATION_FAILED", decode[apperror.ErrorResponse](t, weak).Code)

	empty := doJSON(t, srv, http.MethodPost, "/api/v1/auth/signup", "", nil)
	assert.Equal(t, http.StatusBadRequest, empty.StatusCode)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	srv := newTestServer(t, nil)

	for _, path := range []string{"/api/v1/users/", "/api/v1/users/me", "/api/v1/events"} {
		resp := doJSON(t, srv, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
	}

	resp := doJSON(t, srv, http.MethodGet, "/api/v1/users/", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "UNAUTHORIZED", decode[apperror.ErrorResponse](t, resp).Code)
}

func TestUserRoutes(t *testing.T) {
	srv := newTestServer(t, nil)
	alice := signUp(t, srv, "alice")
	bob := signUp(t, srv, "bob")

	resp := doJSON(t, srv, http.MethodGet, "/api/v1/users/?search=ALI&limit=10", alice.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[models.UserList](t, resp)
	assert.Equal(t, int64(1), list.TotalCount)
	require.Len(t, list.Users, 1)
	assert.Equal(t, alice.User.ID, list.Users[0].ID)

	resp = doJSON(t, srv, http.MethodGet, "/api/v1/users/?page=5", alice.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[models.UserList](t, resp).Users)

	resp = doJSON(t, srv, http.MethodGet, "/api/v1/users/?limit=abc", alice.Token, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doJSON(t, srv, http.MethodGet, "/api/v1/users/me", bob.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, bob.User.ID, decode[models.User](t, resp).ID)

	resp = doJSON(t, srv, http.MethodGet, "/api/v1/users/"+alice.User.ID, bob.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "alice", decode[models.User](t, resp).Username)

	resp = doJSON(t, srv, http.MethodGet, "/api/v1/users/not-a-uuid", bob.Token, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doJSON(t, srv, http.MethodGet, "/api/v1/users/0d6f3c2e-9a55-4f0e-8d6b-5b8f1f5c2a10", bob.Token, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUpdateAndDeleteOwnAccountOnly(t *testing.T) {
	srv := newTestServer(t, nil)
	alice := signUp(t, srv, "alice")
	bob := signUp(t, srv, "bob")

	resp := doJSON(t, srv, http.MethodPut, "/api/v1/users/"+alice.User.ID, bob.Token, map[string]string{"bio": "hijacked"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "FORBIDDEN", decode[apperror.ErrorResponse](t, resp).Code)

	resp = doJSON(t, srv, http.MethodPut, "/api/v1/users/"+alice.User.ID, alice.Token, map[string]string{"bio": "Reads sci-fi"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	updated := decode[models.User](t, resp)
	require.NotNil(t, updated.Bio)
	assert.Equal(t, "Reads sci-fi", *updated.Bio)
	assert.Equal(t, "alice", updated.Username)

	resp = doJSON(t, srv, http.MethodPut, "/api/v1/users/"+alice.User.ID, alice.Token, map[string]string{"username": "bob"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = doJSON(t, srv, http.MethodDelete, "/api/v1/users/"+alice.User.ID, bob.Token, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = doJSON(t, srv, http.MethodDelete, "/api/v1/users/"+alice.User.ID, alice.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, alice.User.ID, decode[map[string]string](t, resp)["deleted_id"])

	resp = doJSON(t, srv, http.MethodGet, "/api/v1/users/"+alice.User.ID, bob.Token, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateUserRoute(t *testing.T) {
	srv := newTestServer(t, nil)
	admin := signUp(t, srv, "admin")

	resp := doJSON(t, srv, http.MethodPost, "/api/v1/users/", admin.Token, map[string]string{
		"username": "carol", "email": "carol@example.com", "password": "Password123!", "first_name": "Carol",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "carol", body["username"])
	assert.Equal(t, "Carol", body["first_name"])
	assert.NotContains(t, body, "password")
	assert.NotContains(t, body, "token")
}

func TestEventsRoute(t *testing.T) {
	srv := newTestServer(t, nil)
	alice := signUp(t, srv, "alice")

	resp := doJSON(t, srv, http.MethodGet, "/api/v1/events?limit=5", alice.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	events := decode[[]models.Event](t, resp)
	require.NotEmpty(t, events)
	assert.Equal(t, models.EventUserSignup, events[0].Type)
}

func TestSignOut(t *testing.T) {
	t.Run("not registered without revocation", func(t *testing.T) {
		srv := newTestServer(t, nil)
		alice := signUp(t, srv, "alice")
		resp := doJSON(t, srv, http.MethodPost, "/api/v1/auth/signout", alice.Token, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("revokes token", func(t *testing.T) {
		srv := newTestServer(t, &memoryRevoker{revoked: map[string]bool{}})
		alice := signUp(t, srv, "alice")

		resp := doJSON(t, srv, http.MethodGet, "/api/v1/users/me", alice.Token, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp = doJSON(t, srv, http.MethodPost, "/api/v1/auth/signout", alice.Token, nil)
		require.Equal(t, http.StatusNoContent, resp.StatusCode)

		resp = doJSON(t, srv, http.MethodGet, "/api/v1/users/me", alice.Token, nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, nil)
	resp := doJSON(t, srv, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "ok", body["database"])
}

func TestActivityFeed(t *testing.T) {
	srv := newTestServer(t, nil)
	alice := signUp(t, srv, "alice")

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws?token=" + alice.Token
	conn, resp, err := gws.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	type envelope struct {
		Action  string          `json:"action"`
		Payload json.RawMessage `json:"payload"`
	}

	// A pong proves the client is registered with the hub.
	require.NoError(t, conn.WriteJSON(map[string]string{"action": "ping"}))
	var msg envelope
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "pong", msg.Action)

	signUp(t, srv, "bob")
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "event", msg.Action)
	var event models.Event
	require.NoError(t, json.Unmarshal(msg.Payload, &event))
	assert.Equal(t, models.EventUserSignup, event.Type)

	_, resp2, err := gws.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/v1/ws", nil)
	require.Error(t, err)
	require.NotNil(t, resp2)
	assert.Equal(t, http.StatusUnauthorized, resp2.StatusCode)
}

func TestResponsesAreCompressed(t *testing.T) {
	srv := newTestServer(t, nil)
	alice := signUp(t, srv, "alice")

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/users/", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+alice.Token)
	req.Header.Set("Accept-Encoding", "gzip")

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "gzip", resp.Header.Get("Content-Encoding"))

	zr, err := gzip.NewReader(resp.Body)
	require.NoError(t, err)
	var list models.UserList
	require.NoError(t, json.NewDecoder(zr).Decode(&list))
	assert.Equal(t, int64(1), list.TotalCount)
}

func TestRequestMiddlewareSetsDeadline(t *testing.T) {
	var (
		deadline time.Time
		ok       bool
	)
	var h http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deadline, ok = r.Context().Deadline()
		w.WriteHeader(http.StatusNoContent)
	})
	mws := requestMiddleware()
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}

	start := time.Now()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.True(t, ok, "request context should carry a deadline")
	assert.WithinDuration(t, start.Add(requestTimeout), deadline, time.Second)
}
