package middleware

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func echoUser() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, GetUserID(r.Context()))
	})
}

func TestIdentityRequiresHeader(t *testing.T) {
	h := Identity("", nil)(echoUser())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/rooms/dm", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"unauthorized"}`, rec.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/api/rooms/dm", nil)
	req.Header.Set(IdentityHeader, " alice ")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", rec.Body.String())
}

func TestIdentityWithAuthService(t *testing.T) {
	var got map[string]string
	auth := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/internal/validate", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		if got["session_id"] != "s1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"user_id": "alice"})
	}))
	defer auth.Close()

	h := Identity(auth.URL+"/", auth.Client())(echoUser())
	do := func(user, session string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/notifications", nil)
		req.Header.Set(IdentityHeader, user)
		req.Header.Set("X-Session-Id", session)
		req.Header.Set("X-Timestamp", "1700000000")
		req.Header.Set("X-Signature", "sig")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	rec := do("alice", "s1")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "GET", got["method"])
	assert.Equal(t, "/api/notifications", got["path"])

	assert.Equal(t, http.StatusUnauthorized, do("bob", "s1").Code, "header must match the session")
	assert.Equal(t, http.StatusUnauthorized, do("alice", "s2").Code)

	req := httptest.NewRequest(http.MethodGet, "/api/notifications", nil)
	req.Header.Set(IdentityHeader, "alice")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "session headers are required")
}

func TestRecoverJSON(t *testing.T) {
	h := RecoverJSON(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal error"}`, rec.Body.String())
}

func TestRateLimitPerUser(t *testing.T) {
	h := RateLimit(0, 2)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/x", nil)
		req = req.WithContext(WithUserID(req.Context(), "alice"))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{200, 200, http.StatusTooManyRequests}, codes)

	req := httptest.NewRequest(http.MethodGet, "/api/x", nil)
	req = req.WithContext(WithUserID(req.Context(), "bob"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2")
	assert.Equal(t, "10.0.0.1", clientIP(req))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.168.1.5:4000"
	assert.Equal(t, "192.168.1.5", clientIP(req))
}
