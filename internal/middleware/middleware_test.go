package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/proctor-backend/internal/config"
	"github.com/stemsi/proctor-backend/internal/service"
)

func newAuth() *service.AuthService {
	return service.NewAuthService(&config.Config{JWTSecret: "test-secret", JWTExpiry: time.Hour})
}

func guarded(guard gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", guard, func(c *gin.Context) {
		c.String(http.StatusOK, GetClaims(c).Subject)
	})
	return r
}

func do(r http.Handler, target, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequireParticipant(t *testing.T) {
	auth := newAuth()
	r := guarded(RequireParticipant(auth))

	participant, err := auth.GenerateToken(service.TokenTypeParticipant, 101)
	require.NoError(t, err)
	teacher, err := auth.GenerateToken(service.TokenTypeTeacher, 7)
	require.NoError(t, err)

	w := do(r, "/x", participant)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "101", w.Body.String())

	require.Equal(t, http.StatusForbidden, do(r, "/x", teacher).Code)
	require.Equal(t, http.StatusUnauthorized, do(r, "/x", "garbage").Code)
	require.Equal(t, http.StatusUnauthorized, do(r, "/x", "").Code)

	// Query fallback for EventSource and WebSocket clients.
	require.Equal(t, http.StatusOK, do(r, "/x?token="+participant, "").Code)
}

func TestRequireTeacher(t *testing.T) {
	auth := newAuth()
	r := guarded(RequireTeacher(auth))

	teacher, err := auth.GenerateToken(service.TokenTypeTeacher, 7)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, do(r, "/x", teacher).Code)
}

func TestRateLimiterRefills(t *testing.T) {
	done := make(chan struct{})
	defer close(done)

	rl := NewRateLimiter(2, time.Minute, done)
	now := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return now }

	require.True(t, rl.allow("ip:1"))
	require.True(t, rl.allow("ip:1"))
	require.False(t, rl.allow("ip:1"))
	require.True(t, rl.allow("ip:2"))

	now = now.Add(time.Minute)
	require.True(t, rl.allow("ip:1"))
}
