package response

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/proctor-backend/internal/service"
)

func TestClassifyWrappedErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   ErrCode
	}{
		{fmt.Errorf("load: %w", service.ErrAttemptNotFound), http.StatusNotFound, ErrAttemptNotFound},
		{service.ErrForbidden, http.StatusForbidden, ErrForbidden},
		{service.ErrAttemptAlreadySubmitted, http.StatusConflict, ErrAttemptAlreadySubmitted},
		{fmt.Errorf("%w: no questions", service.ErrSnapshotBuildFailed), http.StatusServiceUnavailable, ErrSnapshotBuildFailed},
		{fmt.Errorf("boom"), http.StatusInternalServerError, ErrInternal},
	}
	for _, tc := range cases {
		status, code := Classify(tc.err)
		require.Equal(t, tc.status, status, tc.err.Error())
		require.Equal(t, tc.code, code, tc.err.Error())
	}
}

func TestFailErrWritesEnvelope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.GET("/x", func(c *gin.Context) {
		FailErr(c, service.ErrSessionNotActive)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-ID", "not-a-uuid")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusConflict, w.Code)
	var body Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, ErrSessionNotActive, body.Error.Code)
	require.NotEqual(t, "not-a-uuid", body.Metadata.RequestID)
	require.Equal(t, w.Header().Get("X-Request-ID"), body.Metadata.RequestID)
}
