package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestRequestLogger(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var logs bytes.Buffer
	logger := zerolog.New(&logs)

	router := gin.New()
	router.Use(RequestLogger(logger))
	router.Use(gin.Recovery())

	router.GET("/ok", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	router.GET("/panic", func(c *gin.Context) {
		panic("boom")
	})

	t.Run("LogsRequestAndAssignsRequestID", func(t *testing.T) {
		logs.Reset()

		request, err := http.NewRequest(http.MethodGet, "/ok", nil)
		require.NoError(t, err)

		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, request)

		require.Equal(t, http.StatusOK, recorder.Code)
		require.NotEmpty(t, recorder.Header().Get("X-Request-ID"))

		require.Contains(t, logs.String(), `"level":"info"`)
		require.Contains(t, logs.String(), `"method":"GET"`)
		require.Contains(t, logs.String(), `"path":"/ok"`)
		require.Contains(t, logs.String(), `"status_code":200`)
		require.Contains(t, logs.String(), `"request_id":`)
	})

	t.Run("KeepsClientRequestID", func(t *testing.T) {
		logs.Reset()

		request, err := http.NewRequest(http.MethodGet, "/ok", nil)
		require.NoError(t, err)
		request.Header.Set("X-Request-ID", "client-supplied")

		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, request)

		require.Contains(t, logs.String(), `"request_id":"client-supplied"`)
	})

	t.Run("LogsRecoveredPanicAsError", func(t *testing.T) {
		logs.Reset()

		request, err := http.NewRequest(http.MethodGet, "/panic", nil)
		require.NoError(t, err)

		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, request)

		require.Equal(t, http.StatusInternalServerError, recorder.Code)
		require.Contains(t, logs.String(), `"level":"error"`)
		require.Contains(t, logs.String(), `"status_code":500`)
	})
}
