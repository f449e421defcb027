package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func init() { gin.SetMode(gin.TestMode) }

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequestID(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, GetRequestID(c)) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	w := serve(r, req)
	require.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))
	require.Equal(t, "abc-123", w.Body.String())

	for _, bad := range []string{"", strings.Repeat("x", 65), "has space"} {
		req = httptest.NewRequest(http.MethodGet, "/", nil)
		if bad != "" {
			req.Header.Set(RequestIDHeader, bad)
		}
		w = serve(r, req)
		got := w.Header().Get(RequestIDHeader)
		require.Len(t, got, 36, bad)
		require.NotEqual(t, bad, got)
	}
}

func TestRequireValidID(t *testing.T) {
	r := gin.New()
	r.GET("/:id", RequireValidID(), func(c *gin.Context) {
		c.String(http.StatusOK, strconv.FormatInt(GetID(c), 10))
	})

	w := serve(r, httptest.NewRequest(http.MethodGet, "/42", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "42", w.Body.String())

	for _, bad := range []string{"0", "-1", "abc", "1.5"} {
		w = serve(r, httptest.NewRequest(http.MethodGet, "/"+bad, nil))
		require.Equal(t, http.StatusBadRequest, w.Code, bad)
	}
}

func TestLimitConcurrentRequests(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})

	r := gin.New()
	r.Use(LimitConcurrentRequests(1))
	r.GET("/", func(c *gin.Context) {
		if c.Query("block") == "1" {
			close(entered)
			<-release
		}
		c.Status(http.StatusOK)
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		serve(r, httptest.NewRequest(http.MethodGet, "/?block=1", nil))
	}()
	<-entered

	w := serve(r, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, "1", w.Header().Get("Retry-After"))

	close(release)
	wg.Wait()

	w = serve(r, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, w.Code)
}

func TestAccessLog(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)

	r := gin.New()
	r.Use(RequestID(), AccessLog(zap.New(core)))
	r.GET("/ok/:id", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/fail", func(c *gin.Context) {
		c.Error(http.ErrMissingFile)
		c.Status(http.StatusInternalServerError)
	})

	serve(r, httptest.NewRequest(http.MethodGet, "/ok/7", nil))
	serve(r, httptest.NewRequest(http.MethodGet, "/fail", nil))

	entries := logs.All()
	require.Len(t, entries, 2)

	require.Equal(t, zap.InfoLevel, entries[0].Level)
	require.Equal(t, "/ok/:id", entries[0].ContextMap()["route"])
	require.NotEmpty(t, entries[0].ContextMap()["request_id"])

	require.Equal(t, zap.ErrorLevel, entries[1].Level)
	require.Equal(t, http.ErrMissingFile.Error(), entries[1].ContextMap()["error"])
}
