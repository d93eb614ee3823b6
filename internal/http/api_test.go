package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"passe/internal/domain"
	"passe/internal/service"
	"passe/internal/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestRouter(t *testing.T, opts Options) *gin.Engine {
	t.Helper()
	opts.Logger = quietLogger()
	mem := storage.NewMemory()
	users, err := service.NewUserDB(context.Background(), mem, service.UserDBOptions{Iterations: 1, Logger: opts.Logger})
	require.NoError(t, err)
	domains := service.NewDomainDB(mem, opts.Logger)

	router := gin.New()
	NewHandler(users, domains, opts).RegisterRoutes(router)
	return router
}

func do(router http.Handler, method, path string, body any, authHeader string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func bearerHeader(t *testing.T, a domain.Authentication) string {
	t.Helper()
	data, err := json.Marshal(a)
	require.NoError(t, err)
	return string(data)
}

func registerAlice(t *testing.T, router http.Handler) domain.Authentication {
	t.Helper()
	rec := do(router, http.MethodPost, "/register", domain.LoginRequest{User: "alice", Password: "pw1"}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var a domain.Authentication
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &a))
	return a
}

func TestRegister(t *testing.T) {
	router := newTestRouter(t, Options{})

	a := registerAlice(t, router)
	assert.Equal(t, "alice", a.User)
	assert.NotEmpty(t, a.Token)

	rec := do(router, http.MethodPost, "/register", domain.LoginRequest{User: "alice", Password: "other"}, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Empty(t, rec.Body.String())

	rec = do(router, http.MethodPost, "/register", map[string]string{"user": "bob"}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(router, http.MethodPost, "/register", domain.LoginRequest{User: "../bob", Password: "pw"}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogin(t *testing.T) {
	router := newTestRouter(t, Options{})
	registerAlice(t, router)

	rec := do(router, http.MethodPost, "/login", domain.LoginRequest{User: "alice", Password: "pw1"}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var a domain.Authentication
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &a))
	assert.Equal(t, "alice", a.User)

	for _, req := range []domain.LoginRequest{
		{User: "alice", Password: "wrong"},
		{User: "nobody", Password: "pw1"},
	} {
		rec = do(router, http.MethodPost, "/login", req, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Empty(t, rec.Body.String())
	}
}

func TestAuthenticate(t *testing.T) {
	router := newTestRouter(t, Options{})
	a := registerAlice(t, router)

	rec := do(router, http.MethodPost, "/authenticate", nil, bearerHeader(t, a))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(router, http.MethodPost, "/authenticate", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(router, http.MethodPost, "/authenticate", nil, "Bearer abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(router, http.MethodPost, "/authenticate", nil, bearerHeader(t, domain.Authentication{User: "alice", Token: "bogus"}))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, rec.Body.String())

	rec = do(router, http.MethodPost, "/authenticate", nil, bearerHeader(t, domain.Authentication{User: "bob", Token: a.Token}))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDomainsRoundTrip(t *testing.T) {
	router := newTestRouter(t, Options{})
	header := bearerHeader(t, registerAlice(t, router))

	rec := do(router, http.MethodGet, "/db", nil, header)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{}`, rec.Body.String())

	changes := domain.Changes{
		"a.com": domain.Set(domain.DomainConfig{Length: 12}),
		"b.com": domain.Set(domain.DomainConfig{Length: 10, Note: "work"}),
	}
	rec = do(router, http.MethodPost, "/db", changes, header)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"a.com":{"length":12},"b.com":{"length":10,"note":"work"}}`, rec.Body.String())

	rec = do(router, http.MethodPost, "/db", domain.Changes{"b.com": domain.Delete()}, header)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(router, http.MethodGet, "/db", nil, header)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"a.com":{"length":12}}`, rec.Body.String())
}

func TestPostDomainsRejectsBadInput(t *testing.T) {
	router := newTestRouter(t, Options{})
	header := bearerHeader(t, registerAlice(t, router))

	rec := do(router, http.MethodPost, "/db", domain.Changes{"a.com": domain.Set(domain.DomainConfig{Length: 0})}, header)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(router, http.MethodPost, "/db", map[string]string{"a.com": "Remove"}, header)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(router, http.MethodGet, "/db", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRateLimit(t *testing.T) {
	router := newTestRouter(t, Options{RateLimit: 0.001, RateBurst: 2})

	req := domain.LoginRequest{User: "alice", Password: "pw1"}
	assert.Equal(t, http.StatusUnauthorized, do(router, http.MethodPost, "/login", req, "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(router, http.MethodPost, "/login", req, "").Code)
	assert.Equal(t, http.StatusTooManyRequests, do(router, http.MethodPost, "/login", req, "").Code)

	// authenticated routes are not limited
	assert.Equal(t, http.StatusBadRequest, do(router, http.MethodGet, "/db", nil, "").Code)
}

func loginFrom(router http.Handler, forwardedFor string) int {
	data, _ := json.Marshal(domain.LoginRequest{User: "alice", Password: "pw1"})
	req := httptest.NewRequest(http.MethodPost, "/login", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", forwardedFor)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec.Code
}

func TestRateLimit_IgnoresForwardedForByDefault(t *testing.T) {
	router := newTestRouter(t, Options{RateLimit: 0.001, RateBurst: 2})

	var codes []int
	for i := range 4 {
		codes = append(codes, loginFrom(router, fmt.Sprintf("203.0.113.%d", i+1)))
	}
	assert.Equal(t, []int{
		http.StatusUnauthorized,
		http.StatusUnauthorized,
		http.StatusTooManyRequests,
		http.StatusTooManyRequests,
	}, codes)
}

func TestRateLimit_TrustedProxyForwardsClientIP(t *testing.T) {
	// httptest requests come from 192.0.2.1
	router := newTestRouter(t, Options{RateLimit: 0.001, RateBurst: 1, TrustedProxies: []string{"192.0.2.1"}})

	assert.Equal(t, http.StatusUnauthorized, loginFrom(router, "203.0.113.1"))
	assert.Equal(t, http.StatusUnauthorized, loginFrom(router, "203.0.113.2"))
	assert.Equal(t, http.StatusTooManyRequests, loginFrom(router, "203.0.113.1"))
}

func TestRateLimit_InvalidTrustedProxiesTrustNone(t *testing.T) {
	router := newTestRouter(t, Options{RateLimit: 0.001, RateBurst: 1, TrustedProxies: []string{"not-an-ip"}})

	assert.Equal(t, http.StatusUnauthorized, loginFrom(router, "203.0.113.1"))
	assert.Equal(t, http.StatusTooManyRequests, loginFrom(router, "203.0.113.2"))
}

func TestHealthAndRequestID(t *testing.T) {
	router := newTestRouter(t, Options{})

	rec := do(router, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(requestIDHeader))
}

type brokenDomains struct{}

func (brokenDomains) Get(context.Context, string) (domain.Domains, error) {
	return nil, errors.New("disk on fire")
}

func (brokenDomains) Apply(context.Context, string, domain.Changes) (domain.Domains, error) {
	return nil, errors.New("disk on fire")
}

func TestInternalErrorsHaveNoBody(t *testing.T) {
	log := quietLogger()
	users, err := service.NewUserDB(context.Background(), storage.NewMemory(), service.UserDBOptions{Iterations: 1, Logger: log})
	require.NoError(t, err)
	router := gin.New()
	NewHandler(users, brokenDomains{}, Options{Logger: log}).RegisterRoutes(router)

	header := bearerHeader(t, registerAlice(t, router))
	rec := do(router, http.MethodGet, "/db", nil, header)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "disk")
}

func TestIPLimiterForgetsIdleClients(t *testing.T) {
	l := newIPLimiter(1, 1)
	now := l.swept
	assert.True(t, l.allow("10.0.0.1", now))
	assert.False(t, l.allow("10.0.0.1", now))

	later := now.Add(2 * limiterIdle)
	assert.True(t, l.allow("10.0.0.2", later))
	assert.NotContains(t, l.clients, "10.0.0.1")
}
