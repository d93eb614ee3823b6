package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"passe/internal/auth"
	"passe/internal/domain"
	"passe/internal/service"
)

const authKey = "passe.auth"

// Users is the login database the handlers authenticate against.
type Users interface {
	Register(ctx context.Context, req domain.LoginRequest) error
	Login(ctx context.Context, req domain.LoginRequest) (auth.Token, error)
	Validate(ctx context.Context, a domain.Authentication) error
}

// Domains stores each user's canonical domain map.
type Domains interface {
	Get(ctx context.Context, user string) (domain.Domains, error)
	Apply(ctx context.Context, user string, changes domain.Changes) (domain.Domains, error)
}

// Handler wires HTTP routes to the user and domain databases.
type Handler struct {
	users   Users
	domains Domains
	limiter *ipLimiter
	proxies []string
	log     *logrus.Entry
}

type Options struct {
	// RateLimit and RateBurst bound /register and /login per client IP.
	// A zero RateLimit disables limiting.
	RateLimit float64
	RateBurst int
	// TrustedProxies lists the proxy addresses or CIDRs whose X-Forwarded-For
	// header is believed. Empty means the client IP is the peer address.
	TrustedProxies []string
	Logger         *logrus.Logger
}

func NewHandler(users Users, domains Domains, opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	h := &Handler{
		users:   users,
		domains: domains,
		proxies: opts.TrustedProxies,
		log:     opts.Logger.WithField("component", "http"),
	}
	if opts.RateLimit > 0 {
		h.limiter = newIPLimiter(opts.RateLimit, opts.RateBurst)
	}
	return h
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	if err := router.SetTrustedProxies(h.proxies); err != nil {
		h.log.WithError(err).Error("invalid trusted proxies, trusting none")
		_ = router.SetTrustedProxies(nil)
	}
	router.Use(requestID(), accessLog(h.log))

	open := router.Group("/")
	if h.limiter != nil {
		open.Use(h.limiter.middleware())
	}
	{
		open.POST("/register", h.register)
		open.POST("/login", h.login)
	}

	authed := router.Group("/", h.bearer())
	{
		authed.POST("/authenticate", h.authenticate)
		authed.GET("/db", h.getDomains)
		authed.POST("/db", h.postDomains)
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": "ok"})
	})
}

func (h *Handler) register(c *gin.Context) {
	var req domain.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatus(http.StatusBadRequest)
		return
	}

	if err := h.users.Register(c.Request.Context(), req); err != nil {
		h.fail(c, err)
		return
	}
	token, err := h.users.Login(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, domain.Authentication{User: req.User, Token: token.Value})
}

func (h *Handler) login(c *gin.Context) {
	var req domain.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatus(http.StatusBadRequest)
		return
	}

	token, err := h.users.Login(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, domain.Authentication{User: req.User, Token: token.Value})
}

func (h *Handler) authenticate(c *gin.Context) {
	c.Status(http.StatusOK)
}

func (h *Handler) getDomains(c *gin.Context) {
	user := c.MustGet(authKey).(domain.Authentication).User
	domains, err := h.domains.Get(c.Request.Context(), user)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, domains)
}

func (h *Handler) postDomains(c *gin.Context) {
	user := c.MustGet(authKey).(domain.Authentication).User
	var changes domain.Changes
	if err := c.ShouldBindJSON(&changes); err != nil {
		c.AbortWithStatus(http.StatusBadRequest)
		return
	}

	domains, err := h.domains.Apply(c.Request.Context(), user, changes)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, domains)
}

// bearer parses the Authorization header, a JSON {user, token} object, and
// validates it. The credential is stored on the context for later handlers.
func (h *Handler) bearer() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatus(http.StatusBadRequest)
			return
		}
		var a domain.Authentication
		if err := json.Unmarshal([]byte(header), &a); err != nil || a.User == "" || a.Token == "" {
			c.AbortWithStatus(http.StatusBadRequest)
			return
		}
		if err := h.users.Validate(c.Request.Context(), a); err != nil {
			h.fail(c, err)
			return
		}
		c.Set(authKey, a)
		c.Next()
	}
}

// fail maps service errors to bare status codes. Details stay in the server log.
func (h *Handler) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.WithField("request_id", c.GetString(requestIDKey)).Errorf("%s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	c.AbortWithStatus(status)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrUserExists):
		return http.StatusConflict
	case errors.Is(err, service.ErrInvalidUsername),
		errors.Is(err, service.ErrInvalidPassword),
		errors.Is(err, domain.ErrInvalidLength):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
