package devbackend

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aelexs/session-gateway/internal/domain"
	"github.com/aelexs/session-gateway/internal/errmap"
)

const claimsKey = "claims"

// service is the subset of *Backend the handlers call.
type service interface {
	Login(ctx context.Context, username, password string) (TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (TokenPair, error)
	Authenticate(ctx context.Context, accessToken string) (*Claims, error)
	RevokeSession(ctx context.Context, sessionID string) error
	RevokeUser(ctx context.Context, username string) (int, error)
	Profile(ctx context.Context, userID string) (Profile, error)
	UpdateProfile(ctx context.Context, userID string, upd ProfileUpdate) (Profile, error)
	Orders(ctx context.Context, userID string) ([]Order, error)
	CreateOrder(ctx context.Context, userID string, in NewOrder) (Order, error)
}

var _ service = (*Backend)(nil)

type handlers struct {
	svc service
}

// NewRouter builds the HTTP API around b.
func NewRouter(b *Backend, logger *slog.Logger) *gin.Engine {
	if logger == nil {
		logger = slog.Default()
	}
	h := &handlers{svc: b}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	router.POST(domain.LoginPath, h.login)
	router.POST(domain.RefreshPath, h.refresh)

	api := router.Group("/api")
	api.Use(h.authenticate)
	{
		api.GET("/profile", h.getProfile)
		api.PUT("/profile", h.updateProfile)
		api.GET("/orders", h.listOrders)
		api.POST("/orders", h.createOrder)
		api.POST("/logout", h.logout)
	}

	admin := router.Group("/admin")
	{
		admin.POST("/sessions/:sid/revoke", h.revokeSession)
		admin.POST("/users/:username/revoke", h.revokeUser)
	}

	return router
}

// ok writes payload inside the {"data":{"data":...}} success envelope.
func ok(c *gin.Context, status int, payload any) {
	c.JSON(status, gin.H{"data": gin.H{"data": payload}})
}

func fail(c *gin.Context, err error) {
	he := errmap.ToHTTPError(err)
	c.AbortWithStatusJSON(he.StatusCode, he)
}

func badRequest(c *gin.Context, err error) {
	fail(c, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err))
}

func (h *handlers) login(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	pair, err := h.svc.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, pair)
}

// refresh answers with the token pair at the body root.
func (h *handlers) refresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refreshToken" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	pair, err := h.svc.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, pair)
}

func (h *handlers) authenticate(c *gin.Context) {
	header := c.GetHeader(domain.AuthorizationHeader)
	token, found := strings.CutPrefix(header, domain.BearerPrefix)
	if !found || token == "" {
		fail(c, fmt.Errorf("bearer token: %w", domain.ErrUnauthorized))
		return
	}

	claims, err := h.svc.Authenticate(c.Request.Context(), token)
	if err != nil {
		fail(c, err)
		return
	}
	c.Set(claimsKey, claims)
	c.Next()
}

func claimsFrom(c *gin.Context) *Claims {
	v, _ := c.Get(claimsKey)
	claims, _ := v.(*Claims)
	return claims
}

func (h *handlers) getProfile(c *gin.Context) {
	p, err := h.svc.Profile(c.Request.Context(), claimsFrom(c).Subject)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, p)
}

func (h *handlers) updateProfile(c *gin.Context) {
	var upd ProfileUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		badRequest(c, err)
		return
	}
	p, err := h.svc.UpdateProfile(c.Request.Context(), claimsFrom(c).Subject, upd)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, p)
}

func (h *handlers) listOrders(c *gin.Context) {
	orders, err := h.svc.Orders(c.Request.Context(), claimsFrom(c).Subject)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, orders)
}

func (h *handlers) createOrder(c *gin.Context) {
	var in NewOrder
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	o, err := h.svc.CreateOrder(c.Request.Context(), claimsFrom(c).Subject, in)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusCreated, o)
}

func (h *handlers) logout(c *gin.Context) {
	if err := h.svc.RevokeSession(c.Request.Context(), claimsFrom(c).SessionID); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) revokeSession(c *gin.Context) {
	if err := h.svc.RevokeSession(c.Request.Context(), c.Param("sid")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) revokeUser(c *gin.Context) {
	n, err := h.svc.RevokeUser(c.Request.Context(), c.Param("username"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"revoked": n})
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.DebugContext(c.Request.Context(), "devbackend.request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}
