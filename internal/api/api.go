package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/wuwenbin0122/credauth/internal/auth"
	"github.com/wuwenbin0122/credauth/internal/models"
)

const (
	providerID   = "credentials"
	callbackPath = "/api/auth/callback/" + providerID
	maxBodyBytes = 1 << 20
)

// Authorizer is the part of auth.Authorizer the handlers need.
type Authorizer interface {
	Authorize(ctx context.Context, raw map[string]any) models.Identity
}

// Pinger reports whether the backing user store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	authorizer Authorizer
	limiter    auth.AttemptLimiter
	store      Pinger
	logger     *zap.Logger
}

// NewHandler wires the credentials callback. limiter and store may be nil.
func NewHandler(authorizer Authorizer, limiter auth.AttemptLimiter, store Pinger, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{authorizer: authorizer, limiter: limiter, store: store, logger: logger.Named("api")}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", h.handleHealth)

	authGroup := router.Group("/api/auth")
	authGroup.GET("/providers", h.handleProviders)
	authGroup.POST("/callback/:provider", h.handleCallback)
}

var (
	errUnknownProvider = errors.New("unknown provider")
	errInvalidPayload  = errors.New("invalid payload")
)

func (h *Handler) handleProviders(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		providerID: gin.H{
			"id":          providerID,
			"name":        "Credentials",
			"type":        "credentials",
			"callbackUrl": callbackPath,
		},
	})
}

func (h *Handler) handleCallback(c *gin.Context) {
	if c.Param("provider") != providerID {
		writeError(c, http.StatusNotFound, errUnknownProvider.Error(), errUnknownProvider)
		return
	}

	raw, err := readCredentials(c)
	if err != nil {
		writeError(c, http.StatusBadRequest, errInvalidPayload.Error(), err)
		return
	}

	ctx := c.Request.Context()
	clientKey := c.ClientIP()

	if retryAfter := h.lockedFor(ctx, clientKey); retryAfter > 0 {
		seconds := int64((retryAfter + time.Second - 1) / time.Second)
		c.Header("Retry-After", strconv.FormatInt(seconds, 10))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many attempts"})
		return
	}

	identity := h.authorizer.Authorize(ctx, raw)
	if identity == nil {
		body := gin.H{"error": auth.ErrInvalidCredentials.Error()}
		if remaining, ok := h.recordFailure(ctx, clientKey); ok {
			body["remainingAttempts"] = remaining
		}
		c.JSON(http.StatusUnauthorized, body)
		return
	}

	h.resetAttempts(ctx, clientKey)
	c.JSON(http.StatusOK, gin.H{"user": identity})
}

func (h *Handler) handleHealth(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	if h.store != nil {
		if err := h.store.Ping(c.Request.Context()); err != nil {
			h.logger.Warn("user store ping failed", zap.Error(err))
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}

	c.JSON(status, body)
}

// Limiter failures never block a login; they are logged and skipped.
func (h *Handler) lockedFor(ctx context.Context, key string) time.Duration {
	if h.limiter == nil {
		return 0
	}
	retryAfter, err := h.limiter.Check(ctx, key)
	if err != nil {
		h.logger.Warn("attempt limiter check failed", zap.Error(err))
		return 0
	}
	return retryAfter
}

func (h *Handler) recordFailure(ctx context.Context, key string) (int, bool) {
	if h.limiter == nil {
		return 0, false
	}
	remaining, err := h.limiter.RecordFailure(ctx, key)
	if err != nil {
		h.logger.Warn("attempt limiter record failed", zap.Error(err))
		return 0, false
	}
	return remaining, true
}

func (h *Handler) resetAttempts(ctx context.Context, key string) {
	if h.limiter == nil {
		return
	}
	if err := h.limiter.Reset(ctx, key); err != nil {
		h.logger.Warn("attempt limiter reset failed", zap.Error(err))
	}
}

// readCredentials accepts either a JSON object or a url-encoded form. Only the
// first value of each form field is kept. Bodies over maxBodyBytes are refused.
func readCredentials(c *gin.Context) (map[string]any, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)

	if strings.HasPrefix(c.ContentType(), gin.MIMEJSON) {
		raw := map[string]any{}
		decoder := json.NewDecoder(c.Request.Body)
		if err := decoder.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				return raw, nil
			}
			return nil, err
		}
		return raw, nil
	}

	if err := c.Request.ParseMultipartForm(maxBodyBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return nil, err
	}

	raw := make(map[string]any, len(c.Request.PostForm))
	for key, values := range c.Request.PostForm {
		if len(values) > 0 {
			raw[key] = values[0]
		}
	}
	return raw, nil
}

func writeError(c *gin.Context, status int, message string, err error) {
	c.JSON(status, gin.H{
		"error":   message,
		"details": err.Error(),
	})
}
