package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NewRouter builds the gin engine for handler. Forwarding headers such as
// X-Forwarded-For are only honoured from trustedProxies; with none, the client
// IP is always the socket's remote address.
func NewRouter(handler *Handler, logger *zap.Logger, trustedProxies []string) (*gin.Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	if len(trustedProxies) == 0 {
		trustedProxies = nil
	}
	if err := router.SetTrustedProxies(trustedProxies); err != nil {
		return nil, fmt.Errorf("api: trusted proxies: %w", err)
	}

	router.Use(RequestLogger(logger), gin.Recovery())
	handler.RegisterRoutes(router)

	return router, nil
}
