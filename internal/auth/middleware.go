package auth

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	httperr "github.com/pulsegrid-lab/pulsegrid/internal/core/errors"
)

// identityKey is the gin context key the middleware stores the identity under.
const identityKey = "auth.identity"

// Middleware authenticates the request's bearer token and stores the
// resulting identity on the gin context. Unauthenticated requests are
// terminated with 401.
func Middleware(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := svc.Authenticate(c.Request.Context(), c.GetHeader("Authorization"))
		if err != nil {
			if errors.Is(err, ErrUnauthorized) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, httperr.ErrorResponse{
					ErrorType: httperr.HttpUnauthorizedError,
					Message:   "Unauthorized",
				})
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, httperr.ErrorResponse{
				ErrorType: httperr.HttpInternalError,
				Message:   "Authentication backend unavailable",
			})
			return
		}
		c.Set(identityKey, identity)
		c.Next()
	}
}

// RequireScope terminates the request with 403 unless the authenticated
// identity carries the scope. Must run after Middleware.
func RequireScope(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := FromContext(c)
		if identity == nil || !identity.HasScope(scope) {
			c.AbortWithStatusJSON(http.StatusForbidden, httperr.ErrorResponse{
				ErrorType: httperr.HttpForbiddenError,
				Message:   "Insufficient scope",
			})
			return
		}
		c.Next()
	}
}

// FromContext returns the identity stored by Middleware, nil when absent.
func FromContext(c *gin.Context) *Identity {
	value, ok := c.Get(identityKey)
	if !ok {
		return nil
	}
	identity, ok := value.(*Identity)
	if !ok {
		return nil
	}
	return identity
}
