package authkit

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ClaimsContextKey is where RequireAuth stores verified claims on the request context.
const ClaimsContextKey = "auth_claims"

const bearerPrefix = "Bearer "

// BearerToken extracts the credential from an "Authorization: Bearer <token>" header.
func BearerToken(request *http.Request) (string, error) {
	headerValue := request.Header.Get("Authorization")
	if headerValue == "" {
		return "", ErrMissingToken
	}
	if !strings.HasPrefix(headerValue, bearerPrefix) {
		return "", ErrMissingToken
	}
	token := strings.TrimSpace(strings.TrimPrefix(headerValue, bearerPrefix))
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}

// RequireAuth verifies the bearer access token and injects claims for
// downstream handlers. Absent or malformed headers and failed verification
// both terminate the request with 401.
func RequireAuth(tokens *TokenService) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		tokenString, extractErr := BearerToken(contextGin.Request)
		if extractErr != nil {
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing_token"})
			return
		}
		claims, verifyErr := tokens.Verify(tokenString, TokenUseAccess)
		if verifyErr != nil {
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token"})
			return
		}
		contextGin.Set(ClaimsContextKey, claims)
		contextGin.Next()
	}
}

// RequireRole gates a route on the role carried by already-verified claims.
// It never re-parses the token: no claims on the context means RequireAuth did
// not run, which is a 401, while a role outside the allowed set is a 403.
func RequireRole(allowedRoles ...Role) gin.HandlerFunc {
	allowed := make(map[Role]struct{}, len(allowedRoles))
	for _, role := range allowedRoles {
		allowed[role] = struct{}{}
	}
	return func(contextGin *gin.Context) {
		claims, found := ClaimsFromContext(contextGin)
		if !found {
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		if _, ok := allowed[claims.Role()]; !ok {
			contextGin.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		contextGin.Next()
	}
}

// ClaimsFromContext returns the claims stored by RequireAuth, if any.
func ClaimsFromContext(contextGin *gin.Context) (*SessionClaims, bool) {
	claimsValue, found := contextGin.Get(ClaimsContextKey)
	if !found {
		return nil, false
	}
	claims, ok := claimsValue.(*SessionClaims)
	if !ok || claims == nil {
		return nil, false
	}
	return claims, true
}
