package web

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tyemirov/gatekit/internal/authkit"
	"github.com/tyemirov/gatekit/internal/credstore"
)

// MountAuthRoutes registers /auth/register, /auth/login, /auth/refresh,
// /auth/logout, and /auth/me on the supplied router group.
func MountAuthRoutes(router gin.IRouter, accounts *credstore.Service, tokens *authkit.TokenService, logger *zap.Logger, metrics authkit.MetricsRecorder) {
	if logger == nil {
		logger = zap.NewNop()
	}

	router.POST("/auth/register", func(contextGin *gin.Context) {
		var inbound struct {
			Email    string `json:"email"`
			Password string `json:"password"`
			Role     string `json:"role"`
		}
		if err := contextGin.BindJSON(&inbound); err != nil {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "email_password_required"})
			return
		}
		user, registerErr := accounts.Register(contextGin, inbound.Email, inbound.Password, inbound.Role)
		if registerErr != nil {
			switch {
			case errors.Is(registerErr, credstore.ErrInvalidInput):
				contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "email_password_required"})
			case errors.Is(registerErr, credstore.ErrEmailInUse):
				increment(metrics, authkit.MetricRegisterEmailInUse)
				contextGin.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "email_in_use"})
			default:
				logger.Error("registration failed",
					zap.String("code", "auth.register.store_error"),
					zap.Error(registerErr))
				contextGin.AbortWithStatus(http.StatusInternalServerError)
			}
			return
		}
		increment(metrics, authkit.MetricRegisterCreated)
		logger.Info("user registered",
			zap.String("code", "auth.register.created"),
			zap.String("user_id", user.ID),
			zap.String("role", user.Role.String()))
		contextGin.JSON(http.StatusCreated, userPayload(user))
	})

	router.POST("/auth/login", func(contextGin *gin.Context) {
		var inbound struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := contextGin.BindJSON(&inbound); err != nil {
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials"})
			return
		}
		user, authErr := accounts.Authenticate(contextGin, inbound.Email, inbound.Password)
		if authErr != nil {
			if errors.Is(authErr, credstore.ErrInvalidCredentials) {
				increment(metrics, authkit.MetricLoginInvalidCredentials)
				contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials"})
				return
			}
			logger.Error("login failed",
				zap.String("code", "auth.login.store_error"),
				zap.Error(authErr))
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		accessToken, _, accessErr := tokens.IssueAccessToken(user.Identity())
		if accessErr != nil {
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		refreshToken, _, refreshErr := tokens.IssueRefreshToken(user.Identity())
		if refreshErr != nil {
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		increment(metrics, authkit.MetricLoginSuccess)
		contextGin.JSON(http.StatusOK, gin.H{
			"token":   accessToken,
			"refresh": refreshToken,
			"user":    userPayload(user),
		})
	})

	router.POST("/auth/refresh", func(contextGin *gin.Context) {
		var inbound struct {
			Refresh string `json:"refresh"`
		}
		if err := contextGin.BindJSON(&inbound); err != nil || strings.TrimSpace(inbound.Refresh) == "" {
			increment(metrics, authkit.MetricRefreshRejected)
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_refresh"})
			return
		}
		claims, verifyErr := tokens.Verify(inbound.Refresh, authkit.TokenUseRefresh)
		if verifyErr != nil {
			increment(metrics, authkit.MetricRefreshRejected)
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_refresh"})
			return
		}
		user, findErr := accounts.GetByID(contextGin, claims.UserID())
		if findErr != nil {
			increment(metrics, authkit.MetricRefreshRejected)
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_refresh"})
			return
		}
		accessToken, _, accessErr := tokens.IssueAccessToken(user.Identity())
		if accessErr != nil {
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		increment(metrics, authkit.MetricRefreshSuccess)
		contextGin.JSON(http.StatusOK, gin.H{"access": accessToken})
	})

	router.POST("/auth/logout", func(contextGin *gin.Context) {
		// Tokens are stateless; logout exists so clients have an explicit
		// best-effort call before clearing local state. Body errors are ignored.
		var inbound struct {
			Refresh string `json:"refresh"`
		}
		_ = contextGin.BindJSON(&inbound)
		logger.Info("logout",
			zap.String("code", "auth.logout"),
			zap.Bool("refresh_presented", strings.TrimSpace(inbound.Refresh) != ""))
		contextGin.JSON(http.StatusOK, gin.H{})
	})

	router.GET("/auth/me", authkit.RequireAuth(tokens), HandleWhoAmI(logger))
}

// HandleWhoAmI answers with the identity carried by the verified claims.
func HandleWhoAmI(logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(contextGin *gin.Context) {
		claims, found := authkit.ClaimsFromContext(contextGin)
		if !found {
			logger.Warn("missing auth claims on context",
				zap.String("code", "api.me.missing_claims"))
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		contextGin.JSON(http.StatusOK, gin.H{
			"id":    claims.UserID(),
			"email": claims.UserEmail,
			"role":  claims.Role().String(),
		})
	}
}

// HandleAdminPing is the role-gated probe admins use to confirm elevated access.
func HandleAdminPing() gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		contextGin.JSON(http.StatusOK, gin.H{"ok": true, "admin": true})
	}
}

// HandleHealth reports liveness.
func HandleHealth() gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		contextGin.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func userPayload(user credstore.User) gin.H {
	return gin.H{
		"id":    user.ID,
		"email": user.Email,
		"role":  user.Role.String(),
	}
}

func increment(metrics authkit.MetricsRecorder, event string) {
	if metrics != nil {
		metrics.Increment(event)
	}
}
