package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/tyemirov/gatekit/internal/authkit"
	"github.com/tyemirov/gatekit/internal/credstore"
	"github.com/tyemirov/gatekit/internal/credstorepg"
	"github.com/tyemirov/gatekit/internal/ratelimit"
	"github.com/tyemirov/gatekit/internal/web"
)

var serveHTTP = func(server *http.Server) error {
	return server.ListenAndServe()
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "gatekit",
		Short:   "Multi-tenant SaaS gateway with JWT sessions, role gates, and plan-based rate limiting",
		PreRunE: prepareServerConfig,
		RunE:    runServer,
	}

	rootCmd.Flags().String("listen_addr", ":8080", "HTTP listen address")
	rootCmd.Flags().String("jwt_signing_key", authkit.DefaultSigningKeyPlaceholder, "HS256 signing secret for session tokens")
	rootCmd.Flags().String("jwt_issuer", "gatekit-auth", "Issuer claim minted into session tokens")
	rootCmd.Flags().Duration("access_ttl", time.Hour, "Access token TTL")
	rootCmd.Flags().Duration("refresh_ttl", 30*24*time.Hour, "Refresh token TTL")
	rootCmd.Flags().Bool("production", false, "Production mode; refuses to start with the default signing key")
	rootCmd.Flags().String("database_url", "", "Database URL for users (postgres:// or sqlite://; leave empty for in-memory store)")
	rootCmd.Flags().Bool("use_pgx", false, "Use the pgx pool store for postgres database URLs instead of GORM")
	rootCmd.Flags().Int("bcrypt_cost", credstore.DefaultBcryptCost, "bcrypt cost for password hashing")
	rootCmd.Flags().Bool("enable_cors", false, "Enable CORS for cross-origin clients")
	rootCmd.Flags().StringSlice("cors_allowed_origins", []string{}, "Allowed origins when CORS is enabled (required if enable_cors is true)")

	_ = viper.BindPFlag("listen_addr", rootCmd.Flags().Lookup("listen_addr"))
	_ = viper.BindPFlag("jwt_signing_key", rootCmd.Flags().Lookup("jwt_signing_key"))
	_ = viper.BindPFlag("jwt_issuer", rootCmd.Flags().Lookup("jwt_issuer"))
	_ = viper.BindPFlag("access_ttl", rootCmd.Flags().Lookup("access_ttl"))
	_ = viper.BindPFlag("refresh_ttl", rootCmd.Flags().Lookup("refresh_ttl"))
	_ = viper.BindPFlag("production", rootCmd.Flags().Lookup("production"))
	_ = viper.BindPFlag("database_url", rootCmd.Flags().Lookup("database_url"))
	_ = viper.BindPFlag("use_pgx", rootCmd.Flags().Lookup("use_pgx"))
	_ = viper.BindPFlag("bcrypt_cost", rootCmd.Flags().Lookup("bcrypt_cost"))
	_ = viper.BindPFlag("enable_cors", rootCmd.Flags().Lookup("enable_cors"))
	_ = viper.BindPFlag("cors_allowed_origins", rootCmd.Flags().Lookup("cors_allowed_origins"))

	viper.SetEnvPrefix("APP")
	viper.AutomaticEnv()

	return rootCmd
}

const (
	configCodeInvalidTokenConfig      = "config.invalid_token_config"
	configCodeUninitializedServerConf = "config.uninitialized_server_config"
)

type contextKey string

const serverConfigContextKey contextKey = "serverConfig"

func prepareServerConfig(command *cobra.Command, arguments []string) error {
	tokenConfig, loadErr := loadTokenConfig()
	if loadErr != nil {
		return loadErr
	}
	existingContext := command.Context()
	if existingContext == nil {
		existingContext = context.Background()
	}
	command.SetContext(context.WithValue(existingContext, serverConfigContextKey, tokenConfig))
	return nil
}

// loadTokenConfig validates the token configuration up front, so a production
// deployment with the placeholder secret never reaches the listen call.
func loadTokenConfig() (authkit.TokenConfig, error) {
	tokenConfig := authkit.TokenConfig{
		SigningKey: []byte(viper.GetString("jwt_signing_key")),
		Issuer:     viper.GetString("jwt_issuer"),
		AccessTTL:  viper.GetDuration("access_ttl"),
		RefreshTTL: viper.GetDuration("refresh_ttl"),
		Production: viper.GetBool("production"),
	}
	if validateErr := tokenConfig.Validate(); validateErr != nil {
		return authkit.TokenConfig{}, fmt.Errorf("%s: %w", configCodeInvalidTokenConfig, validateErr)
	}
	return tokenConfig, nil
}

func buildUserStore(ctx context.Context, logger *zap.Logger) (credstore.UserStore, error) {
	databaseURL := viper.GetString("database_url")
	if databaseURL == "" {
		logger.Info("using in-memory user store")
		return credstore.NewMemoryUserStore(), nil
	}
	if viper.GetBool("use_pgx") {
		pool, poolErr := credstorepg.BuildPool(ctx, databaseURL)
		if poolErr != nil {
			return nil, poolErr
		}
		if schemaErr := credstorepg.EnsureSchema(ctx, pool); schemaErr != nil {
			return nil, schemaErr
		}
		logger.Info("using pgx user store")
		return credstorepg.NewPostgresUserStore(pool), nil
	}
	store, storeErr := credstore.NewDatabaseUserStore(ctx, databaseURL)
	if storeErr != nil {
		return nil, storeErr
	}
	logger.Info("using persistent user store", zap.String("driver", store.Driver()))
	return store, nil
}

func runServer(command *cobra.Command, arguments []string) error {
	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return loggerErr
	}
	defer func() { _ = logger.Sync() }()

	commandContext := command.Context()
	var contextValue any
	if commandContext != nil {
		contextValue = commandContext.Value(serverConfigContextKey)
	}
	tokenConfig, ok := contextValue.(authkit.TokenConfig)
	if !ok {
		return fmt.Errorf("%s: server configuration not prepared; PreRunE must execute before RunE", configCodeUninitializedServerConf)
	}

	listenAddr := viper.GetString("listen_addr")
	enableCORS := viper.GetBool("enable_cors")
	corsAllowedOrigins := viper.GetStringSlice("cors_allowed_origins")

	clock := authkit.NewSystemClock()
	tokenConfig.Clock = clock

	tokens, tokensErr := authkit.NewTokenService(tokenConfig)
	if tokensErr != nil {
		return tokensErr
	}

	userStore, storeErr := buildUserStore(command.Context(), logger)
	if storeErr != nil {
		return storeErr
	}
	accounts := credstore.NewService(userStore, clock, viper.GetInt("bcrypt_cost"))

	metricsRecorder := authkit.NewCounterMetrics()
	limiterRegistry := ratelimit.NewRegistry(clock, ratelimit.DefaultPlanLimits())

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(zapLoggerMiddleware(logger))

	if enableCORS {
		corsMiddleware, corsErr := web.ConfigureCORS(logger, corsAllowedOrigins)
		if corsErr != nil {
			return corsErr
		}
		router.Use(corsMiddleware)
	}

	apiGroup := router.Group("/api/v1")
	apiGroup.Use(limiterRegistry.Middleware(logger, metricsRecorder))
	apiGroup.GET("/health", web.HandleHealth())

	web.MountAuthRoutes(apiGroup, accounts, tokens, logger, metricsRecorder)

	protected := apiGroup.Group("")
	protected.Use(authkit.RequireAuth(tokens))
	protected.GET("/users/me", web.HandleWhoAmI(logger))

	adminOnly := protected.Group("/admin")
	adminOnly.Use(authkit.RequireRole(authkit.RoleAdmin))
	adminOnly.GET("/ping", web.HandleAdminPing())

	server := &http.Server{
		Addr:              listenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	defer shutdownCancel()

	go func() {
		stopSignals := make(chan os.Signal, 1)
		signal.Notify(stopSignals, syscall.SIGINT, syscall.SIGTERM)
		<-stopSignals
		graceCtx, graceCancel := context.WithTimeout(shutdownCtx, 10*time.Second)
		defer graceCancel()
		if err := server.Shutdown(graceCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}()

	logger.Info("listening", zap.String("addr", listenAddr))
	if err := serveHTTP(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen error: %w", err)
	}
	return nil
}

func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		startTime := time.Now()
		contextGin.Next()
		duration := time.Since(startTime)
		logger.Info("http",
			zap.String("method", contextGin.Request.Method),
			zap.String("path", contextGin.Request.URL.Path),
			zap.Int("status", contextGin.Writer.Status()),
			zap.String("ip", contextGin.ClientIP()),
			zap.Duration("elapsed", duration),
		)
	}
}
