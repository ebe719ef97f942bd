// Command attest-service runs the PassCard attestation HTTP service. There
// is no CLI surface beyond environment configuration (spec.md §6); the
// process just listens.
package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/passcard/attest-service/internal/appattest"
	"github.com/passcard/attest-service/internal/config"
	"github.com/passcard/attest-service/internal/controllers"
	"github.com/passcard/attest-service/internal/devicestore"
	"github.com/passcard/attest-service/internal/platform/logging"
	appmiddleware "github.com/passcard/attest-service/internal/platform/middleware"
	"github.com/passcard/attest-service/internal/primus"
	"github.com/passcard/attest-service/internal/routes"
)

const (
	dbMaxRetries     = 5
	dbConnectTimeout = 5 * time.Second
	dbInitialBackoff = 500 * time.Millisecond
)

func main() {
	logger := logging.New("attest-service")
	cfg := config.LoadConfig(logger)

	store, err := buildStore(context.Background(), cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize device store")
	}

	service := appattest.NewService(store, appattest.VerifyOptions{
		AcceptLegacyNonceVariant: cfg.Flags.AcceptLegacyNonceVariant,
	})

	broker := primus.NewBroker(cfg.PrimusAppID, cfg.PrimusAppSecret, &http.Client{Timeout: cfg.PrimusTimeout}, cfg.PrimusTimeout)

	attestController := controllers.NewAttestController(service, logger)
	identityController := controllers.NewIdentityController(service, logger)
	primusController := controllers.NewPrimusController(broker, logger)
	healthController := controllers.NewHealthController(logger)

	router := mux.NewRouter()
	router.Use(appmiddleware.RequestID(logger))

	router.HandleFunc(routes.Health, healthController.HealthCheck).Methods(http.MethodGet)
	router.HandleFunc(routes.VerifyAttestation, attestController.VerifyAttestation).Methods(http.MethodPost)
	router.HandleFunc(routes.VerifyAssertion, attestController.VerifyAssertion).Methods(http.MethodPost)
	router.HandleFunc(routes.PrimusInit, primusController.Init).Methods(http.MethodPost)
	router.HandleFunc(routes.PrimusSign, primusController.Sign).Methods(http.MethodPost)
	router.HandleFunc(routes.PrimusVerify, primusController.Verify).Methods(http.MethodPost)
	router.HandleFunc(routes.Identity, identityController.Lookup).Methods(http.MethodGet)

	// cors_high_security (§2.3) trades the wide-open default for the
	// configured app origin only, matching the teacher's
	// LDFlag_CORSHighSecurity toggle.
	allowedOrigins := []string{"*"}
	allowCredentials := false
	if cfg.Flags.CORSHighSecurity {
		allowedOrigins = []string{cfg.AppOrigin}
		allowCredentials = true
	}

	co := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowedHeaders:   []string{"Content-Type", "X-Request-Id"},
		AllowCredentials: allowCredentials,
	})

	logger.Infof("starting attest-service on port %s", cfg.AppPort)
	if err := http.ListenAndServe(":"+cfg.AppPort, co.Handler(router)); err != nil {
		logger.WithError(err).Fatal("attest-service exited")
	}
}

// buildStore selects the Postgres backend when POSTGRES_URL is set,
// otherwise the single-process JSON file backend (spec.md §4.3).
func buildStore(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (devicestore.Store, error) {
	if cfg.PostgresURL == "" {
		return devicestore.NewFileBackend(cfg.DeviceStorePath), nil
	}

	var (
		pool    *pgxpool.Pool
		err     error
		backoff = dbInitialBackoff
	)
	for attempt := 1; attempt <= dbMaxRetries; attempt++ {
		connCtx, cancel := context.WithTimeout(ctx, dbConnectTimeout)
		pool, err = newDBPool(connCtx, cfg.PostgresURL)
		cancel()
		if err == nil {
			logger.Infof("connected to Postgres on attempt %d", attempt)
			break
		}
		if attempt == dbMaxRetries {
			return nil, err
		}
		logger.WithError(err).Warnf("Postgres connection attempt %d/%d failed, retrying in %v", attempt, dbMaxRetries, backoff)
		time.Sleep(backoff)
		backoff *= 2
	}

	return devicestore.NewPostgresBackend(ctx, pool)
}

// newDBPool constructs the pool with the same idle/health-check tuning the
// teacher uses for its Fly.io-hosted Postgres (auth-service/internal/app/app.go).
func newDBPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	poolCfg.MaxConnIdleTime = 2 * time.Minute
	poolCfg.HealthCheckPeriod = 30 * time.Second
	return pgxpool.ConnectConfig(ctx, poolCfg)
}
