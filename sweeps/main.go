package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/animus-labs/animus-hpo/internal/drive"
	"github.com/animus-labs/animus-hpo/internal/platform/auditlog"
	"github.com/animus-labs/animus-hpo/internal/platform/auth"
	"github.com/animus-labs/animus-hpo/internal/platform/env"
	"github.com/animus-labs/animus-hpo/internal/platform/httpserver"
	"github.com/animus-labs/animus-hpo/internal/platform/k8s"
	"github.com/animus-labs/animus-hpo/internal/platform/metrics"
	"github.com/animus-labs/animus-hpo/internal/platform/objectstore"
	"github.com/animus-labs/animus-hpo/internal/platform/postgres"
	postgresrepo "github.com/animus-labs/animus-hpo/internal/repo/postgres"
	"github.com/animus-labs/animus-hpo/internal/runtimeexec"
	"github.com/animus-labs/animus-hpo/internal/sweeper"
)

const service = "sweeps"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger); err != nil {
		var code exitCode
		if errors.As(err, &code) {
			logger.Error(code.msg, "error", code.err)
			os.Exit(code.code)
		}
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

type exitCode struct {
	code int
	msg  string
	err  error
}

func (e exitCode) Error() string { return e.msg + ": " + e.err.Error() }

func invalid(msg string, err error) error     { return exitCode{code: 2, msg: msg, err: err} }
func unavailable(msg string, err error) error { return exitCode{code: 1, msg: msg, err: err} }

func run(ctx context.Context, logger *slog.Logger) error {
	serverCfg, err := httpserver.ConfigFromEnv(service)
	if err != nil {
		return invalid("invalid env", err)
	}
	tickInterval, err := env.Duration("HPO_TICK_INTERVAL", time.Second)
	if err != nil {
		return invalid("invalid env", err)
	}
	usePostgres, err := env.Bool("HPO_POSTGRES_ENABLED", true)
	if err != nil {
		return invalid("invalid env", err)
	}
	authCfg, err := auth.ConfigFromEnv()
	if err != nil {
		return invalid("invalid auth config", err)
	}

	m := metrics.NewSweeps()
	var checks []httpserver.ReadinessCheck

	var (
		store   *postgresrepo.TrialStore
		auditor *auditlog.Writer
	)
	if usePostgres {
		dbCfg, err := postgres.ConfigFromEnv()
		if err != nil {
			return invalid("invalid database config", err)
		}
		db, err := postgres.Open(ctx, dbCfg)
		if err != nil {
			return unavailable("database unavailable", err)
		}
		defer func() { _ = db.Close() }()

		store = postgresrepo.NewTrialStore(db)
		if err := store.EnsureSchema(ctx); err != nil {
			return unavailable("trial schema failed", err)
		}
		auditor = auditlog.NewWriter(db)
		if err := auditor.EnsureSchema(ctx); err != nil {
			return unavailable("audit schema failed", err)
		}
		checks = append(checks, httpserver.ReadinessCheck{
			Name:  "postgres",
			Check: pingCheck(db, dbCfg.PingTimeout),
		})
	}

	executor, err := newExecutor()
	if err != nil {
		return invalid("invalid executor config", err)
	}

	codeDrive, driveCheck, err := newDrive(ctx, executor.Kind())
	if err != nil {
		return err
	}
	if driveCheck != nil {
		checks = append(checks, *driveCheck)
	}

	launcherCfg, err := launcherConfigFromEnv(authCfg)
	if err != nil {
		return invalid("invalid launcher config", err)
	}
	launcher, err := runtimeexec.NewLauncher(executor, launcherCfg, logger)
	if err != nil {
		return invalid("launcher init failed", err)
	}
	checks = append(checks, httpserver.ReadinessCheck{Name: "executor", Check: launcher.Check})

	sweeperCfg := sweeper.Config{
		Launcher: launcher,
		Drive:    codeDrive,
		Metrics:  m,
		Logger:   logger,
	}
	if store != nil {
		sweeperCfg.Store = store
	}
	if auditor != nil {
		sweeperCfg.Auditor = auditor
	}
	sweeps, err := sweeper.New(sweeperCfg)
	if err != nil {
		return invalid("sweeper init failed", err)
	}

	authenticator, err := newAuthenticator(ctx, authCfg)
	if err != nil {
		return unavailable("auth init failed", err)
	}

	api := newSweepsAPI(logger, sweeps, launcher)
	apiMux := http.NewServeMux()
	api.register(apiMux)

	middleware := auth.Middleware{
		Logger:        logger,
		Authenticator: authenticator,
		Authorize:     sweepsAuthorizer(),
		SkipPrefixes:  []string{"/healthz", "/readyz", "/metrics"},
	}
	if auditor != nil {
		middleware.Audit = auditor.AuthDenyFunc(service)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz(service))
	mux.HandleFunc("/readyz", httpserver.ReadyzWithChecks(service, checks...))
	mux.Handle("/metrics", m.Handler())
	mux.Handle("/", middleware.Wrap(apiMux))

	loopCtx, cancelLoops := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = launcher.Run(loopCtx)
	}()
	go func() {
		defer wg.Done()
		_ = sweeps.Run(loopCtx, tickInterval)
	}()
	defer func() {
		cancelLoops()
		wg.Wait()
		sweeps.Shutdown()
	}()

	logger.Info("sweeps starting",
		"addr", serverCfg.Addr,
		"executor", executor.Kind(),
		"auth_mode", authCfg.Mode,
		"postgres", usePostgres,
	)
	if err := httpserver.Run(ctx, logger, serverCfg, httpserver.Wrap(logger, service, mux, m.ObserveHTTP)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func pingCheck(db *sql.DB, timeout time.Duration) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return postgres.Ping(ctx, db, timeout)
	}
}

func newExecutor() (runtimeexec.Executor, error) {
	kind := strings.ToLower(strings.TrimSpace(env.String("HPO_EXECUTOR", "local")))
	switch kind {
	case "local":
		local := runtimeexec.NewLocalExecutor()
		runtimeexec.RegisterBuiltins(local)
		return local, nil
	case "docker":
		return runtimeexec.NewDockerExecutor(env.String("HPO_DOCKER_BIN", "docker"), env.String("HPO_DOCKER_NETWORK", ""))
	case "kubernetes", "k8s":
		client, err := k8s.NewInClusterClient()
		if err != nil {
			return nil, err
		}
		ttl, err := env.Int("HPO_K8S_JOB_TTL_SECONDS", 3600)
		if err != nil {
			return nil, err
		}
		return runtimeexec.NewKubernetesJobExecutor(
			client,
			env.String("HPO_K8S_NAMESPACE", client.Namespace()),
			int32(ttl),
			env.String("HPO_K8S_SERVICE_ACCOUNT", ""),
		)
	default:
		return nil, fmt.Errorf("HPO_EXECUTOR must be one of: local, docker, kubernetes (got %q)", kind)
	}
}

// newDrive picks the code drive. Local objectives need no uploaded code, so the
// drive defaults to none for the local executor.
func newDrive(ctx context.Context, executorKind string) (drive.Drive, *httpserver.ReadinessCheck, error) {
	def := "minio"
	if executorKind == "local" {
		def = "none"
	}
	switch kind := strings.ToLower(strings.TrimSpace(env.String("HPO_DRIVE", def))); kind {
	case "none":
		return drive.Nop{}, nil, nil
	case "minio":
		storeCfg, err := objectstore.ConfigFromEnv()
		if err != nil {
			return nil, nil, invalid("invalid object store config", err)
		}
		codeCfg, err := drive.ConfigFromEnv()
		if err != nil {
			return nil, nil, invalid("invalid code drive config", err)
		}
		client, err := objectstore.NewMinIOClient(storeCfg)
		if err != nil {
			return nil, nil, invalid("object store init failed", err)
		}
		if err := objectstore.EnsureBucket(ctx, client, storeCfg); err != nil {
			return nil, nil, unavailable("object store unavailable", err)
		}
		d, err := drive.NewMinioDrive(client, storeCfg, codeCfg)
		if err != nil {
			return nil, nil, invalid("code drive init failed", err)
		}
		check := &httpserver.ReadinessCheck{
			Name: "minio",
			Check: func(ctx context.Context) error {
				checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
				defer cancel()
				return objectstore.CheckBucket(checkCtx, client, storeCfg)
			},
		}
		return d, check, nil
	default:
		return nil, nil, invalid("invalid code drive config", fmt.Errorf("HPO_DRIVE must be one of: minio, none (got %q)", kind))
	}
}

func launcherConfigFromEnv(authCfg auth.Config) (runtimeexec.LauncherConfig, error) {
	syncInterval, err := env.Duration("HPO_SYNC_INTERVAL", 2*time.Second)
	if err != nil {
		return runtimeexec.LauncherConfig{}, err
	}
	cfg := runtimeexec.LauncherConfig{
		ImageRef:      env.String("HPO_TRIAL_IMAGE", ""),
		Entrypoint:    env.CSV("HPO_TRIAL_ENTRYPOINT", []string{"python"}),
		ReportBaseURL: env.String("HPO_REPORT_BASE_URL", "http://localhost:8080"),
		SyncInterval:  syncInterval,
	}
	if secret := strings.TrimSpace(authCfg.TrialTokenSecret); secret != "" {
		ttl := authCfg.TrialTokenTTL
		cfg.Tokens = runtimeexec.TokenIssuerFunc(func(sweepID string, trialID int) (string, error) {
			now := time.Now().UTC()
			return auth.GenerateTrialToken(secret, auth.TrialTokenClaims{
				SweepID:       sweepID,
				TrialID:       trialID,
				IssuedAtUnix:  now.Unix(),
				ExpiresAtUnix: now.Add(ttl).Unix(),
			}, now)
		})
	}
	return cfg, nil
}

func newAuthenticator(ctx context.Context, cfg auth.Config) (auth.Authenticator, error) {
	var base auth.Authenticator
	switch cfg.Mode {
	case auth.ModeDev:
		base = auth.NewDevAuthenticator(cfg)
	case auth.ModeOIDC:
		oidcAuth, err := auth.NewOIDCAuthenticator(ctx, cfg)
		if err != nil {
			return nil, err
		}
		base = oidcAuth
	case auth.ModeDisabled:
		base = auth.AnonymousAuthenticator{}
	default:
		return nil, fmt.Errorf("unsupported auth mode: %q", cfg.Mode)
	}
	return auth.TrialTokenAuthenticator{Secret: cfg.TrialTokenSecret, Next: base}, nil
}
