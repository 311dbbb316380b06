package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/sentinel-gate/broker/internal/adapter/inbound/metrics"
	"github.com/sentinel-gate/broker/internal/adapter/outbound/audit"
	"github.com/sentinel-gate/broker/internal/adapter/outbound/authstore"
	"github.com/sentinel-gate/broker/internal/adapter/outbound/gateway"
	"github.com/sentinel-gate/broker/internal/adapter/outbound/memory"
	"github.com/sentinel-gate/broker/internal/adapter/outbound/otelboot"
	"github.com/sentinel-gate/broker/internal/config"
	domainaudit "github.com/sentinel-gate/broker/internal/domain/audit"
	"github.com/sentinel-gate/broker/internal/domain/wrapper"
	"github.com/sentinel-gate/broker/internal/service"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the broker and its background expiry sweeper",
	Long: `Start the privileged-operation broker.

broker has no HTTP surface of its own (see the project documentation for
why): start boots the Approval Engine, the Wrapper Gateway, and the
background sweeper, then blocks until SIGINT/SIGTERM. A caller drives the
running process through the CLI's approve/reject/cancel/execute
subcommands, which talk to the same state database.`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logLevel := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := boot(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer env.shutdown(context.Background())

	logger.Info("broker starting",
		"version", Version,
		"dev_mode", cfg.DevMode,
		"state_db", cfg.StateDB,
		"wrappers", len(cfg.Wrappers),
		"sweep_interval", cfg.SweepInterval(),
	)

	env.runSweeper(ctx)

	<-ctx.Done()
	logger.Info("broker stopped")
	return nil
}

// brokerEnv bundles the wired-up broker for start's lifetime.
type brokerEnv struct {
	cfg       *config.BrokerConfig
	logger    *slog.Logger
	db        *authstore.DB
	auditLog  domainaudit.Store
	otel      *otelboot.Providers
	Approvals *service.ApprovalService
}

func boot(ctx context.Context, cfg *config.BrokerConfig, logger *slog.Logger) (*brokerEnv, error) {
	db, err := authstore.Open(ctx, cfg.StateDB)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}

	policyTable := cfg.PolicyTable()
	policyStore := authstore.NewPolicyStore(db)
	if err := policyStore.Seed(ctx, policyTable); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("seed policy table: %w", err)
	}
	loadedPolicies, err := policyStore.Load(ctx)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("load policy table: %w", err)
	}

	key, err := cfg.HMAC.Resolve()
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("resolve hmac key: %w", err)
	}
	signer, err := audit.NewSigner(key)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init audit signer: %w", err)
	}

	var auditLog domainaudit.Store
	if cfg.DevMode {
		// No file rotation/retention machinery needed for a throwaway dev
		// run; events still print as they're appended.
		auditLog = memory.NewAuditStore(cfg.Audit.CacheSize)
	} else {
		fileStore, err := audit.NewFileStore(audit.FileStoreConfig{
			Dir:           cfg.Audit.Dir,
			RetentionDays: cfg.Audit.RetentionDays,
			MaxFileSizeMB: cfg.Audit.MaxFileSizeMB,
			CacheSize:     cfg.Audit.CacheSize,
		}, logger)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init audit log: %w", err)
		}
		auditLog = fileStore
	}

	specs := make([]wrapper.Spec, 0, len(cfg.Wrappers))
	for _, w := range cfg.Wrappers {
		specs = append(specs, wrapper.Spec{
			ID:      wrapper.ID(w.ID),
			Path:    w.Path,
			Timeout: w.TimeoutMS,
		})
	}
	registry, err := wrapper.NewRegistry(specs)
	if err != nil {
		_ = auditLog.Close()
		_ = db.Close()
		return nil, fmt.Errorf("build wrapper registry: %w", err)
	}
	gw := gateway.New(registry, auditLog)

	roleTable := cfg.RoleTable()
	authz, err := service.NewAuthzService(roleTable, loadedPolicies, logger)
	if err != nil {
		_ = auditLog.Close()
		_ = db.Close()
		return nil, fmt.Errorf("init authorization service: %w", err)
	}

	otelProviders, err := otelboot.Setup("broker", cfg.Observability.TracingEnabled)
	if err != nil {
		_ = auditLog.Close()
		_ = db.Close()
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	// No in-scope HTTP surface exposes this registry (see the project's
	// HTTP non-goal); the registry still gives the collectors a real home
	// for an operator wiring their own exporter in front of the process.
	m := metrics.New(prometheus.NewRegistry())

	approvalStore := authstore.NewApprovalStore(db)
	approvals := service.NewApprovalService(approvalStore, auditLog, signer, authz, gw, loadedPolicies, logger,
		service.WithMetrics(m),
		service.WithTracer(otelProviders.Tracer),
		service.WithCronAllowlist(cfg.CronCommandAllowlist),
	)

	return &brokerEnv{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		auditLog:  auditLog,
		otel:      otelProviders,
		Approvals: approvals,
	}, nil
}

func (e *brokerEnv) shutdown(ctx context.Context) {
	if err := e.otel.Shutdown(ctx); err != nil {
		e.logger.Warn("telemetry shutdown error", "error", err)
	}
	if err := e.auditLog.Close(); err != nil {
		e.logger.Warn("audit log close error", "error", err)
	}
	if err := e.db.Close(); err != nil {
		e.logger.Warn("state db close error", "error", err)
	}
}

// runSweeper starts the background expiry sweep on its own goroutine,
// running until ctx is cancelled.
func (e *brokerEnv) runSweeper(ctx context.Context) {
	interval := e.cfg.SweepInterval()
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := e.Approvals.SweepExpired(ctx)
				if err != nil {
					e.logger.Error("sweep expired approvals failed", "error", err)
					continue
				}
				if n > 0 {
					e.logger.Info("swept expired approvals", "count", n)
				}
			}
		}
	}()
}

// parseLogLevel converts a string log level to slog.Level, defaulting to
// info for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
