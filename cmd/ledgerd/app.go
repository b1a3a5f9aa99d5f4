package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ocx/agentrep/internal/address"
	"github.com/ocx/agentrep/internal/api"
	"github.com/ocx/agentrep/internal/config"
	"github.com/ocx/agentrep/internal/events"
	"github.com/ocx/agentrep/internal/keeper"
	"github.com/ocx/agentrep/internal/ledger"
	"github.com/ocx/agentrep/internal/middleware"
	"github.com/ocx/agentrep/internal/reputation"
	"github.com/ocx/agentrep/internal/store"
	"github.com/ocx/agentrep/internal/store/backends"
	"github.com/ocx/agentrep/internal/token"
	"github.com/ocx/agentrep/internal/websocket"
)

// app holds every long-lived component of the daemon.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    store.Store
	deriver  *address.Deriver
	tokens   *token.RecordLedger
	audit    *ledger.Ledger
	bus      *events.Bus
	emitter  events.Emitter
	registry *prometheus.Registry
	program  *reputation.Program
	metrics  *reputation.Metrics

	// health names the external dependencies /health checks.
	health  map[string]func(context.Context) error
	closers []func() error
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   logger,
		deriver:  address.NewDeriverFromSeed(cfg.Protocol.ProgramSeed),
		audit:    ledger.NewLedger(),
		registry: prometheus.NewRegistry(),
		health:   make(map[string]func(context.Context) error),
	}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	s, err := backends.Open(ctx, cfg.Store, logger)
	if err != nil {
		return nil, err
	}
	a.store = s
	a.closers = append(a.closers, s.Close)

	switch cfg.Events.Backend {
	case "pubsub":
		pb, err := events.NewPubSubBus(ctx, cfg.Events.Project, cfg.Events.Topic, cfg.Events.BufferSize, logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("events: %w", err)
		}
		a.bus, a.emitter = pb.Bus, pb
		a.closers = append(a.closers, pb.Close)
		a.health["pubsub"] = pb.HealthCheck
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.Events.RedisAddr})
		a.closers = append(a.closers, client.Close)
		rb, err := events.NewRedisBus(ctx, client, cfg.Events.Topic, cfg.Events.BufferSize, logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("events: %w", err)
		}
		a.bus, a.emitter = rb.Bus, rb
		a.closers = append(a.closers, rb.Close)
		a.health["redis_events"] = rb.HealthCheck
	default:
		a.bus = events.NewBus(cfg.Events.BufferSize, logger)
		a.emitter = a.bus
	}

	a.tokens = token.NewRecordLedger(a.deriver, logger)
	a.metrics = reputation.NewMetrics(a.registry)
	a.program = reputation.NewProgram(a.store, a.tokens, a.deriver,
		reputation.WithLogger(logger),
		reputation.WithEmitter(a.emitter),
		reputation.WithAuditLog(a.audit),
		reputation.WithMetrics(a.metrics),
	)

	// The escrow gauge only sees changes made by this process; start it
	// from what the store already holds.
	locked, err := a.program.SyncEscrowGauge(ctx)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("seed escrow gauge: %w", err)
	}

	logger.Info("[Ledgerd] Components ready",
		"store", cfg.Store.Backend,
		"events", cfg.Events.Backend,
		"escrow_locked", locked,
		"program_id", a.deriver.ProgramID().Short())
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// mintAddress is where the reputation mint lives for this deployment.
func (a *app) mintAddress() address.Address {
	return a.deriver.Derive(address.NamespaceMint, []byte(a.cfg.Protocol.Genesis.MintSeed))
}

// genesis creates the reputation mint and the protocol config. Both steps
// are skipped when already done, so it is safe on every start.
func (a *app) genesis(ctx context.Context) error {
	g := a.cfg.Protocol.Genesis
	authority, err := address.ParseAddress(g.Authority)
	if err != nil {
		return fmt.Errorf("genesis authority: %w", err)
	}
	mint := a.mintAddress()

	err = a.store.Update(ctx, func(tx store.Txn) error {
		return a.tokens.CreateMint(ctx, tx, mint, a.deriver.MintAuthorityAddress())
	})
	switch {
	case errors.Is(err, token.ErrMintExists):
		a.logger.Info("[Ledgerd] Reputation mint already exists", "mint", mint.Short())
	case err != nil:
		return fmt.Errorf("create mint: %w", err)
	}

	_, err = a.program.Initialize(ctx, reputation.InitializeParams{
		Authority:                authority,
		ReputationMint:           mint,
		MinReputationForVouching: g.MinReputationForVouching,
		DecayRatePerDay:          g.DecayRatePerDay,
		VouchLockupPeriod:        g.VouchLockupSeconds,
	})
	switch {
	case errors.Is(err, reputation.ErrAlreadyInitialized):
		a.logger.Info("[Ledgerd] Protocol already initialized")
	case err != nil:
		return err
	}
	return nil
}

func loadApp(cmd *cobra.Command) (*app, func(), error) {
	m, err := config.Load(configPath, overlayPath)
	if err != nil {
		return nil, nil, err
	}
	cfg := m.Get()
	logger, logCloser, err := newLogger(cfg.Log, os.Stderr)
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logger)

	a, err := newApp(cmd.Context(), cfg, logger)
	if err != nil {
		logCloser.Close()
		return nil, nil, err
	}
	cleanup := func() {
		if err := a.Close(); err != nil {
			logger.Error("[Ledgerd] Close failed", "error", err)
		}
		logCloser.Close()
	}
	return a, cleanup, nil
}

func runGenesisOnly(cmd *cobra.Command, args []string) error {
	a, cleanup, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer cleanup()
	if a.cfg.Protocol.Genesis.Authority == "" {
		return errors.New("protocol.genesis.authority is required")
	}
	return a.genesis(cmd.Context())
}

func runServe(cmd *cobra.Command, args []string) error {
	a, cleanup, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer cleanup()
	ctx := cmd.Context()

	if a.cfg.Protocol.Genesis.Enabled {
		if err := a.genesis(ctx); err != nil {
			return err
		}
	}
	return a.serve(ctx)
}

// serve runs the HTTP server and background workers until ctx is done.
func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg
	stream := websocket.NewEventStreamer(a.bus, a.logger)
	opts := []api.Option{
		api.WithLogger(a.logger),
		api.WithAuditLog(a.audit),
		api.WithEventStream(stream),
		api.WithMetrics(a.registry),
	}
	for name, check := range a.health {
		opts = append(opts, api.WithHealthCheck(name, check))
	}
	var limiter *middleware.RateLimiter
	if cfg.Server.RateLimitPerMinute > 0 {
		limiter = middleware.NewRateLimiter(middleware.RateLimitConfig{MaxCallsPerMinute: cfg.Server.RateLimitPerMinute}, a.logger)
		opts = append(opts, api.WithRateLimiter(limiter))
	}
	server := api.NewServer(a.program, opts...)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		stream.Run(ctx)
		return nil
	})
	g.Go(func() error {
		backends.RunMaintenance(ctx, a.store, cfg.Store, a.logger)
		return nil
	})
	if limiter != nil {
		g.Go(func() error {
			limiter.Cleanup(ctx, 5*time.Minute)
			return nil
		})
	}
	if cfg.Keeper.Enabled {
		k := keeper.New(a.program, keeper.Config{
			Interval: time.Duration(cfg.Keeper.IntervalSeconds) * time.Second,
			IdleDays: cfg.Keeper.IdleDays,
		}, keeper.WithLogger(a.logger))
		k.Start(ctx)
		defer k.Stop()
	}
	g.Go(func() error {
		shutdown := time.Duration(cfg.Server.ShutdownTimeoutSeconds) * time.Second
		return server.ListenAndServe(ctx, ":"+cfg.Server.Port, shutdown)
	})

	err := g.Wait()
	a.logger.Info("[Ledgerd] Stopped", "audit_entries", a.audit.Len(), "audit_root", a.audit.Root())
	return err
}
