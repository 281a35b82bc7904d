package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"wildscan/internal/api"
	"wildscan/pkg/account"
	"wildscan/pkg/cache"
	"wildscan/pkg/captcha"
	"wildscan/pkg/catalog"
	"wildscan/pkg/config"
	"wildscan/pkg/db"
	"wildscan/pkg/game"
	"wildscan/pkg/logging"
	"wildscan/pkg/notify"
	"wildscan/pkg/overseer"
	"wildscan/pkg/pipeline"
	"wildscan/pkg/proxy"
	"wildscan/pkg/store"
	"wildscan/pkg/worker"
)

var (
	configPath  = flag.String("config", "configs/wildscan.yaml", "Path to config file")
	noStatusBar = flag.Bool("no-status-bar", false, "Log to stdout instead of drawing the status screen")
	logLevel    = flag.String("log-level", "", "Override configured log level")
	bootstrap   = flag.Bool("bootstrap", false, "Force a full area bootstrap before scanning")
	noSnapshot  = flag.Bool("no-snapshot", false, "Ignore the spawn snapshot and read the database")
	initConfig  = flag.Bool("init-config", false, "Generate default config file and exit")
)

func main() {
	flag.Parse()

	if *initConfig {
		if err := config.Save(*configPath, config.DefaultConfig()); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Config file generated: %s\n", *configPath)
		return
	}

	if err := run(context.Background()); err != nil && err != context.Canceled {
		fmt.Fprintf(os.Stderr, "CRITICAL ERROR: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Secrets may live in a local .env instead of the YAML.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	statusBar := !*noStatusBar
	cleanupLogs, err := logging.Init(&cfg.Log, statusBar)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer cleanupLogs()
	slog.Info("wildscan started", "area", cfg.Area, "workers", cfg.Area.Cells())

	dbConn, err := db.Init(cfg.DB.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbConn.Close()
	st := store.NewSQLiteStore(dbConn)

	sightings, err := cache.NewSightingCache()
	if err != nil {
		return fmt.Errorf("failed to build sighting cache: %w", err)
	}
	longspawns, err := cache.NewLongSpawnCache()
	if err != nil {
		return fmt.Errorf("failed to build long-spawn cache: %w", err)
	}

	log := slog.Default()
	pipe := pipeline.New(st, sightings, longspawns, log)

	notifier := notify.New(cfg.Notify, notify.LogSender{Log: log}, log)
	if cfg.Notify.Enabled && cfg.Notify.Ranking > 0 {
		ranking, err := st.SpeciesRanking(ctx)
		if err != nil {
			return fmt.Errorf("failed to load species ranking: %w", err)
		}
		notifier.SetRanking(ranking)
	}

	rt := worker.NewRuntime(cfg)
	rt.Pipeline = pipe
	rt.Catalog = catalog.New(st, cfg.Snapshot.Spawns, log)
	rt.Sightings = sightings
	rt.Notifier = notifier
	rt.Accounts = account.NewManager(cfg.Snapshot.Accounts, log)
	rt.Proxies = proxy.NewRotator(cfg.ProxySet(), cfg.ControlSocks, log)
	rt.Cells = game.NewCellTable()
	rt.NewClient = func() game.Client {
		c := game.NewHTTPClient(cfg.Upstream, cfg.HashKey)
		c.AppSimulation = cfg.Scan.AppSimulation
		return c
	}

	ov, err := overseer.New(cfg, rt, log, *bootstrap)
	if err != nil {
		return fmt.Errorf("failed to build overseer: %w", err)
	}

	captchaSvc := captcha.NewService(
		captcha.ManualSolver{},
		verifier(rt),
		rt.Accounts.Captcha, rt.Accounts.Extra, log,
	)
	go captchaSvc.Run(ctx)

	if cfg.Viewer.Address != "" {
		viewer := api.New(cfg.Viewer.Address, cfg.Viewer.AuthKey, cfg.Scan.MapWorkers, ov.Snapshot, log)
		go func() {
			if err := viewer.Run(ctx); err != nil {
				slog.Error("viewer failed", "error", err)
			}
		}()
	}

	launchErr := make(chan error, 1)
	go func() {
		launchErr <- ov.Launch(ctx, !*noSnapshot)
	}()
	go ov.Check(ctx, statusBar, os.Stdout)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("signal received, shutting down", "signal", sig)
	case err := <-launchErr:
		if err != nil && err != context.Canceled {
			slog.Error("scheduler failed", "error", err)
		}
	}

	cancel()
	ov.Kill()
	pipe.Kill()
	pipe.Wait()
	slog.Info("wildscan stopped")
	return nil
}

// verifier submits solved captcha tokens on a throwaway client.
func verifier(rt *worker.Runtime) captcha.Verifier {
	return func(ctx context.Context, a *account.Account, token string) error {
		client := rt.NewClient()
		if err := client.SetAuthentication(ctx, a.Username, a.Password, a.Provider); err != nil {
			return err
		}
		ok, err := client.VerifyChallenge(ctx, token)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("challenge token rejected for %s", a.Username)
		}
		return nil
	}
}
