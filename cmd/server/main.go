package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SamYueHW/advancedReport-server/internal/config"
	"github.com/SamYueHW/advancedReport-server/internal/health"
	"github.com/SamYueHW/advancedReport-server/internal/logger"
	"github.com/SamYueHW/advancedReport-server/internal/rowops"
	"github.com/SamYueHW/advancedReport-server/internal/session"
	"github.com/SamYueHW/advancedReport-server/internal/store"
	"github.com/SamYueHW/advancedReport-server/internal/tenant"
	"github.com/SamYueHW/advancedReport-server/internal/transport"
)

var serviceVersion = "1.0.0"

func main() {
	standalone := flag.Bool("standalone", true, "run without a supervisor connection")
	flag.Parse()
	_ = standalone // this bridge is always a standalone process; kept for CLI parity

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("advancedreport-server: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := logger.New("advancedreport-server", serviceVersion)
	log.SetLevel(cfg.LogLevel)

	storeMgr := store.NewManager(store.Config{
		Host:     cfg.TargetHost,
		Port:     cfg.TargetPort,
		User:     cfg.TargetUser,
		Password: cfg.TargetPassword,
	}, log)

	directoryDSN := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		cfg.DirectoryUser, cfg.DirectoryPassword, cfg.DirectoryHost, cfg.DirectoryPort, cfg.DirectoryDatabase)

	tenantSvc, err := tenant.New(ctx, tenant.Config{
		DirectoryDSN:  directoryDSN,
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		RedisDB:       cfg.RedisDB,
		CacheTTL:      cfg.LicenseCacheTTL,
	}, log)
	if err != nil {
		return fmt.Errorf("starting tenant service: %w", err)
	}
	defer tenantSvc.Close()

	if seeds, err := config.LoadTenantSeed(cfg.TenantSeedFile); err != nil {
		log.Warn("tenant seed file not loaded: %v", err)
	} else if len(seeds) > 0 {
		if err := tenantSvc.LoadSeeds(ctx, toTenantSeeds(seeds)); err != nil {
			log.Warn("tenant seed upsert failed: %v", err)
		} else {
			log.Info("loaded %d tenant directory seed rows", len(seeds))
		}
	}

	dispatcher := rowops.NewDispatcher(storeMgr)

	checker := health.NewChecker()
	checker.RunCheck("tenant_directory", func() error { return tenantSvc.HealthCheck(ctx) })

	newSession := func(sender session.Sender) *session.Session {
		return session.New(session.Config{
			TenantService: tenantSvc,
			Dispatcher:    dispatcher,
			Store:         storeMgr,
			Sender:        sender,
			Logger:        log,
			UploadsDir:    cfg.UploadsDir,
		})
	}

	transportCfg := transport.DefaultConfig()
	transportCfg.ListenAddr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	transportCfg.MaxMessageSize = cfg.MaxMessageSize
	transportCfg.HandshakeTimeout = cfg.UpgradeTimeout
	transportCfg.PongWait = cfg.PingTimeout
	transportCfg.PingPeriod = cfg.PingInterval
	transportCfg.DisableCompression = cfg.DisableCompression
	if cfg.SessionTimeout > 0 {
		transportCfg.PollSessionTimeout = cfg.SessionTimeout
	}

	tm := transport.NewManager(transportCfg, newSession, log).WithHealthChecker(checker)
	if err := tm.Start(); err != nil {
		return fmt.Errorf("starting transport: %w", err)
	}
	log.Info("advancedreport-server listening on %s", transportCfg.ListenAddr)

	<-ctx.Done()
	log.Info("shutting down")

	return tm.Stop()
}

func toTenantSeeds(seeds []config.TenantSeed) []tenant.Seed {
	out := make([]tenant.Seed, 0, len(seeds))
	for _, s := range seeds {
		expire, err := time.Parse("2006-01-02", s.LicenseExpire)
		if err != nil {
			expire, err = time.Parse(time.RFC3339, s.LicenseExpire)
			if err != nil {
				continue
			}
		}
		out = append(out, tenant.Seed{
			StoreID:       s.StoreID,
			StoreName:     s.StoreName,
			AppID:         s.AppID,
			LicenseExpire: expire,
		})
	}
	return out
}
