package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"limitboard/internal/api"
	"limitboard/internal/config"
	"limitboard/internal/pipeline"
	"limitboard/internal/scheduler"
	"limitboard/internal/snapshot"
	"limitboard/internal/util"
)

func main() {
	cfgPath := config.DefaultPath
	if p := os.Getenv("LIMITBOARD_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	p, err := pipeline.New(cfg, pipeline.Options{Registerer: reg}, logger)
	if err != nil {
		log.Fatalf("wiring markets: %v", err)
	}
	defer p.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var srv *api.Server
	run := func(ctx context.Context, market, slot string) error {
		err := p.Run(ctx, market, slot)
		srv.Health().MarkRun(market, err)
		return err
	}

	srv = api.NewServer(p.Files(), api.Options{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		GRPCPort:        cfg.Server.GRPCPort,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		Markets:         p.Markets(),
		Gatherer:        reg,
		Trigger: func(ctx context.Context, market string) error {
			return run(ctx, market, snapshot.SlotClose)
		},
	}, reg, logger)
	p.AddSink(srv)

	sched := scheduler.New(ctx, run, logger)
	sched.Timeout = 2 * time.Hour
	for _, code := range p.Markets() {
		m, _ := p.Market(code)
		for slot, spec := range map[string]string{
			snapshot.SlotClose:  m.Config.Cron,
			snapshot.SlotMidday: m.Config.MiddayCron,
		} {
			if spec == "" {
				continue
			}
			if err := sched.Add(scheduler.Entry{Market: code, Slot: slot, Spec: spec, Timezone: m.Config.Timezone}); err != nil {
				log.Fatalf("scheduling: %v", err)
			}
		}
	}

	if err := srv.Start(); err != nil {
		log.Fatalf("starting api: %v", err)
	}
	sched.Start()

	<-ctx.Done()
	logger.Info("shutting down limitboard-server")

	sched.Stop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "err", err)
	}
}
