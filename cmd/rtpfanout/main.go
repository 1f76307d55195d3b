// Command rtpfanout runs the RTP fan-out relay: it listens for RTP on a
// UDP socket, replicates each packet to the subscribers registered against
// its SSRC, and serves Prometheus metrics.
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ottopia-tech/rtp-fanout-server/pkg/config"
	"github.com/ottopia-tech/rtp-fanout-server/pkg/fanout"
	"github.com/ottopia-tech/rtp-fanout-server/pkg/metrics"
	"github.com/ottopia-tech/rtp-fanout-server/pkg/queue"
	"github.com/ottopia-tech/rtp-fanout-server/pkg/registry"
	"github.com/ottopia-tech/rtp-fanout-server/pkg/sockets"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Msg("config: invalid configuration")
	}

	conn, err := sockets.ListenIngress(cfg.ListenAddress)
	if err != nil {
		log.Fatal().Err(err).Str("addr", cfg.ListenAddress).Msg("ingress: bind failed")
	}
	log.Info().Str("addr", cfg.ListenAddress).Msg("ingress: listening")

	reg := registry.New(registry.Config{
		MaxSessions:         cfg.MaxSessions,
		MaxFanoutPerSession: cfg.MaxFanoutPerSession,
		ShardCount:          cfg.ShardCount,
	})
	q := queue.New(cfg.BufferSize)
	sendCache := sockets.NewCache()
	m := metrics.New()
	engine := fanout.New(reg, q, sendCache, m, cfg.BatchSize)
	ingress := fanout.NewIngress(conn, q, m)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := ingress.Run(ctx); err != nil {
			log.Error().Err(err).Msg("ingress: exited with error")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		engine.RunWorkers(ctx, cfg.FanoutWorkers)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		runSweeper(ctx, reg, m, time.Duration(cfg.SessionTimeoutSecs)*time.Second)
	}()

	if cfg.EnableMetrics {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := metrics.Server(ctx, cfg.MetricsBindAddress, m.Registry); err != nil {
				log.Error().Err(err).Msg("metrics: server exited with error")
			}
		}()
	}

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case <-ctx.Done():
	}

	cancel()
	sendCache.Close()
	wg.Wait()
	log.Info().Msg("shutdown complete")
}

// runSweeper calls registry.SweepExpired every timeout/4, matching
// SPEC_FULL.md §9's resolution of the expiry-scheduling Open Question, and
// keeps the active_sessions/total_subscribers gauges current.
func runSweeper(ctx context.Context, reg *registry.Registry, m *metrics.Metrics, timeout time.Duration) {
	interval := timeout / 4
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := reg.SweepExpired(time.Now(), timeout)
			if removed > 0 {
				log.Info().Int("removed", removed).Msg("sweeper: expired sessions removed")
			}
			m.ActiveSessions.Set(float64(reg.Count()))
			m.TotalSubscribers.Set(float64(reg.TotalSubscribers()))
		}
	}
}
