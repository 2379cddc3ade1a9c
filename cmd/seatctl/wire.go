package main

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	seatbridge "github.com/opengovern/seat-bridge"
	"github.com/opengovern/seat-bridge/adapters"
	"github.com/opengovern/seat-bridge/backends"
)

// newBridge assembles the backends described by cfg. Every transport and
// backend shares status. queue may be nil, in which case offline calls fail
// instead of being spooled.
func newBridge(cfg *seatbridge.Config, logger *slog.Logger, reg prometheus.Registerer, status seatbridge.NetworkStatus, queue seatbridge.OfflineQueue) (*seatbridge.SeatBridge, error) {
	metrics := seatbridge.NewMetrics(reg)

	pool, err := adapters.NewEndpointPool(cfg.Legacy.Endpoints)
	if err != nil {
		return nil, err
	}
	jsonpOpts := []adapters.JSONPOption{
		adapters.WithJSONPClient(&http.Client{Timeout: cfg.Legacy.Timeout}),
		adapters.WithUserAgent(cfg.Legacy.UserAgent),
		adapters.WithJSONPLogger(logger),
		adapters.WithNetworkStatus(status),
	}
	legacyOpts := []backends.LegacyOption{
		backends.WithLegacyNetworkStatus(status),
		backends.WithLegacyMetrics(metrics),
		backends.WithLegacyLogger(logger),
	}
	if queue != nil {
		jsonpOpts = append(jsonpOpts, adapters.WithOfflineDelegation(true))
		legacyOpts = append(legacyOpts, backends.WithOfflineQueue(queue))
	}

	var transport seatbridge.Transport = adapters.NewJSONPAdapter(pool, jsonpOpts...)
	if cfg.Features.PostTransport {
		transport = adapters.NewPostAdapter(pool, transport,
			adapters.WithPostTimeout(cfg.Legacy.Timeout),
			adapters.WithPostNetworkStatus(status),
			adapters.WithPostLogger(logger))
	}
	legacy := backends.NewLegacy(transport, legacyOpts...)

	opts := seatbridge.Options{
		Mode:   cfg.Mode,
		Legacy: legacy,
		Cache: seatbridge.NewRequestCache(cfg.Cache,
			seatbridge.WithCacheMetrics(metrics),
			seatbridge.WithCacheLogger(logger)),
		DefaultTimeout: cfg.DefaultTimeout,
		Logger:         logger,
		Metrics:        metrics,
	}

	if cfg.Mode == seatbridge.ModePrimary {
		limiter := seatbridge.NewRateLimiter()
		store := adapters.NewRESTClient(cfg.Primary.URL, cfg.Primary.Key, cfg.Primary.Timeout,
			adapters.WithRESTRateLimiter(limiter, backends.PrimaryName),
			adapters.WithRESTLogger(logger))
		breaker := seatbridge.NewCircuitBreaker(backends.PrimaryName, cfg.Breaker, logger,
			metrics.BreakerObserver(backends.PrimaryName))
		executor := seatbridge.NewRequestExecutor(cfg.RetryPolicy(),
			seatbridge.WithRateLimiter(limiter, backends.PrimaryName),
			seatbridge.WithExecutorLogger(logger))

		opts.Primary = backends.NewPrimary(store, legacy,
			backends.WithPrimaryLogger(logger),
			backends.WithAPIKey(cfg.Primary.Key),
			backends.WithPrimaryNetworkStatus(status),
			backends.WithBreaker(breaker),
			backends.WithExecutor(executor),
			backends.WithFeatures(cfg.Features),
			backends.WithPrimaryMetrics(metrics))
	}
	return seatbridge.NewSeatBridge(opts)
}
