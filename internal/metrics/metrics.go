// Package metrics exposes the daemon's Prometheus counters and the optional
// /metrics listener.
package metrics

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Polls = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "scarchivebot",
		Name:      "polls_total",
		Help:      "Completed poll ticks.",
	})
	NewTracks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "scarchivebot",
		Name:      "new_tracks_total",
		Help:      "Tracks seen for the first time.",
	})
	WebhookPosts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scarchivebot",
		Name:      "webhook_posts_total",
		Help:      "Webhook announcements by outcome.",
	}, []string{"status"})
	UpstreamRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "scarchivebot",
		Name:      "upstream_retries_total",
		Help:      "Upstream request attempts beyond the first.",
	})
	AccountErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "scarchivebot",
		Name:      "account_errors_total",
		Help:      "Per-account poll failures.",
	})
	StoreSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "scarchivebot",
		Name:      "known_tracks",
		Help:      "Track ids in the store.",
	})
)

// Serve runs the /metrics listener on addr until ctx is cancelled. Listener
// failures are logged, never fatal; metrics are an operator convenience.
func Serve(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shctx)
	}()
	log.Printf("metrics: listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Printf("metrics: listener: %v", err)
	}
}
