// Package gate bounds the three independently-contended resources: upstream
// API calls, media-pipeline subprocesses, and webhook posts.
//
// Permits are acquired immediately before the guarded call and released
// immediately after. A task never holds two permits at once.
package gate

import (
	"context"

	"golang.org/x/sync/semaphore"
)

const (
	DefaultUpstream   = 2
	DefaultProcessing = 4
	DefaultWebhook    = 4
)

// Gates carries the three counting semaphores.
type Gates struct {
	upstream   *semaphore.Weighted
	processing *semaphore.Weighted
	webhook    *semaphore.Weighted

	upstreamCap int
}

// New builds the gates. Non-positive capacities fall back to the defaults.
func New(upstream, processing, webhook int) *Gates {
	if upstream <= 0 {
		upstream = DefaultUpstream
	}
	if processing <= 0 {
		processing = DefaultProcessing
	}
	if webhook <= 0 {
		webhook = DefaultWebhook
	}
	return &Gates{
		upstream:    semaphore.NewWeighted(int64(upstream)),
		processing:  semaphore.NewWeighted(int64(processing)),
		webhook:     semaphore.NewWeighted(int64(webhook)),
		upstreamCap: upstream,
	}
}

// UpstreamCap is the upstream capacity; the scheduler uses it as batch size.
func (g *Gates) UpstreamCap() int { return g.upstreamCap }

// Upstream blocks until an upstream permit is available and returns its
// release func, or fails when ctx is cancelled first.
func (g *Gates) Upstream(ctx context.Context) (func(), error) {
	return acquire(ctx, g.upstream)
}

// Processing gates transcoder subprocesses.
func (g *Gates) Processing(ctx context.Context) (func(), error) {
	return acquire(ctx, g.processing)
}

// Webhook gates destination posts.
func (g *Gates) Webhook(ctx context.Context) (func(), error) {
	return acquire(ctx, g.webhook)
}

func acquire(ctx context.Context, sem *semaphore.Weighted) (func(), error) {
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { sem.Release(1) }, nil
}
