// Package metrics wires the core's observable counters through
// github.com/ipfs/go-metrics-interface, the same indirection the later
// go-ipfs Bitswap implementation uses (see
// _examples/other_examples/8a6adc73_rdbox-go-ipfs__exchange-bitswap-wantmanager.go.go's
// metrics.NewCtx(ctx, ...).Gauge()/Histogram() calls) so that an embedding
// host can swap in a Prometheus, OpenCensus, or no-op implementation
// without this package depending on any of them directly.
package metrics

import (
	"context"

	"github.com/ipfs/go-metrics-interface"
)

// sizeBuckets mirrors the coarse byte-size histogram buckets used by the
// go-ipfs Bitswap wantmanager for its sent/received counters: powers of two
// from 1KiB to 4MiB, since block payloads are typically sub-MiB.
var sizeBuckets = []float64{
	1 << 10, 1 << 12, 1 << 14, 1 << 16, 1 << 18, 1 << 20, 1 << 22,
}

// Set holds every gauge/histogram this core reports. All fields are safe
// to call concurrently; the underlying implementations are themselves
// concurrency-safe even though the core calling them is not internally
// parallel (a runloop driving two cores, or an embedding host instrumenting
// from a separate goroutine, may read gauges at any time).
type Set struct {
	WantlistSize    metrics.Gauge
	Requests        metrics.Gauge
	Cancels         metrics.Gauge
	ProvidersFound  metrics.Gauge
	DuplicateBlocks metrics.Gauge
	BytesSent       metrics.Histogram
	BytesReceived   metrics.Histogram
}

// New creates a metrics Set scoped under ctx, as returned by
// go-metrics-interface.CtxScope. Passing context.Background() yields a
// no-op Set suitable for tests.
func New(ctx context.Context) *Set {
	ctx = metrics.CtxScope(ctx, "bitswap")
	return &Set{
		WantlistSize:    metrics.NewCtx(ctx, "wantlist_size", "number of entries currently wanted across all peers").Gauge(),
		Requests:        metrics.NewCtx(ctx, "requests_total", "inbound want/want-have requests seen").Gauge(),
		Cancels:         metrics.NewCtx(ctx, "cancels_total", "inbound cancel requests seen").Gauge(),
		ProvidersFound:  metrics.NewCtx(ctx, "providers_found_total", "Have responses accumulated by find_providers queries").Gauge(),
		DuplicateBlocks: metrics.NewCtx(ctx, "duplicate_blocks_total", "blocks received again for a recently received CID with no outstanding want").Gauge(),
		BytesSent:       metrics.NewCtx(ctx, "bytes_sent", "size of block payloads attached to outbound messages").Histogram(sizeBuckets),
		BytesReceived:   metrics.NewCtx(ctx, "bytes_received", "size of block payloads received from peers").Histogram(sizeBuckets),
	}
}
