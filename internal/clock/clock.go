// Package clock supplies the corrected current time used for bucketing.
//
// DESIGN: Bucket keys must be stable regardless of where the daemon runs, so
// the local clock is optionally corrected against an external HTTP reference
// (the Date header of a HEAD response). The offset lives in an atomic so
// readers never block; resync runs on its own goroutine and failures only
// skip a cycle.
package clock

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tokenledger/token-ledger/internal/config"
)

// TimeSource returns the corrected current time.
type TimeSource struct {
	offsetNanos atomic.Int64

	referenceURL string
	interval     time.Duration
	client       *http.Client
}

// Option configures a TimeSource.
type Option func(*TimeSource)

// WithHTTPClient sets a custom HTTP client for reference probes.
func WithHTTPClient(c *http.Client) Option {
	return func(ts *TimeSource) { ts.client = c }
}

// New creates a TimeSource. referenceURL may be empty, in which case Now
// returns the uncorrected local clock and Start is a no-op.
func New(referenceURL string, resyncInterval time.Duration, opts ...Option) *TimeSource {
	ts := &TimeSource{
		referenceURL: referenceURL,
		interval:     resyncInterval,
		client:       &http.Client{Timeout: config.DefaultClockTimeout},
	}
	for _, opt := range opts {
		opt(ts)
	}
	return ts
}

// Now returns the corrected current time.
func (ts *TimeSource) Now() time.Time {
	return time.Now().Add(time.Duration(ts.offsetNanos.Load()))
}

// Start launches the periodic resync loop. It returns immediately; the loop
// stops when ctx is cancelled.
func (ts *TimeSource) Start(ctx context.Context) {
	if ts.referenceURL == "" {
		return
	}
	go func() {
		ts.resync(ctx)
		ticker := time.NewTicker(ts.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ts.resync(ctx)
			}
		}
	}()
}

// Resync probes the reference clock once and updates the offset.
func (ts *TimeSource) resync(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, ts.referenceURL, nil)
	if err != nil {
		log.Debug().Err(err).Msg("clock: bad reference URL")
		return
	}
	resp, err := ts.client.Do(req)
	if err != nil {
		log.Debug().Err(err).Msg("clock: reference probe failed")
		return
	}
	defer resp.Body.Close()

	ref, err := http.ParseTime(resp.Header.Get("Date"))
	if err != nil {
		log.Debug().Err(err).Msg("clock: reference sent no usable Date header")
		return
	}

	// Date headers have second precision; sub-second offsets are noise.
	offset := ref.Sub(time.Now()).Round(time.Second)
	ts.offsetNanos.Store(int64(offset))
	log.Debug().Dur("offset", offset).Msg("clock: resynced")
}

// SetOffset overrides the correction offset. Intended for tests.
func (ts *TimeSource) SetOffset(d time.Duration) {
	ts.offsetNanos.Store(int64(d))
}
