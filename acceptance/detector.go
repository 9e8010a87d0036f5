package acceptance

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Config tunes the detector. Zero values fall back to the defaults below.
type Config struct {
	// StableEmpty is how long the ghost overlay must stay empty before the
	// detector compares document text against the snapshot.
	StableEmpty time.Duration
	// PollInterval paces Run's evaluation loop while a suggestion is active.
	PollInterval time.Duration
	// MaxMatchPrefix bounds how deep into the normalized document text a
	// match may start and still count as an acceptance.
	MaxMatchPrefix int
	// GapFactor stops the downward scan when the vertical gap between two
	// lines exceeds GapFactor times the anchor's line height.
	GapFactor float64
	// MaxScanLines bounds the downward scan from each anchor.
	MaxScanLines int
	// FallbackLineHeight substitutes for anchors that carry no line metrics.
	FallbackLineHeight float64

	Logger *slog.Logger
	// Now is the clock, replaceable in tests.
	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.StableEmpty <= 0 {
		c.StableEmpty = 150 * time.Millisecond
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 250 * time.Millisecond
	}
	if c.MaxMatchPrefix <= 0 {
		c.MaxMatchPrefix = 1200
	}
	if c.GapFactor <= 0 {
		c.GapFactor = 2.2
	}
	if c.MaxScanLines <= 0 {
		c.MaxScanLines = 20
	}
	if c.FallbackLineHeight <= 0 {
		c.FallbackLineHeight = 27
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// anchor is one snapshot entry, keyed by its top offset.
type anchor struct {
	block Block
	norm  string
}

// Detector is the suggestion-episode state machine. One instance watches one
// editor surface; all methods are safe for concurrent use.
type Detector struct {
	cfg    Config
	reader Reader
	sink   Sink

	mu        sync.Mutex
	active    bool
	anchors   []anchor
	lastSeen  time.Time
	lastEmpty time.Time

	poke chan struct{}
}

// New creates a Detector over reader, reporting to sink.
func New(reader Reader, sink Sink, cfg Config) *Detector {
	return &Detector{
		cfg:    cfg.withDefaults(),
		reader: reader,
		sink:   sink,
		poke:   make(chan struct{}, 1),
	}
}

// Active reports whether a suggestion episode is in progress.
func (d *Detector) Active() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

// Poke requests an immediate evaluation from the Run loop. Safe to call from
// event handlers; never blocks.
func (d *Detector) Poke() {
	select {
	case d.poke <- struct{}{}:
	default:
	}
}

// Run polls Evaluate until ctx is cancelled.
func (d *Detector) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.poke:
		case <-ticker.C:
		}
		if err := d.Evaluate(ctx); err != nil {
			d.cfg.Logger.Warn("acceptance evaluate failed", "error", err)
		}
	}
}

// Evaluate advances the state machine one step: refresh the snapshot while
// ghosts are visible, arm the empty debounce when they vanish, and run the
// comparison once the overlay has stayed empty long enough.
func (d *Detector) Evaluate(ctx context.Context) error {
	blocks, err := d.reader.GhostBlocks(ctx)
	if err != nil {
		return err
	}
	now := d.cfg.Now()

	d.mu.Lock()
	if len(blocks) > 0 {
		firstActivate := !d.active
		d.active = true
		d.anchors = snapshot(blocks)
		d.lastSeen = now
		d.lastEmpty = time.Time{}
		d.mu.Unlock()
		if firstActivate {
			d.cfg.Logger.Debug("suggestion snapshot captured", "anchors", len(blocks))
		}
		return nil
	}

	if !d.active || len(d.anchors) == 0 {
		d.lastEmpty = time.Time{}
		d.mu.Unlock()
		return nil
	}
	if d.lastEmpty.IsZero() {
		d.lastEmpty = now
		d.mu.Unlock()
		return nil
	}
	if now.Sub(d.lastEmpty) < d.cfg.StableEmpty {
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	return d.runCompare(ctx)
}

// ForceReject ends the current episode as a rejection, emitting a forced
// empty snapshot so the aggregation side closes its intervals too.
func (d *Detector) ForceReject(ctx context.Context, reason string) {
	d.mu.Lock()
	d.reset()
	d.mu.Unlock()
	d.sink.ForcedEmpty(ctx, reason)
}

// reset clears the episode. Caller holds d.mu.
func (d *Detector) reset() {
	d.active = false
	d.anchors = nil
	d.lastSeen = time.Time{}
	d.lastEmpty = time.Time{}
}

func snapshot(blocks []Block) []anchor {
	// Later blocks with the same top replace earlier ones, matching a keyed
	// map whose insertion order follows document order.
	byTop := make(map[float64]int, len(blocks))
	out := make([]anchor, 0, len(blocks))
	for _, b := range blocks {
		a := anchor{block: b, norm: normalizeText(b.Text)}
		if i, seen := byTop[b.Top]; seen {
			out[i] = a
			continue
		}
		byTop[b.Top] = len(out)
		out = append(out, a)
	}
	return out
}
