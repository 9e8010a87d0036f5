package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hazyhaar/ghostwatch/ia"
	"github.com/hazyhaar/ghostwatch/store"
)

// Tracker is the session coordinator.
type Tracker struct {
	store      *store.Store
	logger     *slog.Logger
	now        func() time.Time
	summarizer *ia.Summarizer
	exporter   *ia.Exporter

	// cfgMu guards the fields that settings_updated may swap at runtime.
	cfgMu sync.RWMutex
	cfg   Config
	agg   *ia.Aggregator

	// updateMu single-flights cache advances so two triggers never process
	// the same log slice twice.
	updateMu sync.Mutex

	sigMu   sync.Mutex
	lastSig map[string]sigEntry
}

type sigEntry struct {
	sig string
	at  time.Time
}

// TrackerOption customises a Tracker.
type TrackerOption func(*Tracker)

// WithLogger sets the tracker's logger. Default: slog.Default().
func WithLogger(l *slog.Logger) TrackerOption {
	return func(t *Tracker) { t.logger = l }
}

// WithClock replaces the clock, for tests.
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) { t.now = now }
}

// New creates a Tracker over an open store.
func New(st *store.Store, cfg Config, opts ...TrackerOption) *Tracker {
	cfg.applyDefaults()
	t := &Tracker{
		store:      st,
		logger:     slog.Default(),
		now:        time.Now,
		summarizer: ia.NewSummarizer(),
		exporter:   ia.NewExporter(),
		cfg:        cfg,
		agg:        ia.New(cfg.liveAggregatorConfig()),
		lastSig:    make(map[string]sigEntry),
	}
	t.summarizer.Cap = cfg.SummaryCap
	for _, o := range opts {
		o(t)
	}
	return t
}

// Config returns a copy of the current configuration.
func (t *Tracker) Config() Config {
	t.cfgMu.RLock()
	defer t.cfgMu.RUnlock()
	return t.cfg
}

// ApplySettings adjusts the runtime-tunable configuration and rebuilds the
// aggregator when geometry settings changed.
func (t *Tracker) ApplySettings(s Settings) {
	t.cfgMu.Lock()
	defer t.cfgMu.Unlock()
	if s.WindowOffset != nil {
		off := *s.WindowOffset
		if off < 0 {
			off = 0
		}
		t.cfg.WindowOffset = &off
	}
	if s.ExportMarginH != nil {
		t.cfg.ExportMarginH = *s.ExportMarginH
	}
	if s.ExportMarginV != nil {
		t.cfg.ExportMarginV = *s.ExportMarginV
	}
	if s.DedupeWindow != nil && *s.DedupeWindow > 0 {
		t.cfg.DedupeWindow = *s.DedupeWindow
	}
	if s.SummaryCap != nil && *s.SummaryCap > 0 {
		t.cfg.SummaryCap = *s.SummaryCap
		t.summarizer.Cap = *s.SummaryCap
	}
	if s.UpdateInterval != nil && *s.UpdateInterval > 0 {
		t.cfg.UpdateInterval = *s.UpdateInterval
	}
	t.cfg.applyDefaults()
	t.agg = ia.New(t.cfg.liveAggregatorConfig())
	t.logger.Info("settings applied", "window_offset", *t.cfg.WindowOffset)
}

func (t *Tracker) aggregator() *ia.Aggregator {
	t.cfgMu.RLock()
	defer t.cfgMu.RUnlock()
	return t.agg
}

// LogCoordinates appends one snapshot event. Snapshots repeating the
// previous signature from the same sender within the dedupe window are
// dropped; stored reports whether the event was kept.
func (t *Tracker) LogCoordinates(ctx context.Context, sender string, p ia.Payload) (stored bool, err error) {
	if p.Signature != "" && t.isDuplicate(sender, p.Signature) {
		return false, nil
	}
	ev := ia.Event{
		Timestamp: t.now().UTC().Format(time.RFC3339Nano),
		Payload:   &p,
	}
	if err := t.store.AppendEvent(ctx, ev); err != nil {
		return false, err
	}
	return true, nil
}

func (t *Tracker) isDuplicate(sender, sig string) bool {
	t.cfgMu.RLock()
	window := t.cfg.DedupeWindow
	t.cfgMu.RUnlock()

	now := t.now()
	t.sigMu.Lock()
	defer t.sigMu.Unlock()
	prev, ok := t.lastSig[sender]
	if ok && prev.sig == sig && now.Sub(prev.at) < window {
		return true
	}
	t.lastSig[sender] = sigEntry{sig: sig, at: now}
	return false
}

// LogKeypress appends the session origin marker.
func (t *Tracker) LogKeypress(ctx context.Context, message, timestamp string) error {
	if message == "" {
		message = ia.OriginMarkerMessage
	}
	if timestamp == "" {
		timestamp = t.now().UTC().Format(time.RFC3339Nano)
	}
	ev := ia.Event{
		Timestamp: timestamp,
		Payload:   &ia.Payload{Message: message, Timestamp: timestamp},
	}
	return t.store.AppendEvent(ctx, ev)
}

// UpdateResult reports one cache advance.
type UpdateResult struct {
	Updated  bool `json:"updated"`
	Appended int  `json:"appended"`
}

// UpdateCache advances the interval cache over the events logged since the
// last run. Concurrent calls serialize; each log entry is consumed exactly
// once.
func (t *Tracker) UpdateCache(ctx context.Context) (UpdateResult, error) {
	t.updateMu.Lock()
	defer t.updateMu.Unlock()

	st, err := t.store.ReadState(ctx)
	if err != nil {
		return UpdateResult{}, err
	}
	agg := t.aggregator()

	if st.BaseEpochMs == nil {
		all, err := t.store.Events(ctx)
		if err != nil {
			return UpdateResult{}, err
		}
		base, ok := agg.EnsureBaseEpoch(all)
		if !ok {
			return UpdateResult{}, nil
		}
		st.BaseEpochMs = &base
	}

	events, err := t.store.EventsAfter(ctx, st.LastProcessedISO)
	if err != nil {
		return UpdateResult{}, err
	}
	if len(events) == 0 {
		return UpdateResult{}, nil
	}

	closed, err := agg.RunIncrement(events, st)
	if err != nil {
		return UpdateResult{}, fmt.Errorf("tracker: update cache: %w", err)
	}
	st.UpdatePrimaryRoot(closed)

	if err := t.store.CommitRun(ctx, closed, st); err != nil {
		return UpdateResult{}, err
	}
	t.logger.Debug("cache advanced",
		"events", len(events), "closed", len(closed), "active", len(st.Active))
	return UpdateResult{Updated: true, Appended: len(closed)}, nil
}

// LogAcceptance records an acceptance decision: the raw decision payload is
// appended to the log for audit, the cache is brought current, and the
// primary root is marked accepted.
func (t *Tracker) LogAcceptance(ctx context.Context, data json.RawMessage) (string, error) {
	ev := ia.Event{
		Timestamp: t.now().UTC().Format(time.RFC3339Nano),
		Audit:     data,
	}
	if err := t.store.AppendEvent(ctx, ev); err != nil {
		return "", err
	}
	if _, err := t.UpdateCache(ctx); err != nil {
		return "", err
	}

	t.updateMu.Lock()
	defer t.updateMu.Unlock()
	st, err := t.store.ReadState(ctx)
	if err != nil {
		return "", err
	}
	root := st.LastPrimaryRoot
	if root == "" {
		t.logger.Warn("acceptance without a primary root")
		return "", nil
	}
	if st.MarkAccepted(root) {
		if err := t.store.WriteState(ctx, st); err != nil {
			return "", err
		}
		t.logger.Info("suggestion accepted", "root", root)
	}
	return root, nil
}

// AppendCheck stores one acceptance-check diagnostic in the bounded ring.
func (t *Tracker) AppendCheck(ctx context.Context, c ia.CheckRecord) error {
	if c.ID == "" {
		c.ID = uuid.Must(uuid.NewV7()).String()
	}
	if c.DetectedAt == "" {
		c.DetectedAt = t.now().UTC().Format(time.RFC3339Nano)
	}

	t.cfgMu.RLock()
	checkCap := t.cfg.CheckCap
	t.cfgMu.RUnlock()

	t.updateMu.Lock()
	defer t.updateMu.Unlock()
	st, err := t.store.ReadState(ctx)
	if err != nil {
		return err
	}
	st.RecentChecks.SetCapacity(checkCap)
	st.RecentChecks.Push(c)
	return t.store.WriteState(ctx, st)
}

// Summary brings the cache current and returns the summary view.
func (t *Tracker) Summary(ctx context.Context) ([]ia.SummaryRecord, error) {
	if _, err := t.UpdateCache(ctx); err != nil {
		return nil, err
	}
	st, err := t.store.ReadState(ctx)
	if err != nil {
		return nil, err
	}
	closed, err := t.store.Closed(ctx)
	if err != nil {
		return nil, err
	}
	return t.summarizer.Build(closed, st), nil
}

// RecentChecks returns the retained acceptance-check diagnostics, oldest
// first.
func (t *Tracker) RecentChecks(ctx context.Context) ([]ia.CheckRecord, error) {
	st, err := t.store.ReadState(ctx)
	if err != nil {
		return nil, err
	}
	return st.RecentChecks.Items(), nil
}

// Status describes the session's health.
type Status struct {
	DBConnected      bool   `json:"dbConnected"`
	LastLogAgeMs     *int64 `json:"lastLogAgeMs"`
	LastProcessedISO string `json:"lastProcessedIso,omitempty"`
}

// Status reports connectivity, the age of the newest log entry, and the
// aggregation watermark.
func (t *Tracker) Status(ctx context.Context) Status {
	var s Status
	if err := t.store.Ping(ctx); err != nil {
		return s
	}
	s.DBConnected = true

	if last, ok, err := t.store.LastEventTime(ctx); err == nil && ok {
		age := t.now().Sub(last).Milliseconds()
		s.LastLogAgeMs = &age
	}
	if st, err := t.store.ReadState(ctx); err == nil {
		s.LastProcessedISO = st.LastProcessedISO
	}
	return s
}

// ExportResult is a full-session export: the interval table and the
// label-to-text dictionary.
type ExportResult struct {
	TSV       string            `json:"tsv"`
	ShapeText map[string]string `json:"shape_text"`
	Records   int               `json:"records"`
}

// Export recomputes the whole session from the raw log with export margins
// applied. The live cache is not consulted and not modified.
func (t *Tracker) Export(ctx context.Context) (*ExportResult, error) {
	events, err := t.store.Events(ctx)
	if err != nil {
		return nil, err
	}

	t.cfgMu.RLock()
	cfg := t.cfg.exportAggregatorConfig()
	t.cfgMu.RUnlock()

	batch, err := ia.New(cfg).RunBatch(events)
	if err != nil {
		return nil, fmt.Errorf("tracker: export: %w", err)
	}
	return &ExportResult{
		TSV:       t.exporter.TSV(batch.Intervals),
		ShapeText: t.exporter.ShapeText(batch.ShapeMarkup),
		Records:   len(batch.Intervals),
	}, nil
}

// ViewLogs returns the newest limit events, oldest first. limit <= 0 returns
// the whole log.
func (t *Tracker) ViewLogs(ctx context.Context, limit int) ([]ia.Event, error) {
	events, err := t.store.Events(ctx)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events, nil
}

// Clear drops all session data and sender bookkeeping.
func (t *Tracker) Clear(ctx context.Context) error {
	t.updateMu.Lock()
	defer t.updateMu.Unlock()
	if err := t.store.Reset(ctx); err != nil {
		return err
	}
	t.sigMu.Lock()
	t.lastSig = make(map[string]sigEntry)
	t.sigMu.Unlock()
	t.logger.Info("session cleared")
	return nil
}

// RunPeriodic advances the cache on the configured interval until ctx is
// cancelled.
func (t *Tracker) RunPeriodic(ctx context.Context) error {
	for {
		t.cfgMu.RLock()
		interval := t.cfg.UpdateInterval
		t.cfgMu.RUnlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
		if _, err := t.UpdateCache(ctx); err != nil {
			t.logger.Warn("periodic update failed", "error", err)
		}
	}
}
