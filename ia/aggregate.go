package ia

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// OriginMarkerMessage identifies the one-time event that fixes the session
// time origin.
const OriginMarkerMessage = "First 's' key press logged"

// Config holds the geometry and origin tunables for one aggregator.
type Config struct {
	// WindowOffset is added to every shape's y to translate viewport
	// coordinates into screen coordinates.
	WindowOffset float64
	// MarginH and MarginV widen each record's bounding box to absorb
	// measurement error. The live incremental path runs with zero margins;
	// batch export applies the configured ones.
	MarginH float64
	MarginV float64
	// OriginOffsetMs is subtracted from the origin marker's timestamp when
	// establishing the time origin. Ignored when no marker exists.
	OriginOffsetMs int64
}

// DefaultConfig matches the live capture defaults.
func DefaultConfig() Config {
	return Config{WindowOffset: 91}
}

// Aggregator turns event sequences into closed interval records. It is
// stateless between calls; all resumable state lives in State.
type Aggregator struct {
	cfg Config
}

// New creates an Aggregator.
func New(cfg Config) *Aggregator {
	if cfg.WindowOffset < 0 {
		cfg.WindowOffset = 0
	}
	if cfg.MarginH < 0 {
		cfg.MarginH = 0
	}
	if cfg.MarginV < 0 {
		cfg.MarginV = 0
	}
	return &Aggregator{cfg: cfg}
}

// tick is a pre-validated event: every timestamp parsed before any state is
// touched, so a malformed event aborts a run without a half-applied mutation.
type tick struct {
	ev      Event
	epochMs int64
}

func toTicks(events []Event) ([]tick, error) {
	ticks := make([]tick, 0, len(events))
	for _, ev := range events {
		t, ok := ParseTime(ev.Timestamp)
		if !ok {
			return nil, fmt.Errorf("ia: invalid log timestamp: %q", ev.Timestamp)
		}
		ticks = append(ticks, tick{ev: ev, epochMs: t.UnixMilli()})
	}
	sort.SliceStable(ticks, func(i, j int) bool { return ticks[i].epochMs < ticks[j].epochMs })
	return ticks, nil
}

// relMs converts an epoch timestamp to origin-relative milliseconds.
// Events before the origin collapse to 0, never negative.
func relMs(epochMs, baseEpochMs int64) int64 {
	d := epochMs - baseEpochMs
	if d < 0 {
		return 0
	}
	return d
}

// openSet is the in-memory open-record table. Iteration follows insertion
// order so closing and flattening are deterministic.
type openSet struct {
	order []string
	recs  map[string]*Record
}

func newOpenSet(entries []ActiveEntry) *openSet {
	s := &openSet{recs: make(map[string]*Record, len(entries))}
	for i := range entries {
		rec := entries[i].Rec
		key := entries[i].Key
		if key == "" {
			continue
		}
		if _, exists := s.recs[key]; exists {
			continue
		}
		s.order = append(s.order, key)
		s.recs[key] = &rec
	}
	return s
}

func (s *openSet) get(key string) *Record { return s.recs[key] }

func (s *openSet) put(key string, rec *Record) {
	if _, exists := s.recs[key]; !exists {
		s.order = append(s.order, key)
	}
	s.recs[key] = rec
}

func (s *openSet) remove(key string) {
	if _, exists := s.recs[key]; !exists {
		return
	}
	delete(s.recs, key)
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *openSet) keys() []string { return append([]string(nil), s.order...) }

func (s *openSet) flatten() []ActiveEntry {
	out := make([]ActiveEntry, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, ActiveEntry{Key: k, Rec: *s.recs[k]})
	}
	return out
}

func (s *openSet) baseKeys() map[string]bool {
	bases := make(map[string]bool, len(s.order))
	for _, k := range s.order {
		bases[baseKeyOf(k)] = true
	}
	return bases
}

func baseKeyOf(fullKey string) string {
	if i := strings.Index(fullKey, "::"); i >= 0 {
		return fullKey[:i]
	}
	return fullKey
}

// formatNum renders coordinates the way position keys expect: no exponent,
// no trailing zeros.
func formatNum(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// shapeKeys computes the identity and position keys plus the merged markup
// and bounding box for one snapshot's shape list. offset is the window
// offset; margins widen the box.
type shapeGroup struct {
	baseKey string
	posKey  string
	html    string
	x       float64
	y       float64
	right   float64
	bottom  float64
}

func (a *Aggregator) groupShapes(coords []Shape) shapeGroup {
	off := a.cfg.WindowOffset
	if len(coords) == 1 {
		c := coords[0]
		y := c.Y + off
		return shapeGroup{
			baseKey: "single|" + c.HTML + "|wh|" + formatNum(c.Width) + "x" + formatNum(c.Height),
			posKey:  "y|" + formatNum(y),
			html:    c.HTML,
			x:       c.X - a.cfg.MarginH,
			y:       y - a.cfg.MarginV,
			right:   c.X + c.Width + a.cfg.MarginH,
			bottom:  y + c.Height + a.cfg.MarginV,
		}
	}

	sorted := append([]Shape(nil), coords...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Y+off < sorted[j].Y+off })

	var merged strings.Builder
	ys := make([]string, 0, len(sorted))
	minX, minY := math.Inf(1), math.Inf(1)
	maxRight, maxBottom := math.Inf(-1), math.Inf(-1)
	lastY := math.Inf(-1)
	first := true
	for _, c := range sorted {
		y := c.Y + off
		if !first && y > lastY {
			merged.WriteByte('\n')
		}
		merged.WriteString(c.HTML)
		first = false
		lastY = y
		ys = append(ys, formatNum(y))
		minX = math.Min(minX, c.X)
		minY = math.Min(minY, y)
		maxRight = math.Max(maxRight, c.X+c.Width)
		maxBottom = math.Max(maxBottom, y+c.Height)
	}

	html := merged.String()
	return shapeGroup{
		baseKey: "multi|" + html,
		posKey:  "ys|" + strings.Join(ys, ","),
		html:    html,
		x:       minX - a.cfg.MarginH,
		y:       minY - a.cfg.MarginV,
		right:   maxRight + a.cfg.MarginH,
		bottom:  maxBottom + a.cfg.MarginV,
	}
}

// EnsureBaseEpoch resolves the session time origin from an event list: the
// origin marker's payload timestamp minus the configured offset when a marker
// exists, the earliest event timestamp otherwise. ok is false when no event
// has a parseable timestamp.
func (a *Aggregator) EnsureBaseEpoch(events []Event) (int64, bool) {
	type stamped struct {
		ev      Event
		epochMs int64
	}
	ordered := make([]stamped, 0, len(events))
	for _, ev := range events {
		if t, ok := ParseTime(ev.Timestamp); ok {
			ordered = append(ordered, stamped{ev: ev, epochMs: t.UnixMilli()})
		}
	}
	if len(ordered) == 0 {
		return 0, false
	}
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].epochMs < ordered[j].epochMs })

	for _, s := range ordered {
		p := s.ev.Payload
		if p == nil || p.Message != OriginMarkerMessage {
			continue
		}
		if t, ok := ParseTime(p.Timestamp); ok {
			return t.UnixMilli() - a.cfg.OriginOffsetMs, true
		}
		break
	}
	return ordered[0].epochMs, true
}

// RunIncrement consumes events with timestamps strictly after the state's
// watermark (the caller filters; the aggregator does not re-filter), closes
// intervals whose identity vanished, and leaves still-visible records open in
// the updated state for the next run.
//
// The state's time origin must already be established. On error the state is
// untouched and the same events can safely be replayed.
func (a *Aggregator) RunIncrement(events []Event, st *State) ([]Record, error) {
	if st == nil || st.BaseEpochMs == nil {
		return nil, fmt.Errorf("ia: time origin not established")
	}
	st.normalize()

	ticks, err := toTicks(events)
	if err != nil {
		return nil, err
	}

	open := newOpenSet(st.Active)
	closed, lastISO := a.run(ticks, *st.BaseEpochMs, st.Labels, &st.NextID, open, nil)
	st.Active = open.flatten()
	if lastISO != "" {
		st.LastProcessedISO = lastISO
	}
	return closed, nil
}

// BatchResult is the outcome of a one-shot batch run.
type BatchResult struct {
	Intervals   []Record
	ShapeMarkup map[string]string
}

// RunBatch computes the complete interval set for a full event history,
// force-closing whatever is still open at the last coordinate event's time.
// Repeated incremental runs over the same data, with the open remainder
// closed at the end, produce the same intervals.
func (a *Aggregator) RunBatch(events []Event) (*BatchResult, error) {
	result := &BatchResult{ShapeMarkup: make(map[string]string)}
	if len(events) == 0 {
		return result, nil
	}

	base, ok := a.EnsureBaseEpoch(events)
	if !ok {
		return nil, fmt.Errorf("ia: no valid timestamps in logs")
	}

	ticks, err := toTicks(events)
	if err != nil {
		return nil, err
	}

	labels := NewLabelState()
	nextID := 1
	open := newOpenSet(nil)
	closed, lastISO := a.run(ticks, base, labels, &nextID, open, result.ShapeMarkup)

	var finalMs int64
	if lastISO != "" {
		if t, ok := ParseTime(lastISO); ok {
			finalMs = relMs(t.UnixMilli(), base)
		}
	}
	for _, key := range open.keys() {
		rec := open.get(key)
		rec.End = finalMs
		closed = append(closed, *rec)
		open.remove(key)
	}

	result.Intervals = closed
	return result, nil
}

// run is the shared per-event core. markup, when non-nil, records each
// label's merged markup at record creation (batch export wants the
// dictionary; the live path does not).
func (a *Aggregator) run(ticks []tick, baseEpochMs int64, labels *LabelState, nextID *int, open *openSet, markup map[string]string) (closed []Record, lastISO string) {
	for _, tk := range ticks {
		if !tk.ev.Payload.HasCoordinates() {
			continue
		}
		currentMs := relMs(tk.epochMs, baseEpochMs)

		coords := tk.ev.Payload.Coordinates[:0:0]
		for _, c := range tk.ev.Payload.Coordinates {
			if c.Width > 0 && c.Height > 0 {
				coords = append(coords, c)
			}
		}

		if len(coords) == 0 {
			// Suggestion UI fully disappeared: close everything.
			for _, key := range open.keys() {
				rec := open.get(key)
				rec.End = currentMs
				closed = append(closed, *rec)
				open.remove(key)
			}
			labels.Prune(open.baseKeys())
			lastISO = tk.ev.Timestamp
			continue
		}

		g := a.groupShapes(coords)
		fullKey := g.baseKey + "::" + g.posKey
		label := labels.Assign(g.baseKey, g.posKey)

		if rec := open.get(fullKey); rec != nil {
			rec.End = currentMs
		} else {
			rec := &Record{
				Start:  currentMs,
				End:    currentMs,
				ID:     *nextID,
				Label:  label,
				HTML:   g.html,
				X:      g.x,
				Y:      g.y,
				Right:  g.right,
				Bottom: g.bottom,
			}
			*nextID++
			open.put(fullKey, rec)
			if markup != nil {
				markup[label] = g.html
			}
		}

		// Anything not re-observed in this snapshot ends now, even while
		// other shapes remain visible.
		for _, key := range open.keys() {
			if key == fullKey {
				continue
			}
			rec := open.get(key)
			rec.End = currentMs
			closed = append(closed, *rec)
			open.remove(key)
		}

		labels.Prune(open.baseKeys())
		lastISO = tk.ev.Timestamp
	}
	return closed, lastISO
}
