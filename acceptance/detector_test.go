package acceptance

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeReader struct {
	mu     sync.Mutex
	blocks []Block
	lines  []Line
}

func (r *fakeReader) set(blocks []Block, lines []Line) {
	r.mu.Lock()
	r.blocks, r.lines = blocks, lines
	r.mu.Unlock()
}

func (r *fakeReader) GhostBlocks(context.Context) ([]Block, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.blocks, nil
}

func (r *fakeReader) Lines(context.Context) ([]Line, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lines, nil
}

type fakeSink struct {
	mu       sync.Mutex
	accepted []Decision
	checks   []Check
	forced   []string
}

func (s *fakeSink) Accepted(_ context.Context, d Decision) {
	s.mu.Lock()
	s.accepted = append(s.accepted, d)
	s.mu.Unlock()
}

func (s *fakeSink) CheckResult(_ context.Context, c Check) {
	s.mu.Lock()
	s.checks = append(s.checks, c)
	s.mu.Unlock()
}

func (s *fakeSink) ForcedEmpty(_ context.Context, reason string) {
	s.mu.Lock()
	s.forced = append(s.forced, reason)
	s.mu.Unlock()
}

func newTestDetector(t *testing.T) (*Detector, *fakeReader, *fakeSink, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	reader := &fakeReader{}
	sink := &fakeSink{}
	det := New(reader, sink, Config{
		Logger: slog.New(slog.DiscardHandler),
		Now:    clock.Now,
	})
	return det, reader, sink, clock
}

// step runs one Evaluate and fails the test on error.
func step(t *testing.T, det *Detector) {
	t.Helper()
	if err := det.Evaluate(context.Background()); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
}

func settle(t *testing.T, det *Detector, clock *fakeClock) {
	t.Helper()
	step(t, det) // arms the empty debounce
	clock.Advance(200 * time.Millisecond)
	step(t, det) // past the window: compares
}

func TestDetector_AcceptsWhenTextLands(t *testing.T) {
	det, reader, sink, clock := newTestDetector(t)

	reader.set([]Block{{Top: 100, LineHeight: 20, Text: "foo"}}, nil)
	step(t, det)
	if !det.Active() {
		t.Fatal("detector should be active while ghosts are visible")
	}

	reader.set(nil, []Line{{Top: 100, Text: "xxxfooyyy"}})
	settle(t, det, clock)

	if len(sink.accepted) != 1 {
		t.Fatalf("accepted: got %d decisions, want 1", len(sink.accepted))
	}
	d := sink.accepted[0]
	if d.BestTop != 100 || d.BestIndex != 3 || d.TotalAnchors != 1 {
		t.Errorf("decision: got %+v", d)
	}
	if len(sink.checks) != 1 || !sink.checks[0].OK {
		t.Errorf("checks: got %+v", sink.checks)
	}
	if det.Active() {
		t.Error("episode should end after the comparison")
	}
}

func TestDetector_RejectsWhenTextGone(t *testing.T) {
	det, reader, sink, clock := newTestDetector(t)

	reader.set([]Block{{Top: 100, LineHeight: 20, Text: "foo"}}, nil)
	step(t, det)

	reader.set(nil, []Line{{Top: 100, Text: "bar"}})
	settle(t, det, clock)

	if len(sink.accepted) != 0 {
		t.Errorf("accepted: got %+v, want none", sink.accepted)
	}
	if len(sink.checks) != 1 || sink.checks[0].OK {
		t.Errorf("checks: got %+v, want one failed check", sink.checks)
	}
}

func TestDetector_MatchBeyondPrefixDoesNotCount(t *testing.T) {
	det, reader, sink, clock := newTestDetector(t)

	reader.set([]Block{{Top: 100, LineHeight: 20, Text: "needle"}}, nil)
	step(t, det)

	// The snapshot text is present but starts past the 1200-char window.
	reader.set(nil, []Line{{Top: 100, Text: strings.Repeat("a", 1300) + "needle"}})
	settle(t, det, clock)

	if len(sink.accepted) != 0 {
		t.Error("match beyond the prefix limit should not accept")
	}
	if len(sink.checks) != 1 || sink.checks[0].OK {
		t.Errorf("checks: got %+v", sink.checks)
	}
	if sink.checks[0].Index != 1300 {
		t.Errorf("index: got %d, want 1300", sink.checks[0].Index)
	}
}

func TestDetector_NormalizationIgnoresWhitespace(t *testing.T) {
	det, reader, sink, clock := newTestDetector(t)

	reader.set([]Block{{Top: 100, LineHeight: 20, Text: "f o\to\n"}}, nil)
	step(t, det)

	reader.set(nil, []Line{{Top: 100, Text: "f oo"}})
	settle(t, det, clock)

	if len(sink.accepted) != 1 {
		t.Errorf("whitespace differences should not defeat the match: %+v", sink.checks)
	}
}

func TestDetector_ReappearanceAbortsComparison(t *testing.T) {
	det, reader, sink, clock := newTestDetector(t)

	reader.set([]Block{{Top: 100, LineHeight: 20, Text: "foo"}}, nil)
	step(t, det)

	reader.set(nil, []Line{{Top: 100, Text: "foo"}})
	step(t, det)
	clock.Advance(200 * time.Millisecond)

	// Ghosts come back with new text before the comparison fires.
	reader.set([]Block{{Top: 120, LineHeight: 20, Text: "foobar"}}, nil)
	step(t, det)

	if len(sink.accepted) != 0 || len(sink.checks) != 0 {
		t.Fatalf("no decision expected yet: accepted=%v checks=%v", sink.accepted, sink.checks)
	}
	if !det.Active() {
		t.Fatal("detector should stay active")
	}

	// The refreshed snapshot governs the eventual decision.
	reader.set(nil, []Line{{Top: 120, Text: "foobar"}})
	settle(t, det, clock)
	if len(sink.accepted) != 1 {
		t.Fatalf("accepted: got %d, want 1", len(sink.accepted))
	}
	if sink.accepted[0].BestTop != 120 {
		t.Errorf("best top: got %v, want 120", sink.accepted[0].BestTop)
	}
}

func TestDetector_DebounceWaitsForStableEmpty(t *testing.T) {
	det, reader, sink, clock := newTestDetector(t)

	reader.set([]Block{{Top: 100, LineHeight: 20, Text: "foo"}}, nil)
	step(t, det)

	reader.set(nil, []Line{{Top: 100, Text: "foo"}})
	step(t, det)
	clock.Advance(50 * time.Millisecond)
	step(t, det)
	if len(sink.checks) != 0 {
		t.Fatal("comparison ran before the debounce window elapsed")
	}

	clock.Advance(150 * time.Millisecond)
	step(t, det)
	if len(sink.checks) != 1 {
		t.Fatalf("checks: got %d, want 1", len(sink.checks))
	}
}

func TestDetector_ForceReject(t *testing.T) {
	det, reader, sink, _ := newTestDetector(t)

	reader.set([]Block{{Top: 100, LineHeight: 20, Text: "foo"}}, nil)
	step(t, det)

	det.ForceReject(context.Background(), "window_blur")

	if len(sink.forced) != 1 || sink.forced[0] != "window_blur" {
		t.Errorf("forced: got %v", sink.forced)
	}
	if det.Active() {
		t.Error("episode should end on forced rejection")
	}

	// The document containing the text afterwards must not turn the episode
	// into an acceptance.
	reader.set(nil, []Line{{Top: 100, Text: "foo"}})
	step(t, det)
	if len(sink.accepted) != 0 {
		t.Errorf("accepted after forced rejection: %+v", sink.accepted)
	}
}

func TestDetector_MultiAnchorPicksEarliestMatch(t *testing.T) {
	det, reader, sink, clock := newTestDetector(t)

	reader.set([]Block{
		{Top: 100, LineHeight: 20, Text: "alpha"},
		{Top: 200, LineHeight: 20, Text: "beta"},
	}, nil)
	step(t, det)

	reader.set(nil, []Line{
		{Top: 100, Text: "xxalpha"},
		{Top: 200, Text: "beta"},
	})
	settle(t, det, clock)

	if len(sink.checks) != 2 {
		t.Fatalf("checks: got %d, want 2", len(sink.checks))
	}
	if len(sink.accepted) != 1 {
		t.Fatalf("accepted: got %d, want 1", len(sink.accepted))
	}
	d := sink.accepted[0]
	if d.BestTop != 200 || d.BestIndex != 0 {
		t.Errorf("best anchor: got top=%v idx=%d, want top=200 idx=0", d.BestTop, d.BestIndex)
	}
	if d.TotalAnchors != 2 {
		t.Errorf("total anchors: got %d, want 2", d.TotalAnchors)
	}
}

func TestCollectDownward(t *testing.T) {
	det, _, _, _ := newTestDetector(t)

	lines := []Line{
		{Top: 300, Text: "far"},
		{Top: 100, Text: "one"},
		{Top: 120, Text: "two"},
		{Top: 140, Text: "three"},
	}

	got := det.collectDownward(lines, 100, 20)
	if got != "one\ntwo\nthree\n" {
		t.Errorf("contiguous scan: got %q", got)
	}

	// 300 is a 160px jump from 140, well past 20 * 2.2.
	if strings.Contains(got, "far") {
		t.Error("scan crossed a gap larger than the threshold")
	}

	// Anchor with no exact line match starts at the next line downward.
	got = det.collectDownward(lines, 110, 20)
	if got != "two\nthree\n" {
		t.Errorf("nearest downward: got %q", got)
	}

	if got := det.collectDownward(nil, 100, 20); got != "" {
		t.Errorf("no lines: got %q", got)
	}
}

func TestCollectDownward_ScanCap(t *testing.T) {
	det, _, _, _ := newTestDetector(t)
	var lines []Line
	for i := 0; i < 30; i++ {
		lines = append(lines, Line{Top: float64(100 + 20*i), Text: "x"})
	}
	got := det.collectDownward(lines, 100, 20)
	if n := strings.Count(got, "\n"); n != 20 {
		t.Errorf("scanned lines: got %d, want 20", n)
	}
}

func TestNormalizeText(t *testing.T) {
	if got := normalizeText(" a\tb\nc d "); got != "abcd" {
		t.Errorf("normalizeText: got %q", got)
	}
}
