package tracker

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/ghostwatch/ia"
	"github.com/hazyhaar/ghostwatch/store"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestTracker(t *testing.T) (*Tracker, *clock) {
	t.Helper()
	s := store.OpenMemory(t)
	ck := newClock()
	tr := New(s, Config{},
		WithLogger(slog.New(slog.DiscardHandler)),
		WithClock(ck.Now))
	return tr, ck
}

func shape() ia.Shape {
	return ia.Shape{X: 0, Y: 0, Width: 10, Height: 10, HTML: "<a>"}
}

// runEpisode logs marker, one visible snapshot, then disappearance.
func runEpisode(t *testing.T, tr *Tracker, ck *clock) {
	t.Helper()
	ctx := context.Background()
	if err := tr.LogKeypress(ctx, "", ""); err != nil {
		t.Fatalf("LogKeypress: %v", err)
	}
	ck.Advance(time.Second)
	if _, err := tr.LogCoordinates(ctx, "tab_1:0", ia.Payload{Coordinates: []ia.Shape{shape()}}); err != nil {
		t.Fatalf("LogCoordinates: %v", err)
	}
	ck.Advance(time.Second)
	if _, err := tr.LogCoordinates(ctx, "tab_1:0", ia.Payload{Coordinates: []ia.Shape{}}); err != nil {
		t.Fatalf("LogCoordinates empty: %v", err)
	}
}

func TestTracker_EndToEnd(t *testing.T) {
	tr, ck := newTestTracker(t)
	ctx := context.Background()
	runEpisode(t, tr, ck)

	res, err := tr.UpdateCache(ctx)
	if err != nil {
		t.Fatalf("UpdateCache: %v", err)
	}
	if !res.Updated || res.Appended != 1 {
		t.Fatalf("update: got %+v", res)
	}

	records, err := tr.Summary(ctx)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("summary: got %d records", len(records))
	}
	r := records[0]
	if r.Label != "autolabel_1" || r.Start != 1000 || r.End != 2000 {
		t.Errorf("record: got %+v", r)
	}
	if r.Y != 91 {
		t.Errorf("window offset applied: y=%v, want 91", r.Y)
	}
	if r.IsActive {
		t.Error("closed record reported active")
	}
	if r.Accepted == nil || *r.Accepted {
		t.Errorf("accepted before decision: got %v, want false", r.Accepted)
	}

	// Second update with no new events is a no-op.
	res, err = tr.UpdateCache(ctx)
	if err != nil {
		t.Fatalf("UpdateCache: %v", err)
	}
	if res.Updated {
		t.Errorf("no-op update: got %+v", res)
	}
}

func TestTracker_UpdateCacheWithoutEvents(t *testing.T) {
	tr, _ := newTestTracker(t)
	res, err := tr.UpdateCache(context.Background())
	if err != nil {
		t.Fatalf("UpdateCache: %v", err)
	}
	if res.Updated {
		t.Errorf("empty session: got %+v", res)
	}
}

func TestTracker_SignatureDedupe(t *testing.T) {
	tr, ck := newTestTracker(t)
	ctx := context.Background()

	p := ia.Payload{Coordinates: []ia.Shape{shape()}, Signature: "sig-a"}

	stored, err := tr.LogCoordinates(ctx, "tab_1:0", p)
	if err != nil || !stored {
		t.Fatalf("first: stored=%v err=%v", stored, err)
	}

	ck.Advance(100 * time.Millisecond)
	stored, err = tr.LogCoordinates(ctx, "tab_1:0", p)
	if err != nil {
		t.Fatalf("repeat: %v", err)
	}
	if stored {
		t.Error("identical signature within the window should be dropped")
	}

	// A different sender is tracked separately.
	stored, err = tr.LogCoordinates(ctx, "tab_2:0", p)
	if err != nil || !stored {
		t.Errorf("other sender: stored=%v err=%v", stored, err)
	}

	// Past the window the same signature is stored again.
	ck.Advance(time.Second)
	stored, err = tr.LogCoordinates(ctx, "tab_1:0", p)
	if err != nil || !stored {
		t.Errorf("after window: stored=%v err=%v", stored, err)
	}
}

func TestTracker_AcceptanceMarksPrimaryRoot(t *testing.T) {
	tr, ck := newTestTracker(t)
	ctx := context.Background()
	runEpisode(t, tr, ck)
	if _, err := tr.UpdateCache(ctx); err != nil {
		t.Fatalf("UpdateCache: %v", err)
	}

	ck.Advance(time.Second)
	root, err := tr.LogAcceptance(ctx, json.RawMessage(`{"message":"Suggestion accepted"}`))
	if err != nil {
		t.Fatalf("LogAcceptance: %v", err)
	}
	if root != "autolabel_1" {
		t.Errorf("root: got %q, want autolabel_1", root)
	}

	records, err := tr.Summary(ctx)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("summary: got %d records", len(records))
	}
	if records[0].Accepted == nil || !*records[0].Accepted {
		t.Errorf("accepted: got %v, want true", records[0].Accepted)
	}
}

func TestTracker_AppendCheck(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()

	err := tr.AppendCheck(ctx, ia.CheckRecord{Top: 120, OK: true, Index: 3})
	if err != nil {
		t.Fatalf("AppendCheck: %v", err)
	}
	checks, err := tr.RecentChecks(ctx)
	if err != nil {
		t.Fatalf("RecentChecks: %v", err)
	}
	if len(checks) != 1 {
		t.Fatalf("checks: got %d", len(checks))
	}
	if checks[0].ID == "" || checks[0].DetectedAt == "" {
		t.Errorf("missing generated fields: %+v", checks[0])
	}
	if checks[0].Top != 120 || !checks[0].OK {
		t.Errorf("check: got %+v", checks[0])
	}
}

func TestTracker_AppendCheckHonorsConfiguredCap(t *testing.T) {
	s := store.OpenMemory(t)
	tr := New(s, Config{CheckCap: 3},
		WithLogger(slog.New(slog.DiscardHandler)),
		WithClock(newClock().Now))
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		err := tr.AppendCheck(ctx, ia.CheckRecord{Top: float64(i), Index: i})
		if err != nil {
			t.Fatalf("AppendCheck %d: %v", i, err)
		}
	}
	checks, err := tr.RecentChecks(ctx)
	if err != nil {
		t.Fatalf("RecentChecks: %v", err)
	}
	if len(checks) != 3 {
		t.Fatalf("checks: got %d, want configured cap 3", len(checks))
	}
	for i, want := range []int{3, 4, 5} {
		if checks[i].Index != want {
			t.Errorf("checks[%d]: got index %d, want %d", i, checks[i].Index, want)
		}
	}
}

func TestTracker_Status(t *testing.T) {
	tr, ck := newTestTracker(t)
	ctx := context.Background()

	s := tr.Status(ctx)
	if !s.DBConnected {
		t.Error("dbConnected: want true")
	}
	if s.LastLogAgeMs != nil {
		t.Errorf("empty log age: got %v", *s.LastLogAgeMs)
	}

	runEpisode(t, tr, ck)
	if _, err := tr.UpdateCache(ctx); err != nil {
		t.Fatalf("UpdateCache: %v", err)
	}
	ck.Advance(3 * time.Second)

	s = tr.Status(ctx)
	if s.LastLogAgeMs == nil || *s.LastLogAgeMs != 3000 {
		t.Errorf("log age: got %v, want 3000", s.LastLogAgeMs)
	}
	if s.LastProcessedISO == "" {
		t.Error("watermark missing from status")
	}
}

func TestTracker_Export(t *testing.T) {
	tr, ck := newTestTracker(t)
	ctx := context.Background()
	runEpisode(t, tr, ck)

	res, err := tr.Export(ctx)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if res.Records != 1 {
		t.Fatalf("records: got %d", res.Records)
	}
	lines := strings.Split(strings.TrimRight(res.TSV, "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("tsv lines: got %d", len(lines))
	}
	// Export margins widen the live rectangle: x 0-44, y 91-22.
	if lines[1] != "-1000\t-2000\tRECTANGLE\t1\t-44.00\t69.00\t54.00\t123.00\tautolabel_1" {
		t.Errorf("tsv row: got %q", lines[1])
	}
	if res.ShapeText["autolabel_1"] == "" {
		t.Errorf("shape text: got %v", res.ShapeText)
	}
}

func TestTracker_ExportDoesNotDisturbLiveCache(t *testing.T) {
	tr, ck := newTestTracker(t)
	ctx := context.Background()
	runEpisode(t, tr, ck)

	if _, err := tr.Export(ctx); err != nil {
		t.Fatalf("Export: %v", err)
	}
	records, err := tr.Summary(ctx)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if len(records) != 1 || records[0].Y != 91 {
		t.Errorf("live summary after export: got %+v", records)
	}
}

func TestTracker_Clear(t *testing.T) {
	tr, ck := newTestTracker(t)
	ctx := context.Background()
	runEpisode(t, tr, ck)
	if _, err := tr.UpdateCache(ctx); err != nil {
		t.Fatalf("UpdateCache: %v", err)
	}

	if err := tr.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	records, err := tr.Summary(ctx)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("summary after clear: got %d records", len(records))
	}

	// A new episode restarts labels from autolabel_1.
	runEpisode(t, tr, ck)
	records, err = tr.Summary(ctx)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if len(records) != 1 || records[0].Label != "autolabel_1" {
		t.Errorf("fresh session: got %+v", records)
	}
}

func TestTracker_ApplySettings(t *testing.T) {
	tr, ck := newTestTracker(t)
	ctx := context.Background()

	off := 10.0
	tr.ApplySettings(Settings{WindowOffset: &off})
	if got := *tr.Config().WindowOffset; got != 10 {
		t.Fatalf("window offset: got %v", got)
	}

	runEpisode(t, tr, ck)
	records, err := tr.Summary(ctx)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if len(records) != 1 || records[0].Y != 10 {
		t.Errorf("offset not applied to aggregation: %+v", records)
	}

	neg := -5.0
	tr.ApplySettings(Settings{WindowOffset: &neg})
	if got := *tr.Config().WindowOffset; got != 0 {
		t.Errorf("negative offset: got %v, want clamped 0", got)
	}
}

func TestTracker_ViewLogs(t *testing.T) {
	tr, ck := newTestTracker(t)
	ctx := context.Background()
	runEpisode(t, tr, ck)

	all, err := tr.ViewLogs(ctx, 0)
	if err != nil {
		t.Fatalf("ViewLogs: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("logs: got %d, want 3", len(all))
	}

	last, err := tr.ViewLogs(ctx, 2)
	if err != nil {
		t.Fatalf("ViewLogs: %v", err)
	}
	if len(last) != 2 {
		t.Fatalf("limited logs: got %d, want 2", len(last))
	}
	if last[0].Timestamp != all[1].Timestamp {
		t.Errorf("limit keeps newest: got %q", last[0].Timestamp)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if *cfg.WindowOffset != DefaultWindowOffset {
		t.Errorf("window offset: got %v", *cfg.WindowOffset)
	}
	if cfg.ExportMarginH != 44 || cfg.ExportMarginV != 22 {
		t.Errorf("export margins: got %v/%v", cfg.ExportMarginH, cfg.ExportMarginV)
	}
	if cfg.DedupeWindow != 500*time.Millisecond {
		t.Errorf("dedupe window: got %v", cfg.DedupeWindow)
	}
	if cfg.SummaryCap != 200 || cfg.CheckCap != ia.DefaultCheckCap {
		t.Errorf("caps: got %d/%d", cfg.SummaryCap, cfg.CheckCap)
	}
	if cfg.Selectors == "" || cfg.Listen == "" {
		t.Errorf("missing defaults: %+v", cfg)
	}
}
