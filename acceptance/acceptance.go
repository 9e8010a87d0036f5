// Package acceptance decides whether a dismissed inline suggestion was taken
// into the document or discarded. While a suggestion is visible it snapshots
// the ghost text and its anchor line; once the overlay stays empty past a
// debounce window it re-reads the document below each anchor and looks for
// the snapshot text.
package acceptance

import (
	"context"
	"time"
)

// Block is one ghost-text run anchored at a document line: the anchor's top
// offset, the line metrics, and the suggestion text spanning the anchor and
// its preview continuation lines.
type Block struct {
	Top        float64
	Height     float64
	LineHeight float64
	Text       string
}

// Line is one rendered document line.
type Line struct {
	Top        float64
	LineHeight float64
	Text       string
}

// Reader provides the two document views the detector compares: the currently
// visible ghost blocks and the rendered line contents.
type Reader interface {
	GhostBlocks(ctx context.Context) ([]Block, error)
	Lines(ctx context.Context) ([]Line, error)
}

// Check is the diagnostic record of one anchor comparison.
type Check struct {
	Top          float64
	OK           bool
	Index        int
	DetectedAt   time.Time
	ExpectedText string
	NowText      string
}

// CompareLine pairs an anchor's snapshot text with what the document held at
// decision time.
type CompareLine struct {
	Top          float64
	ExpectedText string
	NowText      string
}

// Decision is an acceptance verdict with its supporting evidence.
type Decision struct {
	BestTop        float64
	BestIndex      int
	TotalAnchors   int
	Lines          []CompareLine
	SeenAt         time.Time
	DetectedAt     time.Time
	MaxMatchPrefix int
}

// Sink receives the detector's outcomes. Implementations forward them to the
// event log.
type Sink interface {
	// Accepted is called once per suggestion episode that ended in the
	// snapshot text appearing in the document.
	Accepted(ctx context.Context, d Decision)
	// CheckResult is called for every anchor comparison, accepted or not.
	CheckResult(ctx context.Context, c Check)
	// ForcedEmpty is called when an external signal (focus loss, hidden
	// document, Escape) ends the episode as a rejection.
	ForcedEmpty(ctx context.Context, reason string)
}
