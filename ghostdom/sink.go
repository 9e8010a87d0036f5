package ghostdom

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hazyhaar/ghostwatch/acceptance"
	"github.com/hazyhaar/ghostwatch/bus"
	"github.com/hazyhaar/ghostwatch/ia"
)

// BusSink forwards acceptance outcomes to the message bus.
type BusSink struct {
	Router *bus.Router
	Sender string
	Now    func() time.Time
}

func (s *BusSink) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

type acceptanceLine struct {
	Top          float64 `json:"top"`
	ExpectedText string  `json:"expectedText"`
	NowText      string  `json:"nowText"`
}

type acceptanceData struct {
	Message    string           `json:"message"`
	Lines      []acceptanceLine `json:"lines"`
	SeenAt     string           `json:"seenAt"`
	DetectedAt string           `json:"detectedAt"`
	Decision   decisionData     `json:"decision"`
}

type decisionData struct {
	BestTop      float64      `json:"bestTop"`
	BestIdx      int          `json:"bestIdx"`
	TotalAnchors int          `json:"totalAnchors"`
	Rule         decisionRule `json:"rule"`
}

type decisionRule struct {
	MaxMatchPrefixChars int `json:"maxMatchPrefixChars"`
}

// Accepted implements acceptance.Sink.
func (s *BusSink) Accepted(ctx context.Context, d acceptance.Decision) {
	lines := make([]acceptanceLine, 0, len(d.Lines))
	for _, l := range d.Lines {
		lines = append(lines, acceptanceLine{Top: l.Top, ExpectedText: l.ExpectedText, NowText: l.NowText})
	}
	data, err := json.Marshal(acceptanceData{
		Message:    "Suggestion accepted",
		Lines:      lines,
		SeenAt:     d.SeenAt.UTC().Format(time.RFC3339Nano),
		DetectedAt: d.DetectedAt.UTC().Format(time.RFC3339Nano),
		Decision: decisionData{
			BestTop:      d.BestTop,
			BestIdx:      d.BestIndex,
			TotalAnchors: d.TotalAnchors,
			Rule:         decisionRule{MaxMatchPrefixChars: d.MaxMatchPrefix},
		},
	})
	if err != nil {
		return
	}
	s.Router.Notify(ctx, bus.Message{Type: "log_acceptance", Sender: s.Sender, Data: data})
}

type checkWire struct {
	Top          float64 `json:"top"`
	OK           bool    `json:"ok"`
	Index        int     `json:"idx"`
	DetectedAt   string  `json:"detectedAt"`
	ExpectedText string  `json:"expectedText"`
	NowText      string  `json:"nowText"`
}

// CheckResult implements acceptance.Sink.
func (s *BusSink) CheckResult(ctx context.Context, c acceptance.Check) {
	data, err := json.Marshal(checkWire{
		Top:          c.Top,
		OK:           c.OK,
		Index:        c.Index,
		DetectedAt:   c.DetectedAt.UTC().Format(time.RFC3339Nano),
		ExpectedText: c.ExpectedText,
		NowText:      c.NowText,
	})
	if err != nil {
		return
	}
	s.Router.Notify(ctx, bus.Message{Type: "log_acceptance_check", Sender: s.Sender, Data: data})
}

// ForcedEmpty implements acceptance.Sink: an externally forced rejection is
// published as an empty coordinate snapshot so open intervals close.
func (s *BusSink) ForcedEmpty(ctx context.Context, reason string) {
	sig := "empty:" + reason
	data, err := json.Marshal(ia.Payload{
		Message:     fmt.Sprintf("Forced empty snapshot (%s)", sig),
		Timestamp:   s.now().UTC().Format(time.RFC3339Nano),
		Coordinates: []ia.Shape{},
		Signature:   sig,
	})
	if err != nil {
		return
	}
	s.Router.Notify(ctx, bus.Message{Type: "log_coordinates", Sender: s.Sender, Data: data})
}
