package acceptance

import (
	"context"
	"sort"
	"strings"
	"time"
	"unicode"
)

// runCompare is the decision step: re-confirm the overlay is still empty,
// then look for each anchor's snapshot text in the document below it. The
// episode ends here either way.
func (d *Detector) runCompare(ctx context.Context) error {
	blocks, err := d.reader.GhostBlocks(ctx)
	if err != nil {
		return err
	}
	if len(blocks) > 0 {
		// Ghosts reappeared during the debounce. Refresh and stay active.
		d.cfg.Logger.Debug("comparison aborted, ghosts visible again", "anchors", len(blocks))
		d.mu.Lock()
		d.anchors = snapshot(blocks)
		d.lastSeen = d.cfg.Now()
		d.lastEmpty = time.Time{}
		d.mu.Unlock()
		return nil
	}

	d.mu.Lock()
	if !d.active || len(d.anchors) == 0 {
		d.mu.Unlock()
		return nil
	}
	anchors := d.anchors
	seenAt := d.lastSeen
	d.reset()
	d.mu.Unlock()

	lines, err := d.reader.Lines(ctx)
	if err != nil {
		return err
	}

	now := d.cfg.Now()
	anyOK := false
	var bestTop float64
	bestIdx := -1
	compared := make([]CompareLine, 0, len(anchors))

	for _, a := range anchors {
		nowText := d.collectDownward(lines, a.block.Top, a.block.LineHeight)
		compared = append(compared, CompareLine{Top: a.block.Top, ExpectedText: a.block.Text, NowText: nowText})

		nowNorm := normalizeText(nowText)
		idx := -1
		if a.norm != "" {
			idx = strings.Index(nowNorm, a.norm)
		}
		limit := len(nowNorm)
		if d.cfg.MaxMatchPrefix < limit {
			limit = d.cfg.MaxMatchPrefix
		}
		ok := idx >= 0 && idx < limit
		if ok {
			anyOK = true
			if bestIdx < 0 || idx < bestIdx {
				bestIdx = idx
				bestTop = a.block.Top
			}
		}

		d.sink.CheckResult(ctx, Check{
			Top:          a.block.Top,
			OK:           ok,
			Index:        idx,
			DetectedAt:   now,
			ExpectedText: a.block.Text,
			NowText:      nowText,
		})
	}

	if anyOK {
		d.sink.Accepted(ctx, Decision{
			BestTop:        bestTop,
			BestIndex:      bestIdx,
			TotalAnchors:   len(anchors),
			Lines:          compared,
			SeenAt:         seenAt,
			DetectedAt:     now,
			MaxMatchPrefix: d.cfg.MaxMatchPrefix,
		})
	}
	return nil
}

// collectDownward concatenates the text of consecutive lines starting at the
// line nearest topStart, stopping at a vertical jump larger than the gap
// threshold or after MaxScanLines lines.
func (d *Detector) collectDownward(lines []Line, topStart, lineHeightHint float64) string {
	if len(lines) == 0 {
		return ""
	}
	sorted := append([]Line(nil), lines...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Top < sorted[j].Top })

	const eps = 1.0
	start := -1
	for i, ln := range sorted {
		if abs(ln.Top-topStart) <= eps {
			start = i
			break
		}
	}
	if start < 0 {
		for i, ln := range sorted {
			if ln.Top >= topStart-eps {
				start = i
				break
			}
		}
	}
	if start < 0 {
		start = 0
	}

	lh := lineHeightHint
	if lh <= 0 {
		lh = sorted[start].LineHeight
	}
	if lh <= 0 {
		lh = d.cfg.FallbackLineHeight
	}
	maxGap := lh * d.cfg.GapFactor

	var b strings.Builder
	lastTop := 0.0
	haveLast := false
	for i := start; i < len(sorted) && i < start+d.cfg.MaxScanLines; i++ {
		cur := sorted[i]
		if haveLast && cur.Top-lastTop > maxGap {
			break
		}
		lastTop = cur.Top
		haveLast = true
		b.WriteString(cur.Text)
		b.WriteByte('\n')
	}
	return b.String()
}

// normalizeText removes every whitespace rune, including non-breaking
// spaces, so rendering differences never defeat the substring match.
func normalizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
