package ia

import (
	"fmt"
	"sort"

	"github.com/microcosm-cc/bluemonday"
)

// SummaryRecord is the presentation view of one interval, closed or still
// open. Accepted is nil while the interval is open.
type SummaryRecord struct {
	Label    string  `json:"label"`
	Start    int64   `json:"start"`
	End      int64   `json:"end"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
	HTML     string  `json:"html"`
	Accepted *bool   `json:"accepted"`
	IsActive bool    `json:"isActive"`
}

// Summarizer joins closed intervals, in-flight open intervals, and the
// accepted-root bookkeeping into one time-ordered, capped view.
type Summarizer struct {
	// Cap bounds the view to the newest records; the earliest record of any
	// root present in that window is retained past the cap so a root's first
	// occurrence is never silently dropped.
	Cap int
	// Sanitize is applied to record markup before presentation.
	Sanitize *bluemonday.Policy
}

// NewSummarizer returns a Summarizer with the standard cap and a UGC
// sanitation policy.
func NewSummarizer() *Summarizer {
	return &Summarizer{Cap: 200, Sanitize: bluemonday.UGCPolicy()}
}

// Build produces the summary view from the closed-interval log and the
// current state. Open records end at the relative time of the state's
// watermark.
func (s *Summarizer) Build(closed []Record, st *State) []SummaryRecord {
	if st == nil {
		st = NewState()
	}
	st.normalize()

	var nowMs int64
	if st.BaseEpochMs != nil && st.LastProcessedISO != "" {
		if t, ok := ParseTime(st.LastProcessedISO); ok {
			nowMs = relMs(t.UnixMilli(), *st.BaseEpochMs)
		}
	}

	accepted := st.AcceptedSet()

	all := make([]SummaryRecord, 0, len(closed)+len(st.Active))
	for _, r := range closed {
		ok := accepted[RootLabel(r.Label)]
		all = append(all, s.view(r, r.End, &ok, false))
	}
	for _, e := range st.Active {
		all = append(all, s.view(e.Rec, nowMs, nil, true))
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].Start < all[j].Start })

	if s.Cap <= 0 || len(all) <= s.Cap {
		return all
	}

	trimmed := append([]SummaryRecord(nil), all[len(all)-s.Cap:]...)

	// Re-attach the earliest record of every root still present in the
	// window.
	presentRoots := make(map[string]bool, len(trimmed))
	existing := make(map[string]bool, len(trimmed))
	for _, r := range trimmed {
		presentRoots[RootLabel(r.Label)] = true
		existing[summaryKey(r)] = true
	}
	earliest := make(map[string]SummaryRecord)
	for _, r := range all {
		root := RootLabel(r.Label)
		if _, seen := earliest[root]; !seen {
			earliest[root] = r
		}
	}
	for root := range presentRoots {
		first, ok := earliest[root]
		if !ok || existing[summaryKey(first)] {
			continue
		}
		trimmed = append(trimmed, first)
	}

	sort.SliceStable(trimmed, func(i, j int) bool { return trimmed[i].Start < trimmed[j].Start })
	return trimmed
}

func (s *Summarizer) view(r Record, end int64, accepted *bool, active bool) SummaryRecord {
	html := r.HTML
	if s.Sanitize != nil {
		html = s.Sanitize.Sanitize(html)
	}
	return SummaryRecord{
		Label:    r.Label,
		Start:    r.Start,
		End:      end,
		X:        r.X,
		Y:        r.Y,
		Width:    r.Right - r.X,
		Height:   r.Bottom - r.Y,
		HTML:     html,
		Accepted: accepted,
		IsActive: active,
	}
}

func summaryKey(r SummaryRecord) string {
	return fmt.Sprintf("%s|%d|%d", r.Label, r.Start, r.End)
}
