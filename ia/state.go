package ia

// Record is one interest-area visibility interval. Start and End are
// milliseconds relative to the session time origin; IDs are monotonic and
// never reused within a session.
type Record struct {
	Start  int64   `json:"start"`
	End    int64   `json:"end"`
	ID     int     `json:"id"`
	Label  string  `json:"label"`
	HTML   string  `json:"html"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Right  float64 `json:"right"`
	Bottom float64 `json:"bottom"`
}

// ActiveEntry is the serialized form of one open record. The aggregator works
// on an associative container in memory and flattens to key/record pairs only
// here, at the persistence boundary.
type ActiveEntry struct {
	Key string `json:"key"`
	Rec Record `json:"rec"`
}

// State is the resumable aggregation watermark persisted between runs.
// Exactly one instance exists per session; it is reseeded only on an explicit
// clear.
type State struct {
	// BaseEpochMs is the session time origin. nil until established from the
	// first marker (or first event); fixed afterwards.
	BaseEpochMs      *int64        `json:"base_epoch_ms"`
	LastProcessedISO string        `json:"last_processed_iso,omitempty"`
	Labels           *LabelState   `json:"labels"`
	NextID           int           `json:"next_id"`
	Active           []ActiveEntry `json:"active"`
	LastPrimaryRoot  string        `json:"last_primary_root,omitempty"`
	AcceptedRoots    []string      `json:"accepted_roots"`
	RecentChecks     *CheckRing    `json:"recent_checks"`
}

// NewState returns a fresh empty aggregation state.
func NewState() *State {
	return &State{
		Labels:        NewLabelState(),
		NextID:        1,
		Active:        []ActiveEntry{},
		AcceptedRoots: []string{},
		RecentChecks:  NewCheckRing(DefaultCheckCap),
	}
}

// normalize repairs zero values left by deserialization of older or partial
// states so the aggregator can rely on invariants.
func (st *State) normalize() {
	if st.Labels == nil {
		st.Labels = NewLabelState()
	}
	st.Labels.normalize()
	if st.NextID < 1 {
		st.NextID = 1
	}
	if st.AcceptedRoots == nil {
		st.AcceptedRoots = []string{}
	}
	if st.RecentChecks == nil {
		st.RecentChecks = NewCheckRing(DefaultCheckCap)
	}
}

// MarkAccepted adds a root label to the accepted set. The set only grows;
// returns false for an empty root or one already present.
func (st *State) MarkAccepted(root string) bool {
	if root == "" {
		return false
	}
	for _, r := range st.AcceptedRoots {
		if r == root {
			return false
		}
	}
	st.AcceptedRoots = append(st.AcceptedRoots, root)
	return true
}

// AcceptedSet returns the accepted roots as a lookup set.
func (st *State) AcceptedSet() map[string]bool {
	set := make(map[string]bool, len(st.AcceptedRoots))
	for _, r := range st.AcceptedRoots {
		set[r] = true
	}
	return set
}

// ActiveRecords returns the open records in their insertion order.
func (st *State) ActiveRecords() []Record {
	recs := make([]Record, 0, len(st.Active))
	for _, e := range st.Active {
		recs = append(recs, e.Rec)
	}
	return recs
}

// UpdatePrimaryRoot records the root of the most recently relevant interval
// after a run: the last record closed during the run, otherwise the open
// record with the greatest end time. With neither, the previous value stands.
func (st *State) UpdatePrimaryRoot(closed []Record) {
	if len(closed) > 0 {
		st.LastPrimaryRoot = RootLabel(closed[len(closed)-1].Label)
		return
	}
	best := -1
	for i := range st.Active {
		if best < 0 || st.Active[i].Rec.End >= st.Active[best].Rec.End {
			best = i
		}
	}
	if best >= 0 {
		st.LastPrimaryRoot = RootLabel(st.Active[best].Rec.Label)
	}
}
