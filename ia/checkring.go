package ia

import "encoding/json"

// DefaultCheckCap bounds the retained acceptance-check diagnostics.
const DefaultCheckCap = 40

// CheckRecord is one acceptance-comparison diagnostic: what text was expected
// at an anchor and what was actually found.
type CheckRecord struct {
	ID           string  `json:"id,omitempty"`
	Top          float64 `json:"top"`
	OK           bool    `json:"ok"`
	Index        int     `json:"idx"`
	DetectedAt   string  `json:"detected_at"`
	ExpectedText string  `json:"expected_text"`
	NowText      string  `json:"now_text"`
}

// CheckRing is a fixed-capacity ring holding the most recent check records.
// It serializes as a plain oldest-to-newest array.
type CheckRing struct {
	capacity int
	buf      []CheckRecord
	head     int // index of the oldest record once the ring is full
}

// NewCheckRing creates a ring. capacity <= 0 uses DefaultCheckCap.
func NewCheckRing(capacity int) *CheckRing {
	if capacity <= 0 {
		capacity = DefaultCheckCap
	}
	return &CheckRing{capacity: capacity}
}

// Push appends a record, evicting the oldest when the ring is full.
func (r *CheckRing) Push(c CheckRecord) {
	if r.capacity <= 0 {
		r.capacity = DefaultCheckCap
	}
	if len(r.buf) < r.capacity {
		r.buf = append(r.buf, c)
		return
	}
	r.buf[r.head] = c
	r.head = (r.head + 1) % r.capacity
}

// SetCapacity re-bounds the ring, dropping the oldest records when the new
// capacity is smaller. capacity <= 0 uses DefaultCheckCap.
func (r *CheckRing) SetCapacity(capacity int) {
	if capacity <= 0 {
		capacity = DefaultCheckCap
	}
	if capacity == r.capacity {
		return
	}
	items := r.Items()
	if len(items) > capacity {
		items = items[len(items)-capacity:]
	}
	r.capacity = capacity
	r.buf = items
	r.head = 0
}

// Len returns the number of retained records.
func (r *CheckRing) Len() int { return len(r.buf) }

// Items returns the retained records oldest first.
func (r *CheckRing) Items() []CheckRecord {
	out := make([]CheckRecord, 0, len(r.buf))
	out = append(out, r.buf[r.head:]...)
	out = append(out, r.buf[:r.head]...)
	return out
}

// MarshalJSON flattens the ring to an ordered array.
func (r *CheckRing) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Items())
}

// UnmarshalJSON restores from an ordered array. Capacity grows to hold every
// decoded record; nothing persisted is dropped at decode time. Bounding is
// SetCapacity's job, applied when the configured cap is known.
func (r *CheckRing) UnmarshalJSON(data []byte) error {
	var items []CheckRecord
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	if r.capacity <= 0 {
		r.capacity = DefaultCheckCap
	}
	if len(items) > r.capacity {
		r.capacity = len(items)
	}
	r.buf = items
	r.head = 0
	return nil
}
