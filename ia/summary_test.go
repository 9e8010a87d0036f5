package ia

import "testing"

func TestSummarizer_Build(t *testing.T) {
	s := NewSummarizer()
	base := int64(0)
	st := NewState()
	st.BaseEpochMs = &base
	st.LastProcessedISO = "1970-01-01T00:00:09Z"
	st.MarkAccepted("autolabel_1")
	st.Active = []ActiveEntry{{
		Key: "k3",
		Rec: Record{Start: 5000, End: 7000, ID: 3, Label: "autolabel_2", HTML: "<i>c</i>", X: 1, Y: 2, Right: 11, Bottom: 22},
	}}

	closed := []Record{
		{Start: 1000, End: 2000, ID: 1, Label: "autolabel_1", HTML: "<b>a</b>"},
		{Start: 3000, End: 4000, ID: 2, Label: "autolabel_1_1", HTML: "<b>b</b>"},
	}

	got := s.Build(closed, st)
	if len(got) != 3 {
		t.Fatalf("records: got %d, want 3", len(got))
	}

	first := got[0]
	if first.Accepted == nil || !*first.Accepted {
		t.Errorf("closed accepted root: got %v, want true", first.Accepted)
	}
	suffixed := got[1]
	if suffixed.Accepted == nil || !*suffixed.Accepted {
		t.Errorf("suffixed label shares the root's accepted flag: got %v", suffixed.Accepted)
	}

	active := got[2]
	if !active.IsActive {
		t.Fatalf("last record should be the active one: %+v", active)
	}
	if active.Accepted != nil {
		t.Errorf("active accepted: got %v, want nil", active.Accepted)
	}
	if active.End != 9000 {
		t.Errorf("active end: got %d, want watermark 9000", active.End)
	}
	if active.Width != 10 || active.Height != 20 {
		t.Errorf("active size: got %vx%v, want 10x20", active.Width, active.Height)
	}
}

func TestSummarizer_SanitizesHTML(t *testing.T) {
	s := NewSummarizer()
	closed := []Record{{Start: 0, End: 1, Label: "autolabel_1", HTML: `<b>ok</b><script>alert(1)</script>`}}
	got := s.Build(closed, NewState())
	if len(got) != 1 {
		t.Fatalf("records: got %d, want 1", len(got))
	}
	if got[0].HTML != "<b>ok</b>" {
		t.Errorf("sanitized html: got %q", got[0].HTML)
	}
}

func TestSummarizer_CapKeepsEarliestPerRoot(t *testing.T) {
	s := NewSummarizer()
	s.Cap = 2

	closed := []Record{
		{Start: 1000, End: 1500, ID: 1, Label: "autolabel_1"},
		{Start: 2000, End: 2500, ID: 2, Label: "autolabel_1_1"},
		{Start: 3000, End: 3500, ID: 3, Label: "autolabel_1_2"},
		{Start: 4000, End: 4500, ID: 4, Label: "autolabel_2"},
	}

	got := s.Build(closed, NewState())
	// Window keeps the newest two; autolabel_1's earliest record is
	// re-attached because the root is still present in the window.
	if len(got) != 3 {
		t.Fatalf("records: got %d, want 3: %+v", len(got), got)
	}
	if got[0].Start != 1000 || got[0].Label != "autolabel_1" {
		t.Errorf("re-attached earliest: got %+v", got[0])
	}
	if got[1].Start != 3000 || got[2].Start != 4000 {
		t.Errorf("window order: got %+v", got[1:])
	}
}

func TestSummarizer_CapZeroMeansUnbounded(t *testing.T) {
	s := NewSummarizer()
	s.Cap = 0
	closed := make([]Record, 250)
	for i := range closed {
		closed[i] = Record{Start: int64(i), Label: "autolabel_1"}
	}
	if got := s.Build(closed, NewState()); len(got) != 250 {
		t.Errorf("records: got %d, want 250", len(got))
	}
}

func TestState_UpdatePrimaryRoot(t *testing.T) {
	st := NewState()

	st.UpdatePrimaryRoot([]Record{{Label: "autolabel_1"}, {Label: "autolabel_2_1"}})
	if st.LastPrimaryRoot != "autolabel_2" {
		t.Errorf("from closed: got %q, want autolabel_2", st.LastPrimaryRoot)
	}

	st.Active = []ActiveEntry{
		{Key: "a", Rec: Record{End: 100, Label: "autolabel_3"}},
		{Key: "b", Rec: Record{End: 300, Label: "autolabel_4_2"}},
	}
	st.UpdatePrimaryRoot(nil)
	if st.LastPrimaryRoot != "autolabel_4" {
		t.Errorf("from active: got %q, want autolabel_4", st.LastPrimaryRoot)
	}

	st.Active = nil
	st.UpdatePrimaryRoot(nil)
	if st.LastPrimaryRoot != "autolabel_4" {
		t.Errorf("nothing to update from: got %q, want previous value kept", st.LastPrimaryRoot)
	}
}

func TestState_MarkAccepted(t *testing.T) {
	st := NewState()
	if !st.MarkAccepted("autolabel_1") {
		t.Error("first mark should report true")
	}
	if st.MarkAccepted("autolabel_1") {
		t.Error("duplicate mark should report false")
	}
	if st.MarkAccepted("") {
		t.Error("empty root should report false")
	}
	if len(st.AcceptedRoots) != 1 {
		t.Errorf("roots: got %v", st.AcceptedRoots)
	}
}
