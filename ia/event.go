// Package ia folds timed DOM snapshots of an editor's inline-suggestion
// overlay into Interest Area records: labeled, time-bounded rectangles
// describing where and when a suggestion was visible on screen.
//
// The package is pure computation. Events come in, closed intervals and an
// updated resumable state come out; persistence and transport live elsewhere.
package ia

import (
	"encoding/json"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// Shape is one visible suggestion rectangle observed in a snapshot.
// Width and Height must be positive for the shape to participate in
// aggregation; degenerate rectangles are filtered out.
type Shape struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	HTML   string  `json:"html"`
	Text   string  `json:"text"`
}

// PlainText returns the shape's text content, deriving it from the markup
// when the capture layer provided none.
func (s Shape) PlainText() string {
	if s.Text != "" {
		return s.Text
	}
	return TextFromHTML(s.HTML)
}

// Payload is the variant part of a snapshot event: either a one-time origin
// marker (Message + Timestamp, no Coordinates key) or a list of visible
// rectangles. An empty non-nil Coordinates slice means the suggestion UI
// fully disappeared.
type Payload struct {
	Message     string  `json:"message,omitempty"`
	Timestamp   string  `json:"timestamp,omitempty"`
	Coordinates []Shape `json:"coordinates"`
	Signature   string  `json:"signature,omitempty"`
}

// HasCoordinates reports whether the payload carries a rectangle list
// (possibly empty) as opposed to being a marker.
func (p *Payload) HasCoordinates() bool {
	return p != nil && p.Coordinates != nil
}

// Event is one append-only log entry.
type Event struct {
	Timestamp string          `json:"timestamp"`
	Payload   *Payload        `json:"coordinates,omitempty"`
	Audit     json.RawMessage `json:"event,omitempty"`
}

// ParseTime parses an ISO-8601 timestamp. ok is false on invalid input.
func ParseTime(s string) (time.Time, bool) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// TextFromHTML strips markup and returns the concatenated text content.
func TextFromHTML(markup string) string {
	if markup == "" {
		return ""
	}
	node, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return ""
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(node)
	return strings.TrimSpace(b.String())
}
