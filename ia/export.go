package ia

import (
	"fmt"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
)

// tsvHeader matches the table layout the downstream analysis tooling expects.
const tsvHeader = "# IA\tstart_time\tend_time\tshape\tID\tx\ty\tright\tbottom\tlabel\n"

// Exporter renders batch results for file export.
type Exporter struct {
	conv *converter.Converter
}

// NewExporter creates an Exporter.
func NewExporter() *Exporter {
	return &Exporter{
		conv: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
			),
		),
	}
}

// TSV renders closed records as the tab-separated interest-area table.
// Start and end keep the generator's negative-sign convention; coordinates
// carry two decimals.
func (e *Exporter) TSV(records []Record) string {
	var b strings.Builder
	b.WriteString(tsvHeader)
	for _, r := range records {
		fmt.Fprintf(&b, "-%d\t-%d\tRECTANGLE\t%d\t%.2f\t%.2f\t%.2f\t%.2f\t%s\n",
			r.Start, r.End, r.ID, r.X, r.Y, r.Right, r.Bottom, r.Label)
	}
	return b.String()
}

// ShapeText converts the label-to-markup dictionary into a label-to-text one
// for human-readable export. Markup that fails markdown conversion falls back
// to a tag-stripped rendering.
func (e *Exporter) ShapeText(markup map[string]string) map[string]string {
	out := make(map[string]string, len(markup))
	for label, html := range markup {
		text, err := e.conv.ConvertString(html)
		if err != nil || strings.TrimSpace(text) == "" {
			text = TextFromHTML(html)
		}
		out[label] = strings.TrimSpace(text)
	}
	return out
}
