package servermetrics

import (
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
)

// formatFloat renders a value with a decimal point, so 1 prints as
// "1.0" and 2.5 as "2.5". NaN and infinities pass through untouched.
func formatFloat(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return strconv.FormatFloat(v, 'g', -1, 64)
	}
	s := strconv.FormatFloat(v, 'g', -1, 64)
	if !strings.Contains(s, ".") {
		if i := strings.IndexAny(s, "eE"); i >= 0 {
			// Exponent form such as "1e+06": the point goes into the
			// mantissa, giving "1.0e+06".
			s = s[:i] + ".0" + s[i:]
		} else {
			s += ".0"
		}
	}
	return s
}

// labelEscaper escapes label values for the text format: backslash,
// double quote, and newline.
var labelEscaper = strings.NewReplacer(`\`, `\\`, "\n", `\\n`, `"`, `\"`)

// formatLabelClause renders the "{k1="v1",k2="v2"}" clause for a label
// set, or "" for an empty one.
func formatLabelClause(ls LabelSet) string {
	if len(ls) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteByte('{')
	for i, l := range ls {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(l.Name)
		b.WriteString(`="`)
		b.WriteString(labelEscaper.Replace(l.Value.String()))
		b.WriteByte('"')
	}
	b.WriteByte('}')
	return b.String()
}

// WriteText renders the registry as a scrape-compatible text document.
// Metrics appear in ascending name order; within a metric, cells appear
// in ascending order of their formatted label clause; a blank line
// follows every metric's block. Two scrapes with no intervening
// mutation produce byte-identical output.
func (r *Registry) WriteText(w io.Writer) error {
	for name, m := range r.Each() {
		if _, err := io.WriteString(w, "# TYPE "+name+" "+m.Kind().String()+"\n"); err != nil {
			return err
		}
		type line struct {
			clause string
			value  float64
		}
		var lines []line
		for cell := range m.Cells() {
			lines = append(lines, line{clause: formatLabelClause(cell.labels), value: cell.Value()})
		}
		sort.Slice(lines, func(i, j int) bool { return lines[i].clause < lines[j].clause })
		for _, l := range lines {
			if _, err := io.WriteString(w, name+l.clause+" "+formatFloat(l.value)+"\n"); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, "\n"); err != nil {
			return err
		}
	}
	return nil
}

// TextSnapshot renders the registry as a string; see WriteText.
func (r *Registry) TextSnapshot() string {
	var b strings.Builder
	_ = r.WriteText(&b)
	return b.String()
}

// HandleScrape returns the scrape body for the default registry. The
// embedder mounts it on an HTTP endpoint of its choice, conventionally
// /metrics.
func HandleScrape() string {
	return Default().TextSnapshot()
}
