package servermetrics

import (
	"sort"
	"strconv"
	"strings"
)

// LabelType is one of the four value types a grouped metric may declare
// for a label.
type LabelType int

const (
	LabelString LabelType = iota
	LabelInt64
	LabelBool
	LabelFloat64
)

func (t LabelType) String() string {
	switch t {
	case LabelString:
		return "string"
	case LabelInt64:
		return "int64"
	case LabelBool:
		return "bool"
	case LabelFloat64:
		return "float64"
	}
	return "unknown"
}

// LabelSchema declares the required label names of a grouped metric and
// the value type each one accepts. Schemas are fixed at metric
// construction and checked on every access.
type LabelSchema map[string]LabelType

// LabelValue is a closed tagged variant over the supported label value
// types.
type LabelValue struct {
	typ LabelType
	s   string
	i   int64
	b   bool
	f   float64
}

// Type returns the variant's type tag.
func (v LabelValue) Type() LabelType { return v.typ }

// String renders the value the way it appears in scrape text and
// statsd tags.
func (v LabelValue) String() string {
	switch v.typ {
	case LabelString:
		return v.s
	case LabelInt64:
		return strconv.FormatInt(v.i, 10)
	case LabelBool:
		return strconv.FormatBool(v.b)
	default:
		return formatFloat(v.f)
	}
}

// Label is a single label name with its value.
type Label struct {
	Name  string
	Value LabelValue
}

// String makes a string-valued label.
func String(name, value string) Label {
	return Label{Name: name, Value: LabelValue{typ: LabelString, s: value}}
}

// Int makes an int64-valued label.
func Int(name string, value int64) Label {
	return Label{Name: name, Value: LabelValue{typ: LabelInt64, i: value}}
}

// Bool makes a bool-valued label.
func Bool(name string, value bool) Label {
	return Label{Name: name, Value: LabelValue{typ: LabelBool, b: value}}
}

// Float makes a float64-valued label.
func Float(name string, value float64) Label {
	return Label{Name: name, Value: LabelValue{typ: LabelFloat64, f: value}}
}

// LabelSet is a canonical label assignment: labels ordered by name.
// Once attached to a cell it is never modified.
type LabelSet []Label

func newLabelSet(labels []Label) LabelSet {
	ls := make(LabelSet, len(labels))
	copy(ls, labels)
	sort.Slice(ls, func(i, j int) bool { return ls[i].Name < ls[j].Name })
	return ls
}

// key returns a unique map key for the label set. Null bytes separate
// the components since they cannot appear in label names, and each
// value carries its type tag so e.g. Int("a", 1) and String("a", "1")
// key differently.
func (ls LabelSet) key() string {
	if len(ls) == 0 {
		return ""
	}
	var b strings.Builder
	for i, l := range ls {
		if i > 0 {
			b.WriteByte(0)
		}
		b.WriteString(l.Name)
		b.WriteByte(0)
		b.WriteByte(byte('0' + l.Value.typ))
		b.WriteString(l.Value.String())
	}
	return b.String()
}

// String renders the set as "k=v,k=v" for log messages.
func (ls LabelSet) String() string {
	var b strings.Builder
	for i, l := range ls {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(l.Name)
		b.WriteByte('=')
		b.WriteString(l.Value.String())
	}
	return b.String()
}

// StringMap converts the set to a plain string map, as consumed by
// backends that take flat label maps.
func (ls LabelSet) StringMap() map[string]string {
	m := make(map[string]string, len(ls))
	for _, l := range ls {
		m[l.Name] = l.Value.String()
	}
	return m
}

// resolve checks a provided label assignment against the schema: the
// names must match the schema exactly, with no extras, omissions or
// duplicates, and every value must have the declared type. On success
// it returns the canonicalized set.
func (s LabelSchema) resolve(labels []Label) (LabelSet, bool) {
	if len(labels) != len(s) {
		return nil, false
	}
	seen := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		want, ok := s[l.Name]
		if !ok || want != l.Value.typ {
			return nil, false
		}
		if _, dup := seen[l.Name]; dup {
			return nil, false
		}
		seen[l.Name] = struct{}{}
	}
	return newLabelSet(labels), true
}
