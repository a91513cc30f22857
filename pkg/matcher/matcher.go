// Package matcher implements the hierarchical DICOM matcher (spec.md §3):
// a two-layer tree of flat tag constraints plus nested matchers for
// sequence tags, built from a query dataset and evaluated either as a
// predicate against another dataset or as an extractor producing the
// query's tag-universe projection. Grounded on
// original_source/OrthancServer/Sources/Search/HierarchicalMatcher.cpp's
// Setup/MatchInternal/ExtractInternal/Format shape.
package matcher

import (
	"sort"
	"strings"

	"pacsd/pkg/pacserr"
)

// Tag is a DICOM tag in "GGGG,EEEE" hex form, e.g. "0010,0010" (PatientName).
type Tag string

// Group-length tags (see isGroupLength) and the specific character set tag
// are skipped when a query is turned into constraints, matching HierarchicalMatcher.cpp's skip of "Group Length" tags and
// the encoding tag.
const specificCharacterSetTag Tag = "0008,0005"

func isGroupLength(t Tag) bool {
	idx := strings.IndexByte(string(t), ',')
	return idx >= 0 && string(t)[idx+1:] == "0000"
}

// Value is one dataset element: either a flat string value (possibly
// multi-valued, backslash-delimited per the DICOM value-multiplicity
// convention) or a single-item sequence.
type Value struct {
	Str        string
	IsSequence bool
	Sequence   Dataset // the sequence's sole item; HierarchicalMatcher only
	// supports 0- or 1-item sequence queries (§3), matching
	// HierarchicalMatcher.cpp's explicit rejection of multi-item sequences.
}

// Dataset is a flat or nested DICOM dataset keyed by tag.
type Dataset map[Tag]Value

// ConstraintKind classifies a flat tag constraint.
type ConstraintKind int

const (
	Universal ConstraintKind = iota
	Exact
	Range
	Wildcard
	MultiValue
)

// Constraint is one flat-tag test, built from a query value's literal DICOM
// text: a bare value is Exact or Wildcard (if it contains '*' or '?'), a
// "low-high" string is Range, a backslash-delimited string is MultiValue,
// and an empty value is Universal.
type Constraint struct {
	Tag           Tag
	Kind          ConstraintKind
	Value         string
	RangeLow      string
	RangeHigh     string
	Values        []string
	CaseSensitive bool
}

// personNameTags are matched case-insensitively by default, per spec.md §6
// ("person-name tags are case-insensitive unless configured otherwise").
var personNameTags = map[Tag]bool{
	"0010,0010": true, // PatientName
	"0008,0090": true, // ReferringPhysicianName
	"0008,1050": true, // PerformingPhysicianName
	"0008,1060": true, // NameOfPhysiciansReadingStudy
}

// Matches reports whether value satisfies c.
func (c Constraint) Matches(value string) bool {
	switch c.Kind {
	case Universal:
		return true
	case Exact:
		return compareDicomString(c.Value, value, c.CaseSensitive)
	case Wildcard:
		return matchWildcard(c.Value, value, c.CaseSensitive)
	case Range:
		return matchRange(c.RangeLow, c.RangeHigh, value)
	case MultiValue:
		for _, v := range c.Values {
			if compareDicomString(v, value, c.CaseSensitive) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func compareDicomString(a, b string, caseSensitive bool) bool {
	if caseSensitive {
		return a == b
	}
	return strings.EqualFold(a, b)
}

func matchWildcard(pattern, value string, caseSensitive bool) bool {
	if !caseSensitive {
		pattern = strings.ToUpper(pattern)
		value = strings.ToUpper(value)
	}
	return wildcardMatch(pattern, value)
}

// wildcardMatch implements DICOM's universal matching wildcards: '*' matches
// any run of characters (including empty), '?' matches exactly one
// character.
func wildcardMatch(pattern, value string) bool {
	return wildcardMatchRunes([]rune(pattern), []rune(value))
}

func wildcardMatchRunes(pattern, value []rune) bool {
	if len(pattern) == 0 {
		return len(value) == 0
	}
	if pattern[0] == '*' {
		if wildcardMatchRunes(pattern[1:], value) {
			return true
		}
		if len(value) > 0 {
			return wildcardMatchRunes(pattern, value[1:])
		}
		return false
	}
	if len(value) == 0 {
		return false
	}
	if pattern[0] == '?' || pattern[0] == value[0] {
		return wildcardMatchRunes(pattern[1:], value[1:])
	}
	return false
}

// matchRange implements DICOM date/time range matching: "low-high", where
// either bound may be empty for an open range, compared lexicographically
// (sufficient for the fixed-width YYYYMMDD/HHMMSS encodings these tags use).
func matchRange(low, high, value string) bool {
	if low != "" && value < low {
		return false
	}
	if high != "" && value > high {
		return false
	}
	return true
}

// Format renders c the way HierarchicalMatcher.cpp's Format does, for
// logging/debugging.
func (c Constraint) Format() string {
	switch c.Kind {
	case Universal:
		return string(c.Tag) + " == *"
	case Exact:
		return string(c.Tag) + " == " + c.Value
	case Wildcard:
		return string(c.Tag) + " ~= " + c.Value
	case Range:
		return string(c.Tag) + " in [" + c.RangeLow + ", " + c.RangeHigh + "]"
	case MultiValue:
		return string(c.Tag) + " in {" + strings.Join(c.Values, ", ") + "}"
	default:
		return string(c.Tag) + " == ?"
	}
}

// Matcher is one level of the hierarchical matcher tree.
type Matcher struct {
	flatConstraints []Constraint
	sequences       map[Tag]*Matcher // nil value = universal ("*") sequence match
}

// FromQuery builds a Matcher from query, grounded on
// HierarchicalMatcher::Setup. caseSensitivePN overrides the default
// case-insensitive comparison of person-name tags.
func FromQuery(query Dataset, caseSensitivePN bool) (*Matcher, error) {
	m := &Matcher{sequences: map[Tag]*Matcher{}}

	for tag, value := range query {
		if tag == specificCharacterSetTag || isGroupLength(tag) {
			continue
		}

		if value.IsSequence {
			if len(value.Sequence) == 0 {
				m.sequences[tag] = nil
				continue
			}
			child, err := FromQuery(value.Sequence, caseSensitivePN)
			if err != nil {
				return nil, err
			}
			m.sequences[tag] = child
			continue
		}

		constraint, ok := buildConstraint(tag, value.Str, caseSensitivePN)
		if !ok {
			continue
		}
		m.flatConstraints = append(m.flatConstraints, constraint)
	}

	return m, nil
}

func buildConstraint(tag Tag, raw string, caseSensitivePN bool) (Constraint, bool) {
	caseSensitive := !personNameTags[tag] || caseSensitivePN

	if raw == "" {
		return Constraint{Tag: tag, Kind: Universal, CaseSensitive: caseSensitive}, true
	}
	if strings.Contains(raw, "\\") {
		return Constraint{Tag: tag, Kind: MultiValue, Values: strings.Split(raw, "\\"), CaseSensitive: caseSensitive}, true
	}
	if strings.ContainsAny(raw, "*?") {
		return Constraint{Tag: tag, Kind: Wildcard, Value: raw, CaseSensitive: caseSensitive}, true
	}
	if idx := strings.IndexByte(raw, '-'); idx >= 0 && looksLikeRange(raw, idx) {
		return Constraint{Tag: tag, Kind: Range, RangeLow: raw[:idx], RangeHigh: raw[idx+1:], CaseSensitive: caseSensitive}, true
	}
	return Constraint{Tag: tag, Kind: Exact, Value: raw, CaseSensitive: caseSensitive}, true
}

// looksLikeRange restricts range parsing to bare numeric date/time style
// bounds so that a literal hyphen inside a normal string value (e.g. a
// hyphenated name) is not misread as a range constraint.
func looksLikeRange(raw string, hyphenIdx int) bool {
	low, high := raw[:hyphenIdx], raw[hyphenIdx+1:]
	return isDigitsOnly(low) && isDigitsOnly(high) && (low != "" || high != "")
}

func isDigitsOnly(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Match reports whether dicom satisfies every flat constraint and every
// sequence sub-matcher in m, grounded on HierarchicalMatcher::MatchInternal.
func (m *Matcher) Match(dicom Dataset) bool {
	for _, c := range m.flatConstraints {
		value, present := dicom[c.Tag]
		if !present || value.IsSequence {
			if c.Kind != Universal {
				return false
			}
			continue
		}
		if !c.Matches(value.Str) {
			return false
		}
	}

	for tag, sub := range m.sequences {
		value, present := dicom[tag]
		if sub == nil {
			continue // universal sequence match
		}
		if !present || !value.IsSequence {
			return false
		}
		if !sub.Match(value.Sequence) {
			return false
		}
	}

	return true
}

// Extract projects dicom onto m's tag universe: every flat tag m constrains
// is copied verbatim from dicom (if present), and every sequence tag is
// recursively extracted, grounded on HierarchicalMatcher::ExtractInternal.
func (m *Matcher) Extract(dicom Dataset) Dataset {
	out := Dataset{}
	for _, c := range m.flatConstraints {
		if value, present := dicom[c.Tag]; present && !value.IsSequence {
			out[c.Tag] = value
		}
	}
	for tag, sub := range m.sequences {
		value, present := dicom[tag]
		if !present || !value.IsSequence {
			continue
		}
		if sub == nil {
			out[tag] = value
			continue
		}
		out[tag] = Value{IsSequence: true, Sequence: sub.Extract(value.Sequence)}
	}
	return out
}

// Format renders the matcher tree as indented text, grounded on
// HierarchicalMatcher::Format.
func (m *Matcher) Format(prefix string) string {
	var b strings.Builder
	seen := map[Tag]bool{}
	for _, c := range m.flatConstraints {
		b.WriteString(prefix + c.Format() + "\n")
		seen[c.Tag] = true
	}

	tags := make([]Tag, 0, len(m.sequences))
	for tag := range m.sequences {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })

	for _, tag := range tags {
		sub := m.sequences[tag]
		if sub == nil {
			b.WriteString(prefix + string(tag) + " *\n")
			continue
		}
		b.WriteString(prefix + string(tag) + " Sequence:\n")
		b.WriteString(sub.Format(prefix + "  "))
	}
	return b.String()
}

// NewConstraintBuildError wraps a malformed query error, matching
// HierarchicalMatcher::Setup's ErrorCode_BadRequest on a duplicate or
// multi-item sequence constraint.
func NewConstraintBuildError(format string, args ...interface{}) error {
	return pacserr.New(pacserr.BadRequest, format, args...)
}
