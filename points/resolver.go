/*
resolver.go - Locates the value a rule field refers to on an activity

PURPOSE:
  Rule field names are typed by administrators in the rule editor; custom
  question ids are typed separately when a category's questions are designed.
  The resolver bridges the two without a schema link between them.

LOOKUP ORDER:
  1. Structured attribute: the normalized field name (or one of its aliases)
     names a structured attribute with a non-empty value
  2. Answers, exact key
  3. Answers, normalized key equality
  4. Answers, normalized substring match in either direction

AMBIGUITY:
  When step 4 finds several keys, candidates are ranked by:
    a. longest common prefix with the normalized field name
    b. smallest length difference
    c. lexicographic key
  The winner is deterministic across runs and stores. Every candidate is
  reported in Resolution.Candidates and a warning is logged.

SEE ALSO:
  - calculator.go: Sole production caller
*/
package points

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/warp/points-engine/logger"
)

// Source tells where a resolved value came from.
type Source string

const (
	SourceNone      Source = ""
	SourceAttribute Source = "attribute"
	SourceAnswer    Source = "answer"
)

// Resolution is the outcome of resolving one field on one activity.
type Resolution struct {
	Value      string
	Found      bool
	Source     Source
	Key        string   // attribute name or answer key that supplied Value
	Candidates []string // answer keys considered by substring matching, ranked
}

// Resolver implements field lookup. The zero value is not usable; build one
// with NewResolver or New.
type Resolver struct {
	log     logger.Logger
	metrics Recorder
}

// NewResolver returns a standalone resolver.
func NewResolver(log logger.Logger) *Resolver {
	if log == nil {
		log = logger.Discard()
	}
	return &Resolver{log: log, metrics: nopRecorder{}}
}

// attributeAliases maps alternative rule field names onto structured attributes.
var attributeAliases = map[string]string{
	"level":         "scope",
	"outcome":       "position",
	"result":        "position",
	"rank":          "position",
	"participation": "participation_type",
}

// NormalizeKey lowercases s and collapses whitespace runs to single underscores.
func NormalizeKey(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), "_")
}

// Resolve returns the value of field on a.
func (r *Resolver) Resolve(a Activity, field string) Resolution {
	target := NormalizeKey(field)
	if target == "" {
		return Resolution{}
	}

	if name, v := attributeValue(a, target); v != "" {
		return Resolution{Value: v, Found: true, Source: SourceAttribute, Key: name}
	}

	if len(a.Answers) == 0 {
		return Resolution{}
	}

	// Exact key
	if v := answerString(a.Answers[field]); v != "" {
		return Resolution{Value: v, Found: true, Source: SourceAnswer, Key: field}
	}

	keys := make([]string, 0, len(a.Answers))
	for k := range a.Answers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	// Normalized equality
	for _, k := range keys {
		if NormalizeKey(k) != target {
			continue
		}
		if v := answerString(a.Answers[k]); v != "" {
			return Resolution{Value: v, Found: true, Source: SourceAnswer, Key: k}
		}
	}

	// Normalized substring, either direction
	var candidates []string
	for _, k := range keys {
		nk := NormalizeKey(k)
		if nk == "" || nk == target {
			continue
		}
		if !strings.Contains(nk, target) && !strings.Contains(target, nk) {
			continue
		}
		if answerString(a.Answers[k]) == "" {
			continue
		}
		candidates = append(candidates, k)
	}
	if len(candidates) == 0 {
		return Resolution{}
	}

	rankCandidates(target, candidates)
	if len(candidates) > 1 {
		r.log.Warn("ambiguous answer key match",
			"event", "AmbiguousFieldMatch",
			"activity_id", a.ID,
			"field", field,
			"chosen", candidates[0],
			"candidates", strings.Join(candidates, ","))
		r.metrics.AmbiguousFieldMatch(field)
	}

	best := candidates[0]
	return Resolution{
		Value:      answerString(a.Answers[best]),
		Found:      true,
		Source:     SourceAnswer,
		Key:        best,
		Candidates: candidates,
	}
}

func rankCandidates(target string, keys []string) {
	sort.SliceStable(keys, func(i, j int) bool {
		ni, nj := NormalizeKey(keys[i]), NormalizeKey(keys[j])
		pi, pj := commonPrefixLen(ni, target), commonPrefixLen(nj, target)
		if pi != pj {
			return pi > pj
		}
		di, dj := absInt(len(ni)-len(target)), absInt(len(nj)-len(target))
		if di != dj {
			return di < dj
		}
		return keys[i] < keys[j]
	})
}

func commonPrefixLen(a, b string) int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return n
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// attributeValue returns the canonical attribute name and its value for a
// normalized field name, or "" if the name is not a structured attribute.
func attributeValue(a Activity, name string) (string, string) {
	if alias, ok := attributeAliases[name]; ok {
		name = alias
	}
	switch name {
	case "position":
		return name, strings.TrimSpace(a.Position)
	case "scope":
		return name, strings.TrimSpace(a.Scope)
	case "organizer":
		return name, strings.TrimSpace(a.Organizer)
	case "platform":
		return name, strings.TrimSpace(a.Platform)
	case "participation_type":
		return name, strings.TrimSpace(a.ParticipationType)
	case "category":
		return name, strings.TrimSpace(a.Category)
	case "title":
		return name, strings.TrimSpace(a.Title)
	}
	return "", ""
}

// answerString renders an answer value as the string rule tables are keyed by.
func answerString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1e15 {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case json.Number:
		return x.String()
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
