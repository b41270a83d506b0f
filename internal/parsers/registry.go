package parsers

import (
	"fmt"
	"sort"
	"time"

	"fabricsync/internal"
)

type Kind string

const (
	KindRules     Kind = "rules"
	KindCompound  Kind = "compound"
	KindSectioned Kind = "sectioned"
	KindTextList  Kind = "text_list"
)

// Options carry everything a parse needs; parsers hold no state between runs.
type Options struct {
	Rules           *internal.ExtractionRuleSet
	DefaultSentinel float64
	Now             time.Time
}

type Result struct {
	Records  []internal.FabricRecord
	Warnings []internal.NormalizationWarning
	Skipped  int
}

type ParseFunc func(grid internal.Grid, opts Options) (Result, error)

// variant describes one entry of the strategy table.
type variant struct {
	parse ParseFunc
	// needsRules reports whether the variant cannot run without a column mapping.
	needsRules bool
}

var registry = map[Kind]variant{
	KindRules:     {parse: parseRules, needsRules: true},
	KindCompound:  {parse: parseCompound},
	KindSectioned: {parse: parseSectioned},
	KindTextList:  {parse: parseTextList},
}

func Lookup(kind string) (ParseFunc, error) {
	v, ok := registry[Kind(kind)]
	if !ok {
		return nil, fmt.Errorf("unknown parser kind %q", kind)
	}
	return v.parse, nil
}

func Known(kind string) bool {
	_, ok := registry[Kind(kind)]
	return ok
}

// NeedsRules is true for variants that require a stored rule set.
func NeedsRules(kind string) bool {
	return registry[Kind(kind)].needsRules
}

func Kinds() []string {
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, string(k))
	}
	sort.Strings(out)
	return out
}
