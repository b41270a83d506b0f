package rules

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"fabricsync/internal"
)

// HeaderRowKey is the question key for the header row; the other keys are column roles.
const HeaderRowKey = "headerRow"

// Question asks the operator to confirm or correct one mapping.
type Question struct {
	Key       string
	Prompt    string
	Suggested int
	Options   []string
	Required  bool
}

// Answers maps a question key to a column (or row) index; -1 clears the mapping.
type Answers map[string]int

var prompts = map[string]string{
	string(internal.RoleCollection):      "Which column holds the collection name?",
	string(internal.RoleColorNumber):     "Which column holds the color number?",
	string(internal.RoleInStock):         "Which column says whether the fabric is in stock?",
	string(internal.RoleMeterage):        "Which column holds the remaining meterage?",
	string(internal.RolePrice):           "Which column holds the price?",
	string(internal.RoleComment):         "Which column holds a comment?",
	string(internal.RoleNextArrivalDate): "Which column holds the next arrival date?",
	HeaderRowKey:                         "Which row is the header row?",
}

// Questions builds the guided refinement, pre-filled from the current rule set
// and falling back to the analysis suggestions.
func Questions(rs *internal.ExtractionRuleSet, an internal.Analysis) []Question {
	header := -1
	if rs != nil && rs.HeaderRow != nil {
		header = *rs.HeaderRow
	} else if an.HeaderRow != nil {
		header = *an.HeaderRow
	}

	var columns []string
	if header >= 0 && header < len(an.SampleRows) {
		for i, c := range an.SampleRows[header] {
			columns = append(columns, fmt.Sprintf("%d: %s", i, c))
		}
	}

	out := make([]Question, 0, len(internal.AllRoles)+1)
	out = append(out, Question{Key: HeaderRowKey, Prompt: prompts[HeaderRowKey], Suggested: header})
	for _, role := range internal.AllRoles {
		suggested := rs.Column(role)
		if suggested < 0 {
			if idx, ok := an.SuggestedColumns[role]; ok {
				suggested = idx
			}
		}
		out = append(out, Question{
			Key:       string(role),
			Prompt:    prompts[string(role)],
			Suggested: suggested,
			Options:   columns,
			Required:  role == internal.RoleCollection,
		})
	}
	return out
}

// ParseAnswer reads operator input: empty keeps the suggestion, "-" clears it.
func ParseAnswer(q Question, input string) (int, error) {
	input = strings.TrimSpace(input)
	switch input {
	case "":
		return q.Suggested, nil
	case "-":
		if q.Required {
			return 0, fmt.Errorf("%s is required", q.Key)
		}
		return -1, nil
	}
	if i := strings.Index(input, ":"); i > 0 {
		input = strings.TrimSpace(input[:i])
	}
	n, err := strconv.Atoi(input)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("expected a column number, got %q", input)
	}
	return n, nil
}

// ApplyAnswers returns a confirmed copy of rs with the answers applied.
func ApplyAnswers(rs *internal.ExtractionRuleSet, answers Answers, now time.Time) (*internal.ExtractionRuleSet, error) {
	out := internal.ExtractionRuleSet{ColumnMappings: map[internal.ColumnRole]int{}}
	if rs != nil {
		out = *rs
		out.ColumnMappings = map[internal.ColumnRole]int{}
		for k, v := range rs.ColumnMappings {
			out.ColumnMappings[k] = v
		}
		out.SkipRows = append([]int(nil), rs.SkipRows...)
		out.SkipPatterns = append([]string(nil), rs.SkipPatterns...)
	}

	if h, ok := answers[HeaderRowKey]; ok {
		if h < 0 {
			out.HeaderRow = nil
			out.SkipRows = nil
		} else {
			hr := h
			out.HeaderRow = &hr
			out.SkipRows = nil
			for r := 0; r <= h; r++ {
				out.SkipRows = append(out.SkipRows, r)
			}
		}
	}

	for _, role := range internal.AllRoles {
		col, ok := answers[string(role)]
		if !ok {
			continue
		}
		if col < 0 {
			delete(out.ColumnMappings, role)
			continue
		}
		out.ColumnMappings[role] = col
	}

	if _, ok := out.ColumnMappings[internal.RoleCollection]; !ok {
		return nil, fmt.Errorf("collection column is required")
	}
	byCol := map[int]internal.ColumnRole{}
	roles := make([]string, 0, len(out.ColumnMappings))
	for role := range out.ColumnMappings {
		roles = append(roles, string(role))
	}
	sort.Strings(roles)
	for _, r := range roles {
		role := internal.ColumnRole(r)
		col := out.ColumnMappings[role]
		if other, dup := byCol[col]; dup {
			return nil, fmt.Errorf("column %d assigned to both %s and %s", col, other, role)
		}
		byCol[col] = role
	}
	if _, ok := out.ColumnMappings[internal.RoleColorNumber]; ok {
		out.SpecialRules.SplitCompound = false
	}

	out.Confirmed = true
	out.UpdatedAt = now
	return &out, nil
}
