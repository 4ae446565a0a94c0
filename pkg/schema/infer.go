package schema

import (
	"strconv"
	"strings"
)

// Rule is one predicate→type classifier. Rules are evaluated in the fixed
// precedence VARIANT > DATE > NUMBER > FLOAT > VARCHAR; the first match
// decides the column type. Keeping the rules as independent entries lets
// each be tested and reordered on its own.
type Rule struct {
	Tag TypeTag
	// Match inspects the column name and its non-empty values. DATE is the
	// one name-driven rule; the rest never look at the name.
	Match func(name string, values []string) bool
}

// Rules is the ordered classifier applied per column.
var Rules = []Rule{
	{TypeVariant, matchVariant},
	{TypeDate, matchDate},
	{TypeNumber, matchNumber},
	{TypeFloat, matchFloat},
	{TypeVarchar, func(string, []string) bool { return true }},
}

// Infer decides one analytical type per header column from the batch's
// values. Empty cells never influence the decision; a column of entirely
// empty values is VARCHAR unless its name marks it as DATE. Pure and
// deterministic: permuting row order cannot change the result.
func Infer(header []string, rows [][]string) Schema {
	out := make(Schema, len(header))
	for i, name := range header {
		values := make([]string, 0, len(rows))
		for _, row := range rows {
			if i >= len(row) {
				continue
			}
			if v := strings.TrimSpace(row[i]); v != "" {
				values = append(values, v)
			}
		}
		out[i] = Column{Name: name, Type: inferColumn(name, values)}
	}
	return out
}

func inferColumn(name string, values []string) TypeTag {
	for _, r := range Rules {
		if r.Match(name, values) {
			return r.Tag
		}
	}
	return TypeVarchar
}

// matchVariant fires when any value looks like a JSON object or array. One
// JSON-shaped value forces the whole column, even if every other value
// would parse as a number.
func matchVariant(_ string, values []string) bool {
	for _, v := range values {
		if looksLikeJSON(v) {
			return true
		}
	}
	return false
}

func looksLikeJSON(v string) bool {
	if len(v) < 2 {
		return false
	}
	if v[0] == '{' && v[len(v)-1] == '}' {
		return true
	}
	return v[0] == '[' && v[len(v)-1] == ']'
}

// matchDate is name-driven: a column whose name contains "date" (any case)
// is DATE regardless of cell contents. Values that fail to parse as
// calendar dates are still stored DATE-typed; the warehouse rejects or
// coerces them at load time.
func matchDate(name string, _ []string) bool {
	return strings.Contains(strings.ToLower(name), "date")
}

func matchNumber(_ string, values []string) bool {
	if len(values) == 0 {
		return false
	}
	for _, v := range values {
		if !isIntegerText(v) {
			return false
		}
	}
	return true
}

func isIntegerText(v string) bool {
	if strings.HasPrefix(v, "-") {
		v = v[1:]
	}
	if v == "" {
		return false
	}
	for _, r := range v {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// matchFloat accepts columns of decimal text once matchNumber has already
// declined, so a single decimal-point value among integers makes the
// column FLOAT.
func matchFloat(_ string, values []string) bool {
	if len(values) == 0 {
		return false
	}
	for _, v := range values {
		if _, err := strconv.ParseFloat(v, 64); err != nil {
			return false
		}
	}
	return true
}
