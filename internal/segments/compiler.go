// Package segments compiles declarative audience rules into predicates that
// run both against the customer store (as a SQL prefilter) and in-process
// (for conditions SQL cannot express portably, such as tag membership on a
// JSON column).
package segments

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/echocrm/backend/pkg/db/models"
)

// Rule fields.
const (
	FieldTotalSpends  = "totalSpends"
	FieldVisitCount   = "visitCount"
	FieldLastSeenDays = "lastSeenDays"
	FieldTags         = "tags"
)

type condition struct {
	field    string
	operator string
	number   float64
	tags     []string
}

// Predicate is a disjunction of conjunctive groups. A predicate with no
// groups matches every customer.
type Predicate struct {
	groups [][]condition
}

// Compile reduces the rule list left to right: OR closes the current
// conjunctive group and starts a new one, AND (or an empty chain) appends.
// The grammar is sequence-based, not precedence-based: A OR B AND C means
// (A) OR (B AND C). A rule with an unparsable numeric value, an operator
// its field does not support, or a logical connector other than AND/OR is
// dropped without affecting the rest of the list.
func Compile(rules []models.Rule) Predicate {
	var groups [][]condition
	var current []condition

	for i, rule := range rules {
		switch rule.Logical {
		case "", "AND", "OR":
		default:
			continue
		}
		cond, ok := translate(rule)
		if !ok {
			continue
		}
		if i > 0 && rule.Logical == "OR" {
			if len(current) > 0 {
				groups = append(groups, current)
			}
			current = []condition{cond}
			continue
		}
		current = append(current, cond)
	}

	if len(current) > 0 {
		groups = append(groups, current)
	}
	return Predicate{groups: groups}
}

func translate(rule models.Rule) (condition, bool) {
	switch rule.Field {
	case FieldTotalSpends, FieldVisitCount, FieldLastSeenDays:
		number, ok := parseNumber(rule.Value)
		if !ok {
			return condition{}, false
		}
		switch rule.Operator {
		case ">", "<", "=", ">=", "<=", "!=":
			return condition{field: rule.Field, operator: rule.Operator, number: number}, true
		}
		return condition{}, false
	case FieldTags:
		switch rule.Operator {
		case "contains", "notContains", "in", "notIn":
			tags, ok := parseTags(rule.Value)
			if !ok {
				return condition{}, false
			}
			return condition{field: FieldTags, operator: rule.Operator, tags: tags}, true
		}
		return condition{}, false
	}
	return condition{}, false
}

func parseNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	}
	return 0, false
}

// parseTags normalizes a rule value to a lower-cased tag list. A single
// string splits on commas.
func parseTags(value any) ([]string, bool) {
	var raw []string
	switch v := value.(type) {
	case string:
		raw = strings.Split(v, ",")
	case []string:
		raw = v
	case []any:
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			raw = append(raw, s)
		}
	default:
		return nil, false
	}

	out := make([]string, 0, len(raw))
	for _, tag := range raw {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag != "" {
			out = append(out, tag)
		}
	}
	if len(out) == 0 {
		return nil, false
	}
	return out, true
}

// IsMatchAll reports whether the predicate has no conditions.
func (p Predicate) IsMatchAll() bool {
	return len(p.groups) == 0
}

// Matches evaluates the predicate against one customer in-process. A
// customer that was never seen does not satisfy any lastSeenDays condition.
func (p Predicate) Matches(c *models.Customer, now time.Time) bool {
	if len(p.groups) == 0 {
		return true
	}
	for _, group := range p.groups {
		if groupMatches(group, c, now) {
			return true
		}
	}
	return false
}

func groupMatches(group []condition, c *models.Customer, now time.Time) bool {
	for _, cond := range group {
		if !cond.matches(c, now) {
			return false
		}
	}
	return true
}

func (cond condition) matches(c *models.Customer, now time.Time) bool {
	switch cond.field {
	case FieldTotalSpends:
		return compareNumber(c.TotalSpends, cond.operator, cond.number)
	case FieldVisitCount:
		return compareNumber(float64(c.VisitCount), cond.operator, cond.number)
	case FieldLastSeenDays:
		if c.LastSeen == nil {
			return false
		}
		elapsed := now.Sub(*c.LastSeen).Hours() / 24
		switch cond.operator {
		case "=":
			return float64(int(elapsed)) == cond.number
		case "!=":
			return float64(int(elapsed)) != cond.number
		}
		return compareNumber(elapsed, cond.operator, cond.number)
	case FieldTags:
		return tagsMatch(c.Tags, cond.operator, cond.tags)
	}
	return false
}

func compareNumber(actual float64, operator string, expected float64) bool {
	switch operator {
	case ">":
		return actual > expected
	case "<":
		return actual < expected
	case "=":
		return actual == expected
	case ">=":
		return actual >= expected
	case "<=":
		return actual <= expected
	case "!=":
		return actual != expected
	}
	return false
}

// tagsMatch mirrors array membership semantics: contains/in match when any
// of the rule's tags is present, notContains/notIn when none are.
func tagsMatch(actual []string, operator string, expected []string) bool {
	anyPresent := false
	for _, tag := range expected {
		for _, have := range actual {
			if have == tag {
				anyPresent = true
				break
			}
		}
		if anyPresent {
			break
		}
	}
	switch operator {
	case "contains", "in":
		return anyPresent
	case "notContains", "notIn":
		return !anyPresent
	}
	return false
}

// Scope returns a gorm scope applying the SQL-expressible part of the
// predicate. Tag conditions stay in-process, so the scoped query selects a
// superset of the audience; callers filter the rows with Matches afterwards.
func (p Predicate) Scope(now time.Time) func(*gorm.DB) *gorm.DB {
	clause, args := p.buildSQL(now)
	return func(db *gorm.DB) *gorm.DB {
		if clause == "" {
			return db
		}
		return db.Where(clause, args...)
	}
}

func (p Predicate) buildSQL(now time.Time) (string, []any) {
	if len(p.groups) == 0 {
		return "", nil
	}

	var groupExprs []string
	var args []any
	for _, group := range p.groups {
		var exprs []string
		for _, cond := range group {
			expr, condArgs, ok := cond.sql(now)
			if !ok {
				continue
			}
			exprs = append(exprs, expr)
			args = append(args, condArgs...)
		}
		// A group whose conditions are all in-process-only cannot be
		// narrowed in SQL, which makes the whole disjunction unbounded.
		if len(exprs) == 0 {
			return "", nil
		}
		groupExprs = append(groupExprs, "("+strings.Join(exprs, " AND ")+")")
	}
	return strings.Join(groupExprs, " OR "), args
}

func (cond condition) sql(now time.Time) (string, []any, bool) {
	switch cond.field {
	case FieldTotalSpends:
		return numericSQL("total_spends", cond.operator, cond.number)
	case FieldVisitCount:
		return numericSQL("visit_count", cond.operator, cond.number)
	case FieldLastSeenDays:
		return lastSeenSQL(cond.operator, cond.number, now)
	}
	return "", nil, false
}

func numericSQL(column, operator string, value float64) (string, []any, bool) {
	op := operator
	if op == "!=" {
		op = "<>"
	}
	return fmt.Sprintf("%s %s ?", column, op), []any{value}, true
}

// lastSeenSQL rewrites a days-since-last-seen comparison as a cutoff on the
// last_seen timestamp. Equality is taken at whole-day granularity.
func lastSeenSQL(operator string, days float64, now time.Time) (string, []any, bool) {
	cutoff := func(d float64) time.Time {
		return now.Add(-time.Duration(d * 24 * float64(time.Hour)))
	}
	switch operator {
	case ">":
		return "last_seen < ?", []any{cutoff(days)}, true
	case ">=":
		return "last_seen <= ?", []any{cutoff(days)}, true
	case "<":
		return "last_seen > ?", []any{cutoff(days)}, true
	case "<=":
		return "last_seen >= ?", []any{cutoff(days)}, true
	case "=":
		return "(last_seen <= ? AND last_seen > ?)", []any{cutoff(days), cutoff(days + 1)}, true
	case "!=":
		return "(last_seen > ? OR last_seen <= ?)", []any{cutoff(days), cutoff(days + 1)}, true
	}
	return "", nil, false
}
