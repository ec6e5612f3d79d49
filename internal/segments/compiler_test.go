package segments

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/echocrm/backend/pkg/db/models"
	dbtypes "github.com/echocrm/backend/pkg/db/types"
)

func ptrTime(t time.Time) *time.Time { return &t }

func testCustomer(spends float64, visits int, tags ...string) *models.Customer {
	return &models.Customer{
		Name:        "Ada",
		Email:       "ada@example.com",
		TotalSpends: spends,
		VisitCount:  visits,
		Tags:        dbtypes.StringArray(tags),
	}
}

func TestEmptyRuleListMatchesEveryone(t *testing.T) {
	pred := Compile(nil)
	assert.True(t, pred.IsMatchAll())
	assert.True(t, pred.Matches(testCustomer(0, 0), time.Now()))
}

func TestConjunctionOnlyList(t *testing.T) {
	pred := Compile([]models.Rule{
		{Field: FieldTotalSpends, Operator: ">", Value: 100.0, Logical: ""},
		{Field: FieldVisitCount, Operator: ">=", Value: 3.0, Logical: "AND"},
	})

	now := time.Now()
	assert.True(t, pred.Matches(testCustomer(150, 3), now))
	assert.False(t, pred.Matches(testCustomer(150, 2), now))
	assert.False(t, pred.Matches(testCustomer(50, 10), now))
}

func TestLeftToRightGrouping(t *testing.T) {
	// A OR B AND C must parse as (A) OR (B AND C).
	pred := Compile([]models.Rule{
		{Field: FieldTotalSpends, Operator: ">", Value: 1000.0, Logical: ""},
		{Field: FieldVisitCount, Operator: ">", Value: 5.0, Logical: "OR"},
		{Field: FieldTotalSpends, Operator: "<", Value: 100.0, Logical: "AND"},
	})

	now := time.Now()
	// A alone.
	assert.True(t, pred.Matches(testCustomer(2000, 0), now))
	// B AND C.
	assert.True(t, pred.Matches(testCustomer(50, 6), now))
	// B without C: would match under (A OR B) AND C precedence misreading
	// only if C held; here neither branch holds.
	assert.False(t, pred.Matches(testCustomer(500, 6), now))
	assert.False(t, pred.Matches(testCustomer(500, 1), now))
}

func TestUnparsableNumericValueDropsOnlyThatRule(t *testing.T) {
	pred := Compile([]models.Rule{
		{Field: FieldTotalSpends, Operator: ">", Value: "abc", Logical: ""},
		{Field: FieldVisitCount, Operator: ">", Value: 5.0, Logical: "AND"},
	})

	now := time.Now()
	assert.True(t, pred.Matches(testCustomer(0, 6), now))
	assert.False(t, pred.Matches(testCustomer(0, 5), now))
}

func TestUnsupportedOperatorDropsRule(t *testing.T) {
	pred := Compile([]models.Rule{
		{Field: FieldTotalSpends, Operator: "between", Value: 100.0, Logical: ""},
		{Field: FieldTags, Operator: ">", Value: "vip", Logical: "AND"},
		{Field: FieldVisitCount, Operator: "=", Value: 2.0, Logical: "AND"},
	})

	now := time.Now()
	assert.True(t, pred.Matches(testCustomer(0, 2), now))
	assert.False(t, pred.Matches(testCustomer(0, 3), now))
}

func TestUnknownLogicalConnectorDropsRule(t *testing.T) {
	pred := Compile([]models.Rule{
		{Field: FieldTotalSpends, Operator: ">", Value: 100.0, Logical: ""},
		{Field: FieldVisitCount, Operator: ">", Value: 5.0, Logical: "XOR"},
	})

	now := time.Now()
	// The XOR rule is discarded, not folded into the conjunction.
	assert.True(t, pred.Matches(testCustomer(150, 0), now))
	assert.False(t, pred.Matches(testCustomer(50, 10), now))
}

func TestNumericValueFromString(t *testing.T) {
	pred := Compile([]models.Rule{
		{Field: FieldTotalSpends, Operator: ">=", Value: "99.5", Logical: ""},
	})
	assert.True(t, pred.Matches(testCustomer(99.5, 0), time.Now()))
	assert.False(t, pred.Matches(testCustomer(99.4, 0), time.Now()))
}

func TestTagNormalization(t *testing.T) {
	// A comma-separated string normalizes to a lower-cased list and
	// contains matches when any tag is present.
	pred := Compile([]models.Rule{
		{Field: FieldTags, Operator: "contains", Value: " VIP, Loyal ", Logical: ""},
	})

	now := time.Now()
	assert.True(t, pred.Matches(testCustomer(0, 0, "vip"), now))
	assert.True(t, pred.Matches(testCustomer(0, 0, "loyal", "other"), now))
	assert.False(t, pred.Matches(testCustomer(0, 0, "churned"), now))
}

func TestTagsNotContains(t *testing.T) {
	pred := Compile([]models.Rule{
		{Field: FieldTags, Operator: "notContains", Value: []any{"Churned"}, Logical: ""},
	})

	now := time.Now()
	assert.True(t, pred.Matches(testCustomer(0, 0, "vip"), now))
	assert.False(t, pred.Matches(testCustomer(0, 0, "churned"), now))
}

func TestLastSeenDays(t *testing.T) {
	now := time.Now()
	pred := Compile([]models.Rule{
		{Field: FieldLastSeenDays, Operator: ">", Value: 30.0, Logical: ""},
	})

	inactive := testCustomer(0, 0)
	inactive.LastSeen = ptrTime(now.Add(-45 * 24 * time.Hour))
	active := testCustomer(0, 0)
	active.LastSeen = ptrTime(now.Add(-2 * 24 * time.Hour))
	neverSeen := testCustomer(0, 0)

	assert.True(t, pred.Matches(inactive, now))
	assert.False(t, pred.Matches(active, now))
	assert.False(t, pred.Matches(neverSeen, now))
}

func TestOrStartingFromDroppedRule(t *testing.T) {
	// The first rule is dropped; the OR on the second rule must not leave
	// an empty group behind.
	pred := Compile([]models.Rule{
		{Field: FieldTotalSpends, Operator: ">", Value: "oops", Logical: ""},
		{Field: FieldVisitCount, Operator: ">", Value: 1.0, Logical: "OR"},
	})

	now := time.Now()
	assert.True(t, pred.Matches(testCustomer(0, 2), now))
	assert.False(t, pred.Matches(testCustomer(0, 1), now))
}

func TestBuildSQLGroups(t *testing.T) {
	now := time.Now()
	pred := Compile([]models.Rule{
		{Field: FieldTotalSpends, Operator: ">", Value: 100.0, Logical: ""},
		{Field: FieldVisitCount, Operator: "!=", Value: 0.0, Logical: "AND"},
		{Field: FieldTotalSpends, Operator: "<", Value: 10.0, Logical: "OR"},
	})

	clause, args := pred.buildSQL(now)
	assert.Equal(t, "(total_spends > ? AND visit_count <> ?) OR (total_spends < ?)", clause)
	assert.Equal(t, []any{100.0, 0.0, 10.0}, args)
}

func TestBuildSQLUnboundedWhenGroupIsTagsOnly(t *testing.T) {
	// A disjunct with only in-process conditions cannot narrow the query.
	pred := Compile([]models.Rule{
		{Field: FieldTotalSpends, Operator: ">", Value: 100.0, Logical: ""},
		{Field: FieldTags, Operator: "contains", Value: "vip", Logical: "OR"},
	})

	clause, args := pred.buildSQL(time.Now())
	assert.Empty(t, clause)
	assert.Empty(t, args)
}
