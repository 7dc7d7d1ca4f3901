package harness

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/roach88/consentstack/internal/engine"
	"github.com/roach88/consentstack/internal/ir"
	"github.com/roach88/consentstack/internal/store"
)

// validIdentifier matches valid SQL identifiers (table/column names).
// Only allows alphanumeric and underscore, must start with letter or underscore.
var validIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s: %s -> %s\n", i+1, event.Deployment, event.Stage, event.From, event.To)
		}
	}

	return buf.String()
}

// reportFor returns the report an assertion targets.
func reportFor(result *Result, deployment string) *engine.Report {
	if deployment == "" {
		return result.Last()
	}
	return result.Reports[deployment]
}

// assertNodeStatus checks the reported status of one resource.
func assertNodeStatus(result *Result, assertion Assertion) error {
	report := reportFor(result, assertion.Deployment)
	if report == nil {
		return fmt.Errorf("node_status: no deployment %q", assertion.Deployment)
	}
	node, ok := report.Node(ir.ResourceID(assertion.Resource))
	if !ok {
		return &AssertionError{
			Type:     "node_status",
			Expected: fmt.Sprintf("%s %s in deployment %s", assertion.Resource, assertion.Status, report.DeploymentID),
			Actual:   "resource not in report",
		}
	}
	if string(node.Status) != assertion.Status {
		return &AssertionError{
			Type:     "node_status",
			Expected: fmt.Sprintf("%s %s", assertion.Resource, assertion.Status),
			Actual:   fmt.Sprintf("%s %s (%s)", assertion.Resource, node.Status, node.Error),
		}
	}
	return nil
}

// assertStageOrder checks that stages became ready in the specified order.
// Stages don't need to be consecutive (intervening transitions are allowed).
func assertStageOrder(trace []TraceEvent, assertion Assertion) error {
	// Step 1: Find first ready position of each expected stage
	positions := make(map[string]int)
	for i, event := range trace {
		if event.To != string(engine.StateReady) {
			continue
		}
		for _, expected := range assertion.Stages {
			if event.Stage == expected && positions[expected] == 0 {
				positions[expected] = i + 1 // 1-indexed for readability
			}
		}
	}

	// Step 2: Verify all stages became ready
	for _, stage := range assertion.Stages {
		if positions[stage] == 0 {
			return &AssertionError{
				Type:     "stage_order",
				Expected: fmt.Sprintf("all stages ready: %v", assertion.Stages),
				Actual:   fmt.Sprintf("never ready: %s", stage),
				Trace:    trace,
			}
		}
	}

	// Step 3: Verify order
	for i := 1; i < len(assertion.Stages); i++ {
		prev := assertion.Stages[i-1]
		curr := assertion.Stages[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     "stage_order",
				Expected: fmt.Sprintf("stages ready in order: %v", assertion.Stages),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}

	return nil
}

// assertTransitionCount checks how many times a stage entered a state.
func assertTransitionCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Stage == assertion.Stage && event.To == assertion.To {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     "transition_count",
			Expected: fmt.Sprintf("%d transitions of %s to %s", assertion.Count, assertion.Stage, assertion.To),
			Actual:   fmt.Sprintf("%d transitions", count),
			Trace:    trace,
		}
	}

	return nil
}

// assertOutput checks an output's value and whether it resolved.
func assertOutput(result *Result, assertion Assertion) error {
	report := reportFor(result, assertion.Deployment)
	if report == nil {
		return fmt.Errorf("output: no deployment %q", assertion.Deployment)
	}
	out, ok := report.Output(assertion.Output)
	if !ok {
		return &AssertionError{
			Type:     "output",
			Expected: fmt.Sprintf("output %s in deployment %s", assertion.Output, report.DeploymentID),
			Actual:   "output not in report",
		}
	}
	if assertion.Value != "" && out.Value != assertion.Value {
		return &AssertionError{
			Type:     "output",
			Expected: fmt.Sprintf("%s = %q", assertion.Output, assertion.Value),
			Actual:   fmt.Sprintf("%s = %q", assertion.Output, out.Value),
		}
	}
	if assertion.Resolved != nil && out.Resolved != *assertion.Resolved {
		return &AssertionError{
			Type:     "output",
			Expected: fmt.Sprintf("%s resolved=%t", assertion.Output, *assertion.Resolved),
			Actual:   fmt.Sprintf("%s resolved=%t", assertion.Output, out.Resolved),
		}
	}
	return nil
}

// assertFinalState checks if a ledger table contains expected values.
// Queries the table with parameterized SQL and validates expected values
// using subset semantics.
//
// Table and column names are validated against a whitelist pattern since
// identifiers cannot be parameterized.
func assertFinalState(ctx context.Context, st *store.Store, assertion Assertion) error {
	if assertion.Table == "" {
		return fmt.Errorf("final_state assertion requires table name")
	}

	if !validIdentifier.MatchString(assertion.Table) {
		return fmt.Errorf("invalid table name %q: must match pattern %s", assertion.Table, validIdentifier.String())
	}

	whereSQL, whereArgs, err := buildWhereClause(assertion.Where)
	if err != nil {
		return err
	}

	query := fmt.Sprintf("SELECT * FROM %s", assertion.Table)
	if whereSQL != "" {
		query += " WHERE " + whereSQL
	}

	rows, err := st.DB().QueryContext(ctx, query, whereArgs...)
	if err != nil {
		return &AssertionError{
			Type:     "final_state",
			Expected: fmt.Sprintf("query table %s", assertion.Table),
			Actual:   fmt.Sprintf("query error: %v", err),
		}
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("get columns: %w", err)
	}

	if !rows.Next() {
		return &AssertionError{
			Type:     "final_state",
			Expected: fmt.Sprintf("row in %s where %s", assertion.Table, formatWhereClause(assertion.Where)),
			Actual:   "row not found",
		}
	}

	values := make([]interface{}, len(columns))
	valuePtrs := make([]interface{}, len(columns))
	for i := range values {
		valuePtrs[i] = &values[i]
	}
	if err := rows.Scan(valuePtrs...); err != nil {
		return fmt.Errorf("scan row: %w", err)
	}

	// Several matching rows would make the assertion ambiguous
	if rows.Next() {
		return &AssertionError{
			Type:     "final_state",
			Expected: fmt.Sprintf("exactly one row in %s where %s", assertion.Table, formatWhereClause(assertion.Where)),
			Actual:   "multiple rows matched (assertion is ambiguous)",
		}
	}

	actualRow := make(map[string]interface{})
	for i, col := range columns {
		actualRow[col] = values[i]
	}

	// Subset semantics - only check fields in Expect
	keys := make([]string, 0, len(assertion.Expect))
	for k := range assertion.Expect {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		expectedValue := assertion.Expect[key]
		actualValue, exists := actualRow[key]
		if !exists {
			return &AssertionError{
				Type:     "final_state",
				Expected: fmt.Sprintf("field %q to exist", key),
				Actual:   fmt.Sprintf("field %q not present in result columns: %v", key, columns),
			}
		}

		if !stateValuesEqual(expectedValue, actualValue) {
			return &AssertionError{
				Type:     "final_state",
				Expected: fmt.Sprintf("field %q = %v (type %T)", key, expectedValue, expectedValue),
				Actual:   fmt.Sprintf("field %q = %v (type %T)", key, actualValue, actualValue),
			}
		}
	}

	return nil
}

// buildWhereClause constructs parameterized WHERE clause from assertion.Where.
// Returns SQL fragment, arguments slice, and error. Keys are sorted for determinism.
func buildWhereClause(where map[string]interface{}) (string, []interface{}, error) {
	if len(where) == 0 {
		return "", nil, nil
	}

	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	clauses := make([]string, 0, len(keys))
	args := make([]interface{}, 0, len(keys))

	for _, key := range keys {
		if !validIdentifier.MatchString(key) {
			return "", nil, fmt.Errorf("invalid column name %q in where clause: must match pattern %s", key, validIdentifier.String())
		}
		clauses = append(clauses, fmt.Sprintf("%s = ?", key))
		args = append(args, toSQLValue(where[key]))
	}

	return strings.Join(clauses, " AND "), args, nil
}

// toSQLValue converts a YAML-parsed value to a SQL-compatible value.
func toSQLValue(v interface{}) interface{} {
	switch val := v.(type) {
	case string, int, int64, bool:
		return val
	default:
		return fmt.Sprintf("%v", val)
	}
}

// formatWhereClause creates a human-readable description of WHERE conditions.
func formatWhereClause(where map[string]interface{}) string {
	if len(where) == 0 {
		return "(no conditions)"
	}

	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}

// stateValuesEqual compares expected and actual ledger values.
// SQLite returns integers as int64 and stores booleans as 0/1; YAML
// decodes integers as int.
func stateValuesEqual(expected, actual interface{}) bool {
	if expected == nil && actual == nil {
		return true
	}
	if expected == nil || actual == nil {
		return false
	}

	switch exp := expected.(type) {
	case string:
		switch act := actual.(type) {
		case string:
			return exp == act
		case []byte:
			return exp == string(act)
		}
		return false
	case int:
		if actualInt, ok := actual.(int64); ok {
			return int64(exp) == actualInt
		}
		if actualInt, ok := actual.(int); ok {
			return exp == actualInt
		}
		return false
	case int64:
		if actualInt, ok := actual.(int64); ok {
			return exp == actualInt
		}
		return false
	case bool:
		if actualBool, ok := actual.(bool); ok {
			return exp == actualBool
		}
		if actualInt, ok := actual.(int64); ok {
			return exp == (actualInt != 0)
		}
		return false
	}

	return reflect.DeepEqual(expected, actual)
}

// AssertionContext provides context for evaluating assertions.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides ledger access for final_state assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertNodeStatus:
			err = assertNodeStatus(result, assertion)
		case AssertStageOrder:
			err = assertStageOrder(result.Trace, assertion)
		case AssertTransitionCount:
			err = assertTransitionCount(result.Trace, assertion)
		case AssertOutput:
			err = assertOutput(result, assertion)
		case AssertFinalState:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: final_state requires database context", i)
			} else {
				err = assertFinalState(actx.Ctx, actx.Store, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
