package compiler

import (
	"fmt"
	"sort"

	"github.com/samber/lo"

	"github.com/roach88/consentstack/internal/ir"
)

// EffectAllow is the only effect ever emitted.
const EffectAllow = "Allow"

// Operation sets implied by an access direction.
var (
	ReadActions = []string{
		"dynamodb:BatchGetItem",
		"dynamodb:ConditionCheckItem",
		"dynamodb:DescribeTable",
		"dynamodb:GetItem",
		"dynamodb:GetRecords",
		"dynamodb:GetShardIterator",
		"dynamodb:Query",
		"dynamodb:Scan",
	}
	WriteActions = []string{
		"dynamodb:BatchWriteItem",
		"dynamodb:DeleteItem",
		"dynamodb:DescribeTable",
		"dynamodb:PutItem",
		"dynamodb:UpdateItem",
	}
	LogActions = []string{
		"logs:CreateLogGroup",
		"logs:CreateLogStream",
		"logs:PutLogEvents",
	}
)

// LogsResource is the resource scope of the log-writing baseline.
const LogsResource = "arn:aws:logs:*:*:*"

// ActionsFor returns the sorted operation set implied by mode.
func ActionsFor(mode ir.AccessMode) []string {
	var actions []string
	if mode.Reads() {
		actions = append(actions, ReadActions...)
	}
	if mode.Writes() {
		actions = append(actions, WriteActions...)
	}
	actions = lo.Uniq(actions)
	sort.Strings(actions)
	return actions
}

// DerivePolicies emits the execution role statements of every function.
//
// Each function gets the log-writing baseline plus exactly one statement per
// table it declares a relation to. Several relations to the same table merge
// into one statement whose actions are the union of the directions. A table
// the function declares nothing for never appears.
func DerivePolicies(t *ir.Topology) []ir.PolicyStatement {
	fns := append([]ir.ComputeFunction(nil), t.Functions...)
	sort.Slice(fns, func(i, j int) bool { return fns[i].ID < fns[j].ID })

	var out []ir.PolicyStatement
	for _, fn := range fns {
		out = append(out, ir.PolicyStatement{
			Sid:       fmt.Sprintf("%s-logs", fn.ID),
			Kind:      ir.StatementLogs,
			Function:  fn.ID,
			Effect:    EffectAllow,
			Actions:   append([]string(nil), LogActions...),
			Resources: []string{LogsResource},
		})

		byTable := lo.GroupBy(fn.Access, func(g ir.AccessGrant) ir.ResourceID { return g.Table })
		tables := lo.Keys(byTable)
		sortIDs(tables)
		for _, table := range tables {
			mode := mergeModes(byTable[table])
			out = append(out, ir.PolicyStatement{
				Sid:       fmt.Sprintf("%s-%s-%s", fn.ID, table, mode),
				Kind:      ir.StatementTableAccess,
				Function:  fn.ID,
				Table:     table,
				Effect:    EffectAllow,
				Actions:   ActionsFor(mode),
				Resources: []string{ir.Token(table, "arn")},
			})
		}
	}
	return out
}

func mergeModes(grants []ir.AccessGrant) ir.AccessMode {
	reads := lo.SomeBy(grants, func(g ir.AccessGrant) bool { return g.Mode.Reads() })
	writes := lo.SomeBy(grants, func(g ir.AccessGrant) bool { return g.Mode.Writes() })
	switch {
	case reads && writes:
		return ir.AccessReadWrite
	case writes:
		return ir.AccessWrite
	default:
		return ir.AccessRead
	}
}
