package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/consentstack/internal/ir"
)

func tableStatements(stmts []ir.PolicyStatement, fn ir.ResourceID) []ir.PolicyStatement {
	var out []ir.PolicyStatement
	for _, s := range stmts {
		if s.Function == fn && s.Kind == ir.StatementTableAccess {
			out = append(out, s)
		}
	}
	return out
}

func TestDerivePoliciesMergesReadAndWrite(t *testing.T) {
	stmts := DerivePolicies(cookiesTopology())

	create := tableStatements(stmts, "CookiesConsentLambda")
	require.Len(t, create, 1, "read and write relations merge into one statement")
	s := create[0]
	assert.Equal(t, ir.ResourceID("CookiesConsentTable"), s.Table)
	assert.Equal(t, []string{"${CookiesConsentTable.arn}"}, s.Resources)
	assert.Equal(t, EffectAllow, s.Effect)
	assert.Subset(t, s.Actions, ReadActions)
	assert.Subset(t, s.Actions, WriteActions)
	assert.Equal(t, ActionsFor(ir.AccessReadWrite), s.Actions)
}

func TestDerivePoliciesReadOnly(t *testing.T) {
	stmts := DerivePolicies(cookiesTopology())

	get := tableStatements(stmts, "getCookiesConsentLambda")
	require.Len(t, get, 1)
	assert.ElementsMatch(t, ReadActions, get[0].Actions)
	assert.NotContains(t, get[0].Actions, "dynamodb:PutItem")
	assert.NotContains(t, get[0].Actions, "dynamodb:DeleteItem")
}

func TestDerivePoliciesNoImplicitGrant(t *testing.T) {
	topo := cookiesTopology()
	topo.Functions[1].Access = nil

	stmts := DerivePolicies(topo)
	assert.Empty(t, tableStatements(stmts, "getCookiesConsentLambda"))

	for _, s := range stmts {
		if s.Function == "getCookiesConsentLambda" {
			assert.Equal(t, ir.StatementLogs, s.Kind)
			assert.Empty(t, s.Table)
		}
	}
}

func TestDerivePoliciesScopedToNamedTable(t *testing.T) {
	topo := cookiesTopology()
	topo.Tables = append(topo.Tables, ir.StorageTable{ID: "AuditTable"})
	topo.Functions[1].Access = append(topo.Functions[1].Access,
		ir.AccessGrant{Table: "AuditTable", Mode: ir.AccessWrite})

	get := tableStatements(DerivePolicies(topo), "getCookiesConsentLambda")
	require.Len(t, get, 2)
	assert.Equal(t, ir.ResourceID("AuditTable"), get[0].Table)
	assert.Equal(t, []string{"${AuditTable.arn}"}, get[0].Resources)
	assert.ElementsMatch(t, WriteActions, get[0].Actions)
	assert.Equal(t, ir.ResourceID("CookiesConsentTable"), get[1].Table)
	assert.ElementsMatch(t, ReadActions, get[1].Actions)

	create := tableStatements(DerivePolicies(topo), "CookiesConsentLambda")
	require.Len(t, create, 1, "other functions gain nothing")
}

func TestDerivePoliciesLogsBaseline(t *testing.T) {
	for _, s := range DerivePolicies(cookiesTopology()) {
		if s.Kind != ir.StatementLogs {
			continue
		}
		assert.Equal(t, LogActions, s.Actions)
		assert.Equal(t, []string{LogsResource}, s.Resources)
		assert.Empty(t, s.Table)
	}
}

func TestDerivePoliciesOrderIndependent(t *testing.T) {
	a := DerivePolicies(cookiesTopology())

	topo := cookiesTopology()
	grants := topo.Functions[0].Access
	grants[0], grants[1] = grants[1], grants[0]
	topo.Functions[0], topo.Functions[1] = topo.Functions[1], topo.Functions[0]

	assert.Equal(t, a, DerivePolicies(topo))
}

func TestActionsFor(t *testing.T) {
	assert.Len(t, ActionsFor(ir.AccessRead), len(ReadActions))
	assert.Len(t, ActionsFor(ir.AccessWrite), len(WriteActions))
	// DescribeTable appears in both sets.
	assert.Len(t, ActionsFor(ir.AccessReadWrite), len(ReadActions)+len(WriteActions)-1)
	assert.Empty(t, ActionsFor("bogus"))
}
