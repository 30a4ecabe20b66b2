package store

import (
	"fmt"
	"strings"

	"github.com/scimworks/endpointd/scim"
)

// plan is the result of translating a SCIM filter into SQL plus an optional
// in-memory remainder. Grounded on examples/postgres/query_builder.go's
// QueryBuilder, generalized to endpoint-scoped indexed columns and to the
// "pushdown when feasible, bounded scan otherwise" split this service's
// filter engine requires (the teacher's query builder only ever pushes
// down; it never falls back, which is fine for a reference plugin but not
// for a general-purpose filter language).
type plan struct {
	sqlWhere   string // may be "" (no usable SQL predicate)
	sqlArgs    []any
	remainder  scim.Filter // non-nil when sqlWhere alone isn't sufficient
	pushedDown bool        // true when remainder is nil: sqlWhere fully answers the filter
}

// userAttrColumns/groupAttrColumns map the indexed SCIM attributes this
// service pushes down to their backing column name.
var userAttrColumns = map[string]string{
	"id":         "id",
	"username":   "username",
	"externalid": "external_id",
}

var groupAttrColumns = map[string]string{
	"id":          "id",
	"displayname": "display_name",
	"externalid":  "external_id",
}

// planFilter parses filterExpr and pushes it down to SQL only when the whole
// filter is built from eq/ne predicates on indexed columns joined by AND.
// Any other filter (sub-attribute filters, co/sw/ew/gt/lt/ge/le, any OR or
// NOT, non-indexed attributes, value-path filters) gets no SQL predicate:
// the original parsed filter is kept as the remainder and re-evaluated in
// memory against a bounded page of rows via scim.Filter.Matches.
func planFilter(filterExpr string, columns map[string]string) (*plan, error) {
	if filterExpr == "" {
		return &plan{pushedDown: true}, nil
	}

	parser := scim.NewFilterParser(filterExpr)
	parsed, err := parser.Parse()
	if err != nil {
		return nil, scim.ErrInvalidFilter(err.Error())
	}
	if parsed == nil {
		return &plan{pushedDown: true}, nil
	}

	b := &planBuilder{columns: columns}
	sqlExpr, fullyPushed := b.toSQL(parsed)

	p := &plan{sqlWhere: sqlExpr, sqlArgs: b.args}
	if fullyPushed {
		p.pushedDown = true
	} else {
		p.remainder = parsed
	}
	return p, nil
}

type planBuilder struct {
	columns map[string]string
	args    []any
}

func (b *planBuilder) param(v any) string {
	b.args = append(b.args, v)
	return "?"
}

// toSQL returns a SQL fragment and whether it exactly captures the filter
// (true) or is empty/partial and needs the in-memory remainder (false).
// Only a top-level attribute eq/ne on an indexed column, or an AND of two
// such terms, is ever reported fully pushed down; anything else (OR, NOT,
// non-eq operators, non-indexed attributes, value-path filters) bails out
// to the in-memory remainder so correctness never depends on SQL coverage.
func (b *planBuilder) toSQL(f scim.Filter) (string, bool) {
	switch expr := f.(type) {
	case *scim.AttributeExpression:
		if strings.Contains(expr.AttributePath, "[") || strings.Contains(expr.AttributePath, ".") {
			return "", false
		}
		col, ok := b.columns[strings.ToLower(expr.AttributePath)]
		if !ok {
			return "", false
		}
		switch expr.Operator {
		case "eq":
			return b.eqClause(col, expr.Value, true), true
		case "ne":
			return b.eqClause(col, expr.Value, false), true
		default:
			return "", false
		}
	case *scim.LogicalExpression:
		if expr.Operator != "and" {
			return "", false
		}
		left, leftOK := b.toSQL(expr.Left)
		right, rightOK := b.toSQL(expr.Right)
		if !leftOK || !rightOK {
			return "", false
		}
		return fmt.Sprintf("(%s AND %s)", left, right), true
	case *scim.GroupExpression:
		inner, ok := b.toSQL(expr.Filter)
		if !ok {
			return "", false
		}
		return "(" + inner + ")", true
	default:
		return "", false
	}
}

func (b *planBuilder) eqClause(col string, value any, equal bool) string {
	op := "="
	if !equal {
		op = "<>"
	}
	strVal, ok := value.(string)
	if !ok {
		param := b.param(fmt.Sprintf("%v", value))
		return fmt.Sprintf("%s %s %s", col, op, param)
	}
	param := b.param(strings.ToLower(strVal))
	return fmt.Sprintf("LOWER(%s) %s %s", col, op, param)
}
