package scheduler

import (
	"context"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/tradesignal/alertcore/marketdata"
	"github.com/tradesignal/alertcore/types"
)

// evaluateConditions checks every condition on ua against snap, combining
// results with the alert's LogicalOperator, and returns whether the alert
// fired plus a human-readable detail string for the execution history.
func (s *Scheduler) evaluateConditions(ctx context.Context, ua *types.UserAlert, snap marketdata.Snapshot) (bool, string, error) {
	if len(ua.Conditions) == 0 {
		return false, "no conditions configured", nil
	}

	results := make([]bool, len(ua.Conditions))
	details := make([]string, len(ua.Conditions))

	for i, c := range ua.Conditions {
		ok, detail, err := s.evaluateCondition(ctx, ua, c, snap)
		if err != nil {
			return false, "", fmt.Errorf("condition %d: %w", i, err)
		}
		results[i] = ok
		details[i] = detail
	}

	triggered := results[0]
	for i := 1; i < len(results); i++ {
		if ua.LogicalOperator == types.LogicalOR {
			triggered = triggered || results[i]
		} else {
			triggered = triggered && results[i]
		}
	}

	return triggered, strings.Join(details, "; "), nil
}

func (s *Scheduler) evaluateCondition(ctx context.Context, ua *types.UserAlert, c types.Condition, snap marketdata.Snapshot) (bool, string, error) {
	if c.Field == types.FieldCustom {
		return s.evaluateCustom(c, snap)
	}

	value, err := fieldValue(c.Field, snap)
	if err != nil {
		return false, "", err
	}

	switch c.Operator {
	case types.OpGT:
		return value.GreaterThan(c.Value), fmt.Sprintf("%s > %s", value, c.Value), nil
	case types.OpLT:
		return value.LessThan(c.Value), fmt.Sprintf("%s < %s", value, c.Value), nil
	case types.OpGTE:
		return value.GreaterThanOrEqual(c.Value), fmt.Sprintf("%s >= %s", value, c.Value), nil
	case types.OpLTE:
		return value.LessThanOrEqual(c.Value), fmt.Sprintf("%s <= %s", value, c.Value), nil
	case types.OpEQ:
		return withinEpsilon(value, c.Value), fmt.Sprintf("%s == %s", value, c.Value), nil
	case types.OpNEQ:
		return !withinEpsilon(value, c.Value), fmt.Sprintf("%s != %s", value, c.Value), nil
	case types.OpBetween:
		if c.SecondValue == nil {
			return false, "", fmt.Errorf("between requires a second value")
		}
		lo, hi := minMax(c.Value, *c.SecondValue)
		return value.GreaterThanOrEqual(lo) && value.LessThanOrEqual(hi),
			fmt.Sprintf("%s between [%s, %s]", value, lo, hi), nil
	case types.OpNotBetween:
		if c.SecondValue == nil {
			return false, "", fmt.Errorf("not_between requires a second value")
		}
		lo, hi := minMax(c.Value, *c.SecondValue)
		return value.LessThan(lo) || value.GreaterThan(hi),
			fmt.Sprintf("%s not between [%s, %s]", value, lo, hi), nil
	case types.OpCrossesAbove, types.OpCrossesBelow:
		return s.evaluateCrossing(ctx, ua, c, value)
	default:
		return false, "", fmt.Errorf("unsupported operator %q", c.Operator)
	}
}

// evaluateCrossing compares the current field value against the last
// observed value (persisted via store.GetPreviousValue/SetPreviousValue) to
// detect a crossing of c.Value, then writes the current value back for the
// next tick.
func (s *Scheduler) evaluateCrossing(ctx context.Context, ua *types.UserAlert, c types.Condition, current decimal.Decimal) (bool, string, error) {
	prev, had, err := s.store.GetPreviousValue(ctx, ua.ID, c.Field)
	if err != nil {
		return false, "", err
	}
	if err := s.store.SetPreviousValue(ctx, ua.ID, c.Field, current); err != nil {
		return false, "", err
	}
	if !had {
		return false, "no prior value to cross from", nil
	}

	var crossed bool
	if c.Operator == types.OpCrossesAbove {
		crossed = prev.LessThanOrEqual(c.Value) && current.GreaterThan(c.Value)
	} else {
		crossed = prev.GreaterThanOrEqual(c.Value) && current.LessThan(c.Value)
	}
	return crossed, fmt.Sprintf("%s -> %s vs threshold %s", prev, current, c.Value), nil
}

// equalityEpsilon is the tolerance spec §4.5 requires for == and != against
// floating market data rather than exact decimal equality.
var equalityEpsilon = decimal.NewFromFloat(1e-4)

func withinEpsilon(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThan(equalityEpsilon)
}

func minMax(a, b decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	if a.LessThanOrEqual(b) {
		return a, b
	}
	return b, a
}

func fieldValue(f types.ConditionField, snap marketdata.Snapshot) (decimal.Decimal, error) {
	switch f {
	case types.FieldPrice:
		return snap.Price, nil
	case types.FieldVolume:
		return snap.Volume, nil
	case types.FieldChange:
		return snap.Change, nil
	case types.FieldChangePercent:
		return snap.ChangePercent, nil
	case types.FieldMarketCap:
		if snap.MarketCap == nil {
			return decimal.Zero, fmt.Errorf("marketCap not available in this snapshot")
		}
		return *snap.MarketCap, nil
	case types.FieldSMA, types.FieldEMA, types.FieldRSI, types.FieldMACD, types.FieldBollinger:
		if v, ok := snap.Indicators[string(f)]; ok {
			return v, nil
		}
		return decimal.Zero, fmt.Errorf("indicator %q not available in this snapshot", f)
	default:
		return decimal.Zero, fmt.Errorf("unknown field %q", f)
	}
}

// customVars is the closed set of identifiers a custom expression may
// reference (spec §4.5); anything else fails evaluation.
func customVars(snap marketdata.Snapshot) map[string]decimal.Decimal {
	vars := map[string]decimal.Decimal{
		"price":         snap.Price,
		"volume":        snap.Volume,
		"change":        snap.Change,
		"changePercent": snap.ChangePercent,
	}
	if snap.MarketCap != nil {
		vars["marketCap"] = *snap.MarketCap
	}
	return vars
}

// evaluateCustom parses c.CustomExpr as a restricted Go boolean expression
// over customVars and evaluates it. Standard library go/parser is used
// instead of a hand-rolled tokenizer — no expression-evaluation library
// appears anywhere in the example corpus (see DESIGN.md).
func (s *Scheduler) evaluateCustom(c types.Condition, snap marketdata.Snapshot) (bool, string, error) {
	expr, err := parser.ParseExpr(c.CustomExpr)
	if err != nil {
		return false, "", fmt.Errorf("custom expression parse error: %w", err)
	}
	vars := customVars(snap)
	result, err := evalExpr(expr, vars)
	if err != nil {
		return false, "", err
	}
	b, ok := result.(bool)
	if !ok {
		return false, "", fmt.Errorf("custom expression must evaluate to a boolean")
	}
	return b, c.CustomExpr, nil
}

// evalExpr walks a restricted AST: identifiers from vars, decimal literals,
// +,-,*,/ arithmetic and comparison/logical operators. No calls, indexing,
// or any other node kind is permitted.
func evalExpr(n ast.Expr, vars map[string]decimal.Decimal) (any, error) {
	switch e := n.(type) {
	case *ast.ParenExpr:
		return evalExpr(e.X, vars)
	case *ast.Ident:
		v, ok := vars[e.Name]
		if !ok {
			return nil, fmt.Errorf("unknown identifier %q in custom expression", e.Name)
		}
		return v, nil
	case *ast.BasicLit:
		if e.Kind != token.INT && e.Kind != token.FLOAT {
			return nil, fmt.Errorf("unsupported literal in custom expression")
		}
		d, err := decimal.NewFromString(e.Value)
		if err != nil {
			return nil, err
		}
		return d, nil
	case *ast.UnaryExpr:
		v, err := evalExpr(e.X, vars)
		if err != nil {
			return nil, err
		}
		d, ok := v.(decimal.Decimal)
		if !ok {
			return nil, fmt.Errorf("unary operator applied to non-numeric value")
		}
		switch e.Op {
		case token.SUB:
			return d.Neg(), nil
		case token.ADD:
			return d, nil
		default:
			return nil, fmt.Errorf("unsupported unary operator %s", e.Op)
		}
	case *ast.BinaryExpr:
		return evalBinary(e, vars)
	default:
		return nil, fmt.Errorf("unsupported expression in custom condition")
	}
}

func evalBinary(e *ast.BinaryExpr, vars map[string]decimal.Decimal) (any, error) {
	switch e.Op {
	case token.LAND, token.LOR:
		lv, err := evalExpr(e.X, vars)
		if err != nil {
			return nil, err
		}
		lb, ok := lv.(bool)
		if !ok {
			return nil, fmt.Errorf("logical operator applied to non-boolean value")
		}
		rv, err := evalExpr(e.Y, vars)
		if err != nil {
			return nil, err
		}
		rb, ok := rv.(bool)
		if !ok {
			return nil, fmt.Errorf("logical operator applied to non-boolean value")
		}
		if e.Op == token.LAND {
			return lb && rb, nil
		}
		return lb || rb, nil
	}

	lv, err := evalExpr(e.X, vars)
	if err != nil {
		return nil, err
	}
	rv, err := evalExpr(e.Y, vars)
	if err != nil {
		return nil, err
	}
	ld, ok1 := lv.(decimal.Decimal)
	rd, ok2 := rv.(decimal.Decimal)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("arithmetic/comparison operator applied to non-numeric value")
	}

	switch e.Op {
	case token.ADD:
		return ld.Add(rd), nil
	case token.SUB:
		return ld.Sub(rd), nil
	case token.MUL:
		return ld.Mul(rd), nil
	case token.QUO:
		if rd.IsZero() {
			return nil, fmt.Errorf("division by zero in custom expression")
		}
		return ld.Div(rd), nil
	case token.GTR:
		return ld.GreaterThan(rd), nil
	case token.LSS:
		return ld.LessThan(rd), nil
	case token.GEQ:
		return ld.GreaterThanOrEqual(rd), nil
	case token.LEQ:
		return ld.LessThanOrEqual(rd), nil
	case token.EQL:
		return ld.Equal(rd), nil
	case token.NEQ:
		return !ld.Equal(rd), nil
	default:
		return nil, fmt.Errorf("unsupported operator %s in custom expression", e.Op)
	}
}
