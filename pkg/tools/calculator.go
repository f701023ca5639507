package tools

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/expr-lang/expr"
)

// CalculatorInput is the argument schema of the calculator tool.
type CalculatorInput struct {
	Expression string `json:"expression" jsonschema:"description=Mathematical expression to evaluate. For example '2 + 2' or 'sqrt(16) * pi'." validate:"required"`
}

// CalculatorOutput is the result schema of the calculator tool.
type CalculatorOutput struct {
	Result string `json:"result" jsonschema:"description=Result of the calculation."`
}

var calculatorEnv = map[string]any{
	"pi":    math.Pi,
	"e":     math.E,
	"sqrt":  math.Sqrt,
	"sin":   math.Sin,
	"cos":   math.Cos,
	"tan":   math.Tan,
	"asin":  math.Asin,
	"acos":  math.Acos,
	"atan":  math.Atan,
	"exp":   math.Exp,
	"ln":    math.Log,
	"log":   math.Log10,
	"log2":  math.Log2,
	"pow":   math.Pow,
	"hypot": math.Hypot,
}

// Evaluate computes a math expression with the calculator's functions and constants.
func Evaluate(expression string) (float64, error) {
	program, err := expr.Compile(expression, expr.Env(calculatorEnv))
	if err != nil {
		return 0, fmt.Errorf("invalid expression %q: %w", expression, err)
	}
	v, err := expr.Run(program, calculatorEnv)
	if err != nil {
		return 0, fmt.Errorf("evaluate %q: %w", expression, err)
	}
	switch n := v.(type) {
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, fmt.Errorf("evaluate %q: result is not a finite number", expression)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("evaluate %q: result %v is not a number", expression, v)
	}
}

// NewCalculator returns the calculator tool.
func NewCalculator() *Typed[CalculatorInput, CalculatorOutput] {
	t, err := NewTyped("calculate",
		"Evaluates mathematical expressions. Supports + - * / % ** and the functions sqrt, sin, cos, tan, asin, acos, atan, exp, ln, log, log2, pow, hypot, abs, floor, ceil, round, min, max and the constants pi and e.",
		func(_ context.Context, in CalculatorInput) (CalculatorOutput, error) {
			v, err := Evaluate(in.Expression)
			if err != nil {
				return CalculatorOutput{}, err
			}
			return CalculatorOutput{Result: strconv.FormatFloat(v, 'f', -1, 64)}, nil
		})
	if err != nil {
		panic(err)
	}
	return t
}
