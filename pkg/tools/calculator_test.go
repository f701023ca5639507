package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEvaluate(t *testing.T) {
	cases := map[string]float64{
		"2 + 2":                 4,
		"10 / 4":                2.5,
		"2 ** 10":               1024,
		"sqrt(16) * 2":          8,
		"pow(2, 3) + abs(-1)":   9,
		"round(pi * 100)":       314,
		"max(3, 7) - min(1, 2)": 6,
		"log(1000)":             3,
		"ln(e)":                 1,
	}
	for expression, want := range cases {
		t.Run(expression, func(t *testing.T) {
			got, err := Evaluate(expression)
			require.NoError(t, err)
			require.InDelta(t, want, got, 1e-9)
		})
	}
}

func TestEvaluate_Errors(t *testing.T) {
	for _, expression := range []string{"2 +", "unknown(3)", "1 / 0", `"text"`, "1 == 1"} {
		t.Run(expression, func(t *testing.T) {
			_, err := Evaluate(expression)
			require.Error(t, err)
		})
	}
}

func TestCalculatorTool(t *testing.T) {
	calc := NewCalculator()
	out, err := calc.Run(context.Background(), `{"expression":"(1 + 2) * 3"}`)
	require.NoError(t, err)
	require.JSONEq(t, `{"result":"9"}`, out)

	res, err := calc.Call(context.Background(), CalculatorInput{Expression: "7 / 2"})
	require.NoError(t, err)
	require.Equal(t, "3.5", res.Result)

	_, err = calc.Run(context.Background(), `{"expression":""}`)
	require.Error(t, err)
}
