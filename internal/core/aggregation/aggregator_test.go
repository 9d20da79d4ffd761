package aggregation

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestOperators(t *testing.T) {
	tests := []struct {
		op          string
		first       string
		second      string
		wantInitial string
		wantApplied string
	}{
		{op: OpCount, first: "1000", second: "2000", wantInitial: "1", wantApplied: "2"},
		{op: OpSum, first: "1000", second: "2000", wantInitial: "1000", wantApplied: "3000"},
		{op: OpSum, first: "0.1", second: "0.2", wantInitial: "0.1", wantApplied: "0.3"},
		{op: OpMin, first: "5", second: "3", wantInitial: "5", wantApplied: "3"},
		{op: OpMin, first: "3", second: "5", wantInitial: "3", wantApplied: "3"},
		{op: OpMax, first: "5", second: "3", wantInitial: "5", wantApplied: "5"},
		{op: OpMax, first: "3", second: "5", wantInitial: "3", wantApplied: "5"},
	}

	for _, tc := range tests {
		t.Run(tc.op+"_"+tc.first+"_"+tc.second, func(t *testing.T) {
			agg, ok := Operators[tc.op]
			require.True(t, ok)

			initial := agg.Initial(d(tc.first))
			require.True(t, d(tc.wantInitial).Equal(initial), "initial: want %s got %s", tc.wantInitial, initial)

			applied := agg.Apply(initial, d(tc.second))
			require.True(t, d(tc.wantApplied).Equal(applied), "applied: want %s got %s", tc.wantApplied, applied)
		})
	}
}

func TestSumIsExactForMonetaryValues(t *testing.T) {
	// 0.1 added ten times must be exactly 1, not 0.9999999999999999.
	agg := Operators[OpSum]
	total := agg.Initial(d("0.1"))
	for i := 0; i < 9; i++ {
		total = agg.Apply(total, d("0.1"))
	}
	require.True(t, d("1").Equal(total), "got %s", total)
}

func TestValidOperator(t *testing.T) {
	require.True(t, ValidOperator(OpSum))
	require.True(t, ValidOperator(OpCount))
	require.False(t, ValidOperator("avg"))
	require.False(t, ValidOperator(""))
}
