package math_test

import (
	"testing"

	fpmath "PoolLedger/internal/math"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// ============================================================================
// Test: Div rounding
// ============================================================================

func TestDiv_RoundingModes(t *testing.T) {
	cases := []struct {
		a, b string
		mode fpmath.RoundingMode
		want string
	}{
		{"10", "3", fpmath.RoundDown, "3"},
		{"10", "3", fpmath.RoundUp, "4"},
		{"9", "3", fpmath.RoundUp, "3"},
		{"-10", "3", fpmath.RoundDown, "-3"},
		{"-10", "3", fpmath.RoundUp, "-4"},
		{"10", "-3", fpmath.RoundUp, "-4"},
		{"0", "7", fpmath.RoundUp, "0"},
	}
	for _, tc := range cases {
		got := fpmath.Div(d(tc.a), d(tc.b), tc.mode)
		if !got.Equal(d(tc.want)) {
			t.Errorf("Div(%s, %s, %s) = %s, want %s", tc.a, tc.b, tc.mode, got, tc.want)
		}
	}
}

func TestDiv_ByZeroPanicsFatal(t *testing.T) {
	defer func() {
		r := recover()
		require.NotNil(t, r)
		_, ok := r.(*fpmath.FatalError)
		require.True(t, ok, "expected *FatalError, got %T", r)
	}()
	fpmath.Div(d("1"), decimal.Zero, fpmath.RoundDown)
}

func TestMulDiv_ExactIntermediate(t *testing.T) {
	// 1e40 * 1e40 overflows any machine word; the intermediate must stay exact
	a := decimal.New(1, 40)
	got := fpmath.MulDiv(a, a, decimal.New(3, 40), fpmath.RoundDown)
	require.True(t, got.Equal(d("3333333333333333333333333333333333333333")), "got %s", got)
}

// ============================================================================
// Test: factors
// ============================================================================

func TestApplyFactor(t *testing.T) {
	usd := fpmath.Float("1000")
	got := fpmath.ApplyFactor(usd, fpmath.Float("0.0005"), fpmath.RoundDown)
	require.True(t, got.Equal(fpmath.Float("0.5")), "got %s", got)
}

func TestToFactor_ZeroDivisor(t *testing.T) {
	require.True(t, fpmath.ToFactor(fpmath.Float("1"), decimal.Zero, fpmath.RoundUp).IsZero())
}

func TestFloat_Parsing(t *testing.T) {
	require.True(t, fpmath.Float("1").Equal(fpmath.FloatPrecision))
	require.True(t, fpmath.Float("0.000000000000000000000000000001").Equal(d("1")))
}

func TestApplyExponentFactor(t *testing.T) {
	v := fpmath.Float("100")

	require.True(t, fpmath.ApplyExponentFactor(v, fpmath.Float("1")).Equal(v))
	require.True(t, fpmath.ApplyExponentFactor(v, fpmath.Float("2")).Equal(fpmath.Float("10000")))
	require.True(t, fpmath.ApplyExponentFactor(fpmath.Float("0.5"), fpmath.Float("2")).IsZero(),
		"values below one unit map to zero")
}

func TestFundingFactorPerSecond(t *testing.T) {
	long := fpmath.Float("100000")
	short := fpmath.Float("80000")
	perSecond := fpmath.FundingFactorPerSecond(long, short, fpmath.Float("0.0000001"), fpmath.Float("1"))

	// 1e-7 * 20000 / 180000
	want := fpmath.Float("0.0000000111111111111111")
	require.True(t, perSecond.Sub(want).Abs().LessThan(fpmath.Float("0.000000000000000000001")),
		"got %s want ~%s", perSecond, want)

	require.True(t, fpmath.FundingFactorPerSecond(decimal.Zero, decimal.Zero, fpmath.Float("1"), fpmath.Float("1")).IsZero())
}

func TestUsdToMarketTokenAmount(t *testing.T) {
	// first deposit mints at $1
	minted := fpmath.UsdToMarketTokenAmount(fpmath.Float("10000000"), decimal.Zero, decimal.Zero)
	require.True(t, minted.Equal(fpmath.Expand(10_000_000, 18)), "got %s", minted)

	// pro rata afterwards
	minted = fpmath.UsdToMarketTokenAmount(fpmath.Float("50"), fpmath.Float("100"), fpmath.Expand(200, 18))
	require.True(t, minted.Equal(fpmath.Expand(100, 18)), "got %s", minted)
}

func TestBoundedSubAndMinMax(t *testing.T) {
	require.True(t, fpmath.BoundedSub(d("3"), d("5")).IsZero())
	require.True(t, fpmath.BoundedSub(d("5"), d("3")).Equal(d("2")))
	require.True(t, fpmath.Min(d("3"), d("5")).Equal(d("3")))
	require.True(t, fpmath.Max(d("3"), d("5")).Equal(d("5")))
	require.True(t, fpmath.Diff(d("3"), d("5")).Equal(d("2")))
}
