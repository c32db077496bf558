package filterexpr

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mapRow adapts a plain map for tests.
type mapRow map[string]Value

func (m mapRow) Field(name string) (Value, bool) {
	v, ok := m[name]
	return v, ok
}

func num(s string) Value {
	return Number(decimal.RequireFromString(s))
}

func testRow() mapRow {
	return mapRow{
		"ticker":             String("AAPL"),
		"asset_class":        String("equity"),
		"issuer.country":     String("US"),
		"security.region":    String("americas"),
		"shares":             num("100"),
		"price":              num("150.25"),
		"security.liquidity": Null(),
	}
}

func TestCompileBlankMatchesEverything(t *testing.T) {
	for _, text := range []string{"", "   ", "WHERE", "where  "} {
		expr, err := Compile(text)
		require.NoError(t, err, "text=%q", text)

		ok, err := expr.Match(testRow())
		require.NoError(t, err)
		assert.True(t, ok, "text=%q", text)
	}
}

func TestCompileRejectsSQL(t *testing.T) {
	cases := []string{
		"ticker = 'AAPL';",
		"; drop table rules",
		"DROP TABLE rules",
		"asset_class = 'equity' AND delete everything",
		"select 1",
		"Insert into x",
		"ALTER something",
		"update thing",
	}
	for _, text := range cases {
		_, err := Compile(text)
		assert.Error(t, err, "text=%q", text)
	}
}

func TestCompileAllowsKeywordSubstrings(t *testing.T) {
	// Blocked words match whole words only.
	expr, err := Compile("security.updates = 'selected'")
	require.NoError(t, err)

	ok, err := expr.Match(testRow())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMatchComparisons(t *testing.T) {
	row := testRow()
	cases := []struct {
		text string
		want bool
	}{
		{"1=1", true},
		{"1 == 1", true},
		{"1 = 2", false},
		{"ticker = 'AAPL'", true},
		{"ticker != 'AAPL'", false},
		{"ticker <> 'MSFT'", true},
		{"shares > 50", true},
		{"shares >= 100", true},
		{"shares < 100", false},
		{"shares <= 100", true},
		{"price > 150", true},
		{"price > 150.25", false},
		{"price >= 150.25", true},
		{"-1 < shares", true},
	}
	for _, tc := range cases {
		expr, err := Compile(tc.text)
		require.NoError(t, err, "text=%q", tc.text)

		got, err := expr.Match(row)
		require.NoError(t, err, "text=%q", tc.text)
		assert.Equal(t, tc.want, got, "text=%q", tc.text)
	}
}

func TestMatchBooleanOperators(t *testing.T) {
	row := testRow()
	cases := []struct {
		text string
		want bool
	}{
		{"ticker = 'AAPL' AND shares > 50", true},
		{"ticker = 'AAPL' and shares > 500", false},
		{"ticker = 'MSFT' OR shares > 50", true},
		{"ticker = 'MSFT' or shares > 500", false},
		{"NOT ticker = 'MSFT'", true},
		{"NOT (ticker = 'AAPL' AND shares > 50)", false},
		// AND binds tighter than OR.
		{"ticker = 'MSFT' OR ticker = 'AAPL' AND shares > 50", true},
		{"(ticker = 'MSFT' OR ticker = 'AAPL') AND shares > 500", false},
	}
	for _, tc := range cases {
		expr, err := Compile(tc.text)
		require.NoError(t, err, "text=%q", tc.text)

		got, err := expr.Match(row)
		require.NoError(t, err, "text=%q", tc.text)
		assert.Equal(t, tc.want, got, "text=%q", tc.text)
	}
}

func TestMatchInLists(t *testing.T) {
	row := testRow()
	cases := []struct {
		text string
		want bool
	}{
		{"ticker IN ('AAPL', 'MSFT')", true},
		{"ticker IN ('GOOG', 'MSFT')", false},
		{"ticker NOT IN ('GOOG', 'MSFT')", true},
		{"shares IN (50, 100, 200)", true},
		{"shares not in (50, 100, 200)", false},
	}
	for _, tc := range cases {
		expr, err := Compile(tc.text)
		require.NoError(t, err, "text=%q", tc.text)

		got, err := expr.Match(row)
		require.NoError(t, err, "text=%q", tc.text)
		assert.Equal(t, tc.want, got, "text=%q", tc.text)
	}
}

func TestMatchNullSemantics(t *testing.T) {
	row := testRow()
	cases := []struct {
		text string
		want bool
	}{
		// Comparisons against NULL are false either way.
		{"security.liquidity = 'high'", false},
		{"security.liquidity != 'high'", false},
		{"security.liquidity IS NULL", true},
		{"security.liquidity IS NOT NULL", false},
		{"ticker IS NULL", false},
		{"ticker IS NOT NULL", true},
		// Missing fields behave as NULL.
		{"security.esg_score > 5", false},
		{"security.esg_score IS NULL", true},
		{"security.esg_score IN (1, 2)", false},
	}
	for _, tc := range cases {
		expr, err := Compile(tc.text)
		require.NoError(t, err, "text=%q", tc.text)

		got, err := expr.Match(row)
		require.NoError(t, err, "text=%q", tc.text)
		assert.Equal(t, tc.want, got, "text=%q", tc.text)
	}
}

func TestMatchMismatchedKinds(t *testing.T) {
	row := testRow()
	for _, text := range []string{"ticker = 100", "shares = 'AAPL'", "shares != 'AAPL'"} {
		expr, err := Compile(text)
		require.NoError(t, err, "text=%q", text)

		ok, err := expr.Match(row)
		require.NoError(t, err)
		assert.False(t, ok, "text=%q", text)
	}
}

func TestNormalizeStripsWhere(t *testing.T) {
	assert.Equal(t, "ticker = 'AAPL'", Normalize("WHERE ticker = 'AAPL'"))
	assert.Equal(t, "ticker = 'AAPL'", Normalize("  where ticker = 'AAPL'  "))
	assert.Equal(t, "(a = 1)", Normalize("WHERE(a = 1)"))
	// Identifiers starting with "where" are untouched.
	assert.Equal(t, "whereabouts = 1", Normalize("whereabouts = 1"))
}

func TestCompileSyntaxErrors(t *testing.T) {
	cases := []string{
		"ticker =",
		"= 'AAPL'",
		"ticker 'AAPL'",
		"(ticker = 'AAPL'",
		"ticker IN 'AAPL'",
		"ticker IN ()",
		"ticker IS",
		"ticker = 'unterminated",
		"ticker ! 'AAPL'",
		"AND ticker = 'AAPL'",
		"ticker = 'AAPL' extra",
		"shares = 1.2.3",
	}
	for _, text := range cases {
		_, err := Compile(text)
		assert.Error(t, err, "text=%q", text)
	}
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(""))
	assert.NoError(t, Validate("1=1"))
	assert.NoError(t, Validate("WHERE issuer.country = 'US' AND shares > 0"))
	assert.Error(t, Validate("drop table funds"))
	assert.Error(t, Validate("a = 1; b = 2"))
	assert.Error(t, Validate("ticker ="))
}

func TestStringLiteralEscapes(t *testing.T) {
	expr, err := Compile("name = 'O''Brien'")
	require.NoError(t, err)

	ok, err := expr.Match(mapRow{"name": String("O'Brien")})
	require.NoError(t, err)
	assert.True(t, ok)
}
