package months

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, s string) Month {
	t.Helper()
	m, err := Parse(s)
	require.NoError(t, err)
	return m
}

func TestParse(t *testing.T) {
	m := mustParse(t, "2016-01")
	assert.Equal(t, "2016_01", m.Token())
	assert.Equal(t, "2016-01", m.String())

	m = mustParse(t, "2021_02")
	assert.Equal(t, "2021-02", m.String())

	_, err := Parse("2021-13")
	assert.Error(t, err)
	_, err = Parse("January")
	assert.Error(t, err)
}

func TestAddMonthsCrossesYears(t *testing.T) {
	m := mustParse(t, "2016-11")
	assert.Equal(t, "2017_02", m.AddMonths(3).Token())
	assert.Equal(t, "2018_11", m.AddMonths(24).Token())
}

func TestSequenceDefaultRange(t *testing.T) {
	seq, err := Sequence(mustParse(t, "2016-01"), mustParse(t, "2023-04"), 3)
	require.NoError(t, err)

	tokens := Tokens(seq)
	assert.Equal(t, "2016_01", tokens[0])
	assert.Equal(t, "2016_04", tokens[1])
	assert.Equal(t, "2023_04", tokens[len(tokens)-1])
	assert.Len(t, tokens, 30)
	assert.Contains(t, tokens, MissingMosaic)

	filtered := Tokens(Exclude(seq, MissingMosaic))
	assert.Len(t, filtered, 29)
	assert.NotContains(t, filtered, MissingMosaic)
}

func TestSequenceStrictlyIncreasing(t *testing.T) {
	cases := []struct {
		start, end string
		stride     int
	}{
		{"2016-01", "2023-04", 1},
		{"2016-01", "2023-04", 3},
		{"2016-02", "2016-02", 5},
		{"2019-12", "2021-01", 7},
		{"2000-01", "2030-12", 12},
	}

	for _, tc := range cases {
		seq, err := Sequence(mustParse(t, tc.start), mustParse(t, tc.end), tc.stride)
		require.NoError(t, err)
		require.NotEmpty(t, seq)

		seq = Exclude(seq, MissingMosaic)
		seen := map[string]bool{}
		for i, m := range seq {
			assert.False(t, seen[m.Token()], "duplicate %s", m.Token())
			seen[m.Token()] = true
			assert.NotEqual(t, MissingMosaic, m.Token())
			if i > 0 {
				assert.True(t, seq[i-1].Before(m), "%s not before %s", seq[i-1], m)
			}
		}
	}
}

func TestExcludeAbsentIsNoop(t *testing.T) {
	// stride 2 from 2016-02 never lands on January
	seq, err := Sequence(mustParse(t, "2016-02"), mustParse(t, "2018-02"), 2)
	require.NoError(t, err)

	out := Exclude(seq, MissingMosaic)
	assert.Equal(t, seq, out)
}

func TestSequenceInvalid(t *testing.T) {
	_, err := Sequence(mustParse(t, "2020-01"), mustParse(t, "2019-01"), 1)
	assert.ErrorIs(t, err, ErrInvalidRange)

	_, err = Sequence(mustParse(t, "2020-01"), mustParse(t, "2021-01"), 0)
	assert.ErrorIs(t, err, ErrInvalidRange)
}
