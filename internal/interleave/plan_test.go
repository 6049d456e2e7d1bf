package interleave

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Adithya-Monish-Kumar-K/shardprep/pkg/errors"
)

func TestPlanTwoAccountScenario(t *testing.T) {
	plan, err := Plan([]AccountSize{{ID: "A", Count: 25}, {ID: "B", Count: 15}}, 2, 2)
	require.NoError(t, err)
	require.Len(t, plan, 2)

	assert.Equal(t, []Slice{
		{Account: "A", Round: 0, Start: 0, End: 7},
		{Account: "B", Round: 0, Start: 0, End: 4},
		{Account: "A", Round: 1, Start: 7, End: 14},
		{Account: "B", Round: 1, Start: 4, End: 8},
	}, plan[0])
	assert.Equal(t, []Slice{
		{Account: "A", Round: 0, Start: 14, End: 21},
		{Account: "B", Round: 0, Start: 8, End: 12},
		{Account: "A", Round: 1, Start: 21, End: 25},
		{Account: "B", Round: 1, Start: 12, End: 15},
	}, plan[1])

	assert.Equal(t, 22, total(plan[0]))
	assert.Equal(t, 14, total(plan[1]))
}

func TestPlanCoversEveryRowOnce(t *testing.T) {
	accounts := []AccountSize{{"a", 1}, {"b", 3}, {"c", 99}, {"d", 100}, {"e", 101}, {"f", 0}}
	plan, err := Plan(accounts, 10, 10)
	require.NoError(t, err)

	seen := map[string][]bool{}
	for _, a := range accounts {
		seen[a.ID] = make([]bool, a.Count)
	}
	for _, slices := range plan {
		for _, sl := range slices {
			require.Positive(t, sl.Len())
			for r := sl.Start; r < sl.End; r++ {
				require.False(t, seen[sl.Account][r], "row %s[%d] assigned twice", sl.Account, r)
				seen[sl.Account][r] = true
			}
		}
	}
	for id, rows := range seen {
		for r, ok := range rows {
			assert.True(t, ok, "row %s[%d] never assigned", id, r)
		}
	}
}

func TestPlanIsDeterministic(t *testing.T) {
	accounts := []AccountSize{{"x", 37}, {"y", 5}, {"z", 1000}}
	first, err := Plan(accounts, 4, 3)
	require.NoError(t, err)
	second, err := Plan(accounts, 4, 3)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestPlanSmallAccountLeavesLateShardsEmpty(t *testing.T) {
	plan, err := Plan([]AccountSize{{"tiny", 3}}, 4, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, total(plan[0]))
	assert.Equal(t, 1, total(plan[1]))
	assert.Empty(t, plan[2])
	assert.Empty(t, plan[3])
}

func TestPlanMatchesShardRange(t *testing.T) {
	accounts := []AccountSize{{"a", 57}, {"b", 9}}
	plan, err := Plan(accounts, 3, 4)
	require.NoError(t, err)
	for s, slices := range plan {
		for _, a := range accounts {
			start, end := ShardRange(a.Count, ChunkSize(a.Count, 3, 4), s, 4)
			var n int
			for _, sl := range slices {
				if sl.Account == a.ID {
					assert.GreaterOrEqual(t, sl.Start, start)
					assert.LessOrEqual(t, sl.End, end)
					n += sl.Len()
				}
			}
			assert.Equal(t, end-start, n, "shard %d account %s", s, a.ID)
		}
	}
}

func TestPlanRejectsBadGrid(t *testing.T) {
	_, err := Plan(nil, 0, 2)
	assert.ErrorIs(t, err, apperrors.ErrInvalidConfig)
	_, err = Plan([]AccountSize{{"a", -1}}, 1, 1)
	assert.Error(t, err)
}

func TestChunkSize(t *testing.T) {
	assert.Equal(t, 7, ChunkSize(25, 2, 2))
	assert.Equal(t, 4, ChunkSize(15, 2, 2))
	assert.Equal(t, 1, ChunkSize(1, 10, 10))
	assert.Equal(t, 0, ChunkSize(0, 10, 10))
}

func total(slices []Slice) int {
	var n int
	for _, s := range slices {
		n += s.Len()
	}
	return n
}
