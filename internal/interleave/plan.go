// Package interleave splits every account into a fixed grid of micro-chunks
// and assigns them round-robin to shards. The assignment is a pure function of
// the account order, the per-account chunk size and the grid shape.
package interleave

import (
	"fmt"

	apperrors "github.com/Adithya-Monish-Kumar-K/shardprep/pkg/errors"
)

// AccountSize is the deduplicated document count of one account.
type AccountSize struct {
	ID    string
	Count int
}

// Slice is the half-open row range [Start, End) of one account that a shard
// receives in one round.
type Slice struct {
	Account string
	Round   int
	Start   int
	End     int
}

// Len returns the number of rows in s.
func (s Slice) Len() int { return s.End - s.Start }

// ChunkSize returns ceil(count / (shards*rounds)).
func ChunkSize(count, shards, rounds int) int {
	total := shards * rounds
	if count <= 0 || total <= 0 {
		return 0
	}
	return (count + total - 1) / total
}

// ShardRange returns the contiguous rows of an account, with the given chunk
// size, that land in shard. Shard s receives global chunks s*rounds up to
// (s+1)*rounds-1, which are adjacent in the account's sequence.
func ShardRange(count, chunk, shard, rounds int) (start, end int) {
	start = min(shard*rounds*chunk, count)
	end = min((shard+1)*rounds*chunk, count)
	return start, end
}

// Plan returns, for each shard, the slices it receives in round order and
// then in the given account order. Empty slices are omitted. accounts must
// already be in the canonical order.
func Plan(accounts []AccountSize, shards, rounds int) ([][]Slice, error) {
	if shards <= 0 || rounds <= 0 {
		return nil, apperrors.Newf(apperrors.ErrInvalidConfig, apperrors.ExitInvalidConfig,
			"shards and rounds must be positive, got %d and %d", shards, rounds)
	}
	chunks := make([]int, len(accounts))
	for i, a := range accounts {
		if a.Count < 0 {
			return nil, fmt.Errorf("account %s has negative count %d", a.ID, a.Count)
		}
		chunks[i] = ChunkSize(a.Count, shards, rounds)
	}

	plan := make([][]Slice, shards)
	for s := 0; s < shards; s++ {
		for r := 0; r < rounds; r++ {
			global := s*rounds + r
			for i, a := range accounts {
				start := min(global*chunks[i], a.Count)
				end := min(start+chunks[i], a.Count)
				if start < end {
					plan[s] = append(plan[s], Slice{Account: a.ID, Round: r, Start: start, End: end})
				}
			}
		}
	}
	return plan, nil
}
