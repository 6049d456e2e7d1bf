package interleave

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/afero"

	"github.com/Adithya-Monish-Kumar-K/shardprep/internal/shardfile"
	apperrors "github.com/Adithya-Monish-Kumar-K/shardprep/pkg/errors"
)

// Manifest records how one account was cut into partition files. The merge
// stage reads ChunkSize to restore round-then-account order, and the audit
// compares the final shard set against Count.
type Manifest struct {
	Account     string    `json:"account"`
	Count       int       `json:"count"`
	ChunkSize   int       `json:"chunk_size"`
	Shards      int       `json:"shards"`
	Rounds      int       `json:"rounds"`
	ShardCounts []int     `json:"shard_counts"`
	CreatedAt   time.Time `json:"created_at"`
}

// WriteManifest stores m next to the account's partition files.
func WriteManifest(fs afero.Fs, partitionDir string, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	path := shardfile.ManifestPath(partitionDir, m.Account)
	tmp := path + ".tmp"
	if err := afero.WriteFile(fs, tmp, data, 0644); err != nil {
		return fmt.Errorf("%w: writing %s: %v", apperrors.ErrReadWrite, tmp, err)
	}
	if err := fs.Rename(tmp, path); err != nil {
		fs.Remove(tmp)
		return fmt.Errorf("%w: renaming %s: %v", apperrors.ErrReadWrite, tmp, err)
	}
	return nil
}

// ReadManifest loads the manifest of account. A missing manifest is reported
// as ErrNotFound; partition sets produced by an external extractor have none.
func ReadManifest(fs afero.Fs, partitionDir, account string) (Manifest, error) {
	var m Manifest
	path := shardfile.ManifestPath(partitionDir, account)
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if ok, _ := afero.Exists(fs, path); !ok {
			return m, fmt.Errorf("%w: %s", apperrors.ErrNotFound, path)
		}
		return m, fmt.Errorf("%w: reading %s: %v", apperrors.ErrReadWrite, path, err)
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("%w: decoding %s: %v", apperrors.ErrReadWrite, path, err)
	}
	return m, nil
}
