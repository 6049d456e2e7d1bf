package shardfile

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	apperrors "github.com/Adithya-Monish-Kumar-K/shardprep/pkg/errors"
)

const (
	// Ext is the extension of every columnar file the pipeline writes.
	Ext = ".parquet"
	// ManifestName is the per-account interleave manifest file.
	ManifestName = "manifest.json"
)

// ShardPath returns <dir>/<prefix>_NN.parquet.
func ShardPath(dir, prefix string, shard int) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%02d%s", prefix, shard, Ext))
}

// AccountDir returns the directory holding one account's partition files.
func AccountDir(partitionDir, account string) string {
	return filepath.Join(partitionDir, fmt.Sprintf("account_%s_dataset", account))
}

// PartitionPath returns the partition file of account for shard.
func PartitionPath(partitionDir, account string, shard int) string {
	return filepath.Join(AccountDir(partitionDir, account), fmt.Sprintf("%s_part_%02d%s", account, shard, Ext))
}

// ManifestPath returns the manifest of account.
func ManifestPath(partitionDir, account string) string {
	return filepath.Join(AccountDir(partitionDir, account), ManifestName)
}

// ListAccounts returns the identifiers of every account directory under
// partitionDir, sorted.
func ListAccounts(fs afero.Fs, partitionDir string) ([]string, error) {
	entries, err := afero.ReadDir(fs, partitionDir)
	if err != nil {
		if isNotExist(err) {
			return nil, fmt.Errorf("%w: partition directory %s", apperrors.ErrMissingInput, partitionDir)
		}
		return nil, fmt.Errorf("%w: listing %s: %v", apperrors.ErrReadWrite, partitionDir, err)
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, "account_") || !strings.HasSuffix(name, "_dataset") {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(name, "account_"), "_dataset")
		if id != "" {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
