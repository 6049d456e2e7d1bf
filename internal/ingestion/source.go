package ingestion

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/spf13/afero"

	"github.com/Adithya-Monish-Kumar-K/shardprep/internal/document"
	"github.com/Adithya-Monish-Kumar-K/shardprep/internal/ingestion/validator"
	"github.com/Adithya-Monish-Kumar-K/shardprep/internal/shardfile"
	apperrors "github.com/Adithya-Monish-Kumar-K/shardprep/pkg/errors"
)

// unknownAccount groups source files found outside any account directory.
const unknownAccount = "unknown"

// Source reads the raw per-account corpus below one directory.
type Source struct {
	fs     afero.Fs
	dir    string
	opts   shardfile.Options
	logger *slog.Logger
}

// NewSource creates a Source over dir. opts.Dimension is enforced on every
// decoded document.
func NewSource(fs afero.Fs, dir string, opts shardfile.Options) *Source {
	return &Source{
		fs:     fs,
		dir:    dir,
		opts:   opts,
		logger: slog.Default().With("component", "ingestion"),
	}
}

// Accounts walks the source directory and returns every account sorted by
// identifier. Files inside an account are sorted by path. Hidden files are
// ignored.
func (s *Source) Accounts() ([]Account, error) {
	byID := make(map[string]*Account)
	err := afero.Walk(s.fs, s.dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		name := info.Name()
		if info.IsDir() {
			if path != s.dir && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") || !IsSourceFile(name) {
			return nil
		}
		id, dir := accountOf(s.dir, path)
		acct, ok := byID[id]
		if !ok {
			acct = &Account{ID: id, Dir: dir}
			byID[id] = acct
		}
		acct.Files = append(acct.Files, path)
		return nil
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: source directory %s", apperrors.ErrMissingInput, s.dir)
		}
		return nil, fmt.Errorf("%w: scanning %s: %v", apperrors.ErrReadWrite, s.dir, err)
	}

	accounts := make([]Account, 0, len(byID))
	for _, acct := range byID {
		sort.Strings(acct.Files)
		accounts = append(accounts, *acct)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].ID < accounts[j].ID })
	return accounts, nil
}

// accountOf finds the nearest account_id=<id> ancestor of path.
func accountOf(root, path string) (string, string) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = path
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	for i := len(parts) - 2; i >= 0; i-- {
		if id, ok := strings.CutPrefix(parts[i], AccountDirPrefix); ok && id != "" {
			return id, filepath.Join(root, filepath.Join(parts[:i+1]...))
		}
	}
	return unknownAccount, root
}

// IsSourceFile reports whether name looks like an extractor output file:
// NDJSON (.json, .ndjson, rotated .json.N, optionally compressed) or Parquet.
func IsSourceFile(name string) bool {
	if strings.HasSuffix(name, shardfile.Ext) {
		return true
	}
	base := trimCompression(name)
	if strings.HasSuffix(base, ".json") || strings.HasSuffix(base, ".ndjson") {
		return true
	}
	stem, rotation, ok := cutLast(base, ".")
	return ok && strings.HasSuffix(stem, ".json") && isDigits(rotation)
}

func cutLast(s, sep string) (before, after string, found bool) {
	if i := strings.LastIndex(s, sep); i >= 0 {
		return s[:i], s[i+len(sep):], true
	}
	return s, "", false
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func trimCompression(name string) string {
	for _, ext := range []string{".gz", ".zst", ".lz4"} {
		if strings.HasSuffix(name, ext) {
			return strings.TrimSuffix(name, ext)
		}
	}
	return name
}

// Load reads every file of acct, validates each record and drops repeated
// identifiers, keeping the first occurrence. Invalid records are counted and
// skipped. A file that cannot be read fails the whole account.
func (s *Source) Load(ctx context.Context, acct Account) ([]document.Document, LoadStats, error) {
	stats := LoadStats{Files: len(acct.Files)}
	if len(acct.Files) == 0 {
		return nil, stats, fmt.Errorf("%w: account %s has no source files", apperrors.ErrMissingInput, acct.ID)
	}
	defaultAccount, _ := strconv.ParseInt(acct.ID, 10, 64)
	seen := make(map[string]struct{})
	var docs []document.Document
	accept := func(d document.Document) {
		stats.Read++
		if d.AccountID == 0 {
			d.AccountID = defaultAccount
		}
		if err := validator.ValidateDocument(&d, s.opts.Dimension); err != nil {
			stats.Invalid++
			s.logger.Debug("invalid record skipped", "account", acct.ID, "id", d.ID, "error", err)
			return
		}
		if _, dup := seen[d.ID]; dup {
			stats.Duplicates++
			return
		}
		seen[d.ID] = struct{}{}
		docs = append(docs, d)
	}

	for _, path := range acct.Files {
		if err := ctx.Err(); err != nil {
			return nil, stats, err
		}
		var err error
		if strings.HasSuffix(path, shardfile.Ext) {
			err = s.readParquet(ctx, path, accept)
		} else {
			err = s.readNDJSON(path, accept)
		}
		if err != nil {
			return nil, stats, err
		}
	}
	return docs, stats, nil
}

func (s *Source) readParquet(ctx context.Context, path string, fn func(document.Document)) error {
	r, err := shardfile.Open(ctx, s.fs, path, s.opts)
	if err != nil {
		return err
	}
	defer r.Close()
	var batch []document.Document
	for {
		batch, err = r.Next(batch[:0])
		for _, d := range batch {
			fn(d)
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (s *Source) readNDJSON(path string, fn func(document.Document)) error {
	f, err := s.fs.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", apperrors.ErrMissingInput, path)
		}
		return fmt.Errorf("%w: opening %s: %v", apperrors.ErrReadWrite, path, err)
	}
	defer f.Close()

	rc, err := decompress(filepath.Base(path), bufio.NewReader(f))
	if err != nil {
		return fmt.Errorf("%w: opening %s: %v", apperrors.ErrReadWrite, path, err)
	}
	defer rc.Close()

	dec := json.NewDecoder(rc)
	for line := 1; ; line++ {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("%w: decoding %s record %d: %v", apperrors.ErrReadWrite, path, line, err)
		}
		fn(rec.Document())
	}
}

// decompress wraps r in the decoder selected by the extension of name.
func decompress(name string, r io.Reader) (io.ReadCloser, error) {
	switch filepath.Ext(name) {
	case ".gz":
		return gzip.NewReader(r)
	case ".zst":
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return dec.IOReadCloser(), nil
	case ".lz4":
		return io.NopCloser(lz4.NewReader(r)), nil
	default:
		return io.NopCloser(r), nil
	}
}
