// Package synth writes a synthetic source corpus in the layout the ingestion
// stage reads: one account_id=<id> directory per account holding NDJSON or
// Parquet files. Account sizes are drawn from a seeded generator, so the same
// Config always yields the same corpus regardless of concurrency.
package synth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/shardprep/internal/document"
	"github.com/Adithya-Monish-Kumar-K/shardprep/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/shardprep/internal/shardfile"
	apperrors "github.com/Adithya-Monish-Kumar-K/shardprep/pkg/errors"
)

const (
	FormatNDJSON  = "ndjson"
	FormatParquet = "parquet"
)

var (
	ticketTypes    = []string{"incident", "question", "problem", "task"}
	ticketStatuses = []string{"new", "open", "pending", "solved", "closed"}
)

// Config shapes the generated corpus.
type Config struct {
	Dir             string
	Accounts        int
	MinDocs         int
	MaxDocs         int
	FilesPerAccount int
	Dimension       int
	Seed            uint64
	Format          string
	// Compression applies to NDJSON files only: "", "gz", "zst" or "lz4".
	Compression string
	Concurrency int
	File        shardfile.Options
}

// Stats summarises a generated corpus.
type Stats struct {
	Accounts int
	Docs     int64
	Files    int64
	Duration time.Duration
}

type Generator struct {
	fs     afero.Fs
	cfg    Config
	logger *slog.Logger
}

func New(fs afero.Fs, cfg Config) *Generator {
	if cfg.FilesPerAccount <= 0 {
		cfg.FilesPerAccount = 1
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Format == "" {
		cfg.Format = FormatNDJSON
	}
	cfg.File.Dimension = cfg.Dimension
	return &Generator{fs: fs, cfg: cfg, logger: slog.Default().With("component", "synth")}
}

func (g *Generator) validate() error {
	c := g.cfg
	switch {
	case c.Accounts <= 0:
		return invalid("accounts must be positive, got %d", c.Accounts)
	case c.MinDocs < 0 || c.MaxDocs < c.MinDocs:
		return invalid("document range %d-%d is empty", c.MinDocs, c.MaxDocs)
	case c.Dimension <= 0:
		return invalid("dimension must be positive, got %d", c.Dimension)
	case c.Format != FormatNDJSON && c.Format != FormatParquet:
		return invalid("format %q is not one of ndjson, parquet", c.Format)
	}
	switch c.Compression {
	case "", "gz", "zst", "lz4":
	default:
		return invalid("compression %q is not one of gz, zst, lz4", c.Compression)
	}
	return nil
}

// Run writes every account. Accounts are generated concurrently, at most
// Concurrency at a time.
func (g *Generator) Run(ctx context.Context) (*Stats, error) {
	if err := g.validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	var docs, files atomic.Int64

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.cfg.Concurrency)
	for i := 0; i < g.cfg.Accounts; i++ {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			n, f, err := g.writeAccount(i)
			if err != nil {
				return err
			}
			docs.Add(int64(n))
			files.Add(int64(f))
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	st := &Stats{Accounts: g.cfg.Accounts, Docs: docs.Load(), Files: files.Load(), Duration: time.Since(start)}
	g.logger.Info("synthetic corpus written",
		"dir", g.cfg.Dir,
		"accounts", st.Accounts,
		"docs", st.Docs,
		"files", st.Files,
		"duration", st.Duration,
	)
	return st, nil
}

// AccountID names the i-th generated account.
func AccountID(i int) string {
	return fmt.Sprintf("%05d", i+1)
}

// Docs returns the documents of the i-th account for cfg.
func Docs(cfg Config, i int) []document.Document {
	rng := rand.New(rand.NewPCG(cfg.Seed, uint64(i)))
	n := cfg.MinDocs
	if span := cfg.MaxDocs - cfg.MinDocs; span > 0 {
		n += rng.IntN(span + 1)
	}
	acct := AccountID(i)
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]document.Document, n)
	for j := range out {
		emb := make([]float32, cfg.Dimension)
		for k := range emb {
			emb[k] = rng.Float32()*2 - 1
		}
		ticket := int64(i+1)*1_000_000 + int64(j)
		out[j] = document.Document{
			ID:             fmt.Sprintf("%s-%07d", acct, j),
			Embedding:      emb,
			Tenant:         "synthetic",
			AccountID:      int64(i + 1),
			WorkspaceID:    int64(i+1)*10 + int64(rng.IntN(3)),
			TicketID:       ticket,
			TicketType:     ticketTypes[rng.IntN(len(ticketTypes))],
			TicketStatus:   ticketStatuses[rng.IntN(len(ticketStatuses))],
			CatalogItemIDs: []int64{int64(rng.IntN(500)), int64(rng.IntN(500))},
			CreatedAt:      created.Add(time.Duration(j) * time.Minute).Format(time.RFC3339),
		}
	}
	return out
}

func (g *Generator) writeAccount(i int) (int, int, error) {
	docs := Docs(g.cfg, i)
	dir := filepath.Join(g.cfg.Dir, ingestion.AccountDirPrefix+AccountID(i))
	if err := g.fs.MkdirAll(dir, 0755); err != nil {
		return 0, 0, fmt.Errorf("%w: creating %s: %v", apperrors.ErrReadWrite, dir, err)
	}
	per := (len(docs) + g.cfg.FilesPerAccount - 1) / g.cfg.FilesPerAccount
	files := 0
	for f := 0; f < g.cfg.FilesPerAccount; f++ {
		lo := min(f*per, len(docs))
		hi := min(lo+per, len(docs))
		if lo == hi && f > 0 {
			break
		}
		path := filepath.Join(dir, g.fileName(f))
		var err error
		if g.cfg.Format == FormatParquet {
			err = shardfile.WriteAll(g.fs, path, g.cfg.File, docs[lo:hi])
		} else {
			err = g.writeNDJSON(path, docs[lo:hi])
		}
		if err != nil {
			return 0, 0, fmt.Errorf("%w: writing %s: %v", apperrors.ErrReadWrite, path, err)
		}
		files++
	}
	g.logger.Debug("account written", "account", AccountID(i), "docs", len(docs), "files", files)
	return len(docs), files, nil
}

func (g *Generator) fileName(f int) string {
	if g.cfg.Format == FormatParquet {
		return fmt.Sprintf("part-%03d%s", f, shardfile.Ext)
	}
	name := fmt.Sprintf("part-%03d.json", f)
	if g.cfg.Compression != "" {
		name += "." + g.cfg.Compression
	}
	return name
}

type line struct {
	ID             string    `json:"id"`
	Emb            []float32 `json:"emb"`
	Tenant         string    `json:"_tenant"`
	AccountID      int64     `json:"account_id"`
	WorkspaceID    int64     `json:"workspace_id"`
	TicketID       int64     `json:"ticket_id"`
	TicketType     string    `json:"ticket_type"`
	TicketStatus   string    `json:"ticket_status"`
	CatalogItemIDs []int64   `json:"catalog_item_ids"`
	CreatedAt      string    `json:"created_at"`
}

func (g *Generator) writeNDJSON(path string, docs []document.Document) error {
	f, err := g.fs.Create(path)
	if err != nil {
		return err
	}
	w, err := g.compressor(f)
	if err != nil {
		f.Close()
		return err
	}
	enc := json.NewEncoder(w)
	for _, d := range docs {
		if err := enc.Encode(line{
			ID:             d.ID,
			Emb:            d.Embedding,
			Tenant:         d.Tenant,
			AccountID:      d.AccountID,
			WorkspaceID:    d.WorkspaceID,
			TicketID:       d.TicketID,
			TicketType:     d.TicketType,
			TicketStatus:   d.TicketStatus,
			CatalogItemIDs: d.CatalogItemIDs,
			CreatedAt:      d.CreatedAt,
		}); err != nil {
			w.Close()
			f.Close()
			return err
		}
	}
	if err := w.Close(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (g *Generator) compressor(w io.Writer) (io.WriteCloser, error) {
	switch g.cfg.Compression {
	case "gz":
		return gzip.NewWriter(w), nil
	case "zst":
		return zstd.NewWriter(w)
	case "lz4":
		return lz4.NewWriter(w), nil
	default:
		return nopCloser{w}, nil
	}
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func invalid(format string, args ...any) error {
	return apperrors.Newf(apperrors.ErrInvalidConfig, apperrors.ExitInvalidConfig, format, args...)
}
