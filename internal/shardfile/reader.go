package shardfile

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/apache/arrow/go/v10/arrow/memory"
	"github.com/apache/arrow/go/v10/parquet/file"
	"github.com/apache/arrow/go/v10/parquet/pqarrow"
	"github.com/spf13/afero"

	"github.com/Adithya-Monish-Kumar-K/shardprep/internal/document"
	apperrors "github.com/Adithya-Monish-Kumar-K/shardprep/pkg/errors"
)

// Reader iterates a Parquet file one record batch at a time.
type Reader struct {
	path string
	file afero.File
	pf   *file.Reader
	rr   pqarrow.RecordReader
}

type readerAtSeeker struct {
	io.ReaderAt
	io.Seeker
}

// Open opens path for batched reading of full documents. A missing file is
// reported as ErrMissingInput.
func Open(ctx context.Context, fs afero.Fs, path string, opts Options) (*Reader, error) {
	return open(ctx, fs, path, opts, false)
}

func open(ctx context.Context, fs afero.Fs, path string, opts Options, idsOnly bool) (*Reader, error) {
	f, err := fs.Open(path)
	if err != nil {
		if errors.Is(err, afero.ErrFileNotFound) || isNotExist(err) {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrMissingInput, path)
		}
		return nil, fmt.Errorf("%w: opening %s: %v", apperrors.ErrReadWrite, path, err)
	}
	pf, err := file.NewParquetReader(readerAtSeeker{f, f})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: reading parquet footer of %s: %v", apperrors.ErrReadWrite, path, err)
	}
	batch := int64(opts.ReadBatch)
	if batch <= 0 {
		batch = 5000
	}
	fr, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{BatchSize: batch}, memory.NewGoAllocator())
	if err != nil {
		pf.Close()
		f.Close()
		return nil, fmt.Errorf("%w: opening arrow reader for %s: %v", apperrors.ErrReadWrite, path, err)
	}
	var cols []int
	if idsOnly {
		if idx := pf.MetaData().Schema.ColumnIndexByName(document.ColID); idx >= 0 {
			cols = []int{idx}
		}
	}
	rr, err := fr.GetRecordReader(ctx, cols, nil)
	if err != nil {
		pf.Close()
		f.Close()
		return nil, fmt.Errorf("%w: opening record reader for %s: %v", apperrors.ErrReadWrite, path, err)
	}
	return &Reader{path: path, file: f, pf: pf, rr: rr}, nil
}

// NumRows returns the row count recorded in the file footer.
func (r *Reader) NumRows() int64 {
	return r.pf.NumRows()
}

// Next appends the next batch of documents to dst. It returns io.EOF once the
// file is exhausted.
func (r *Reader) Next(dst []document.Document) ([]document.Document, error) {
	rec, err := r.rr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return dst, io.EOF
		}
		return dst, fmt.Errorf("%w: reading %s: %v", apperrors.ErrReadWrite, r.path, err)
	}
	dst, err = document.FromRecord(rec, dst)
	if err != nil {
		return dst, fmt.Errorf("%w: decoding %s: %v", apperrors.ErrReadWrite, r.path, err)
	}
	return dst, nil
}

// NextIDs appends the ids of the next batch to dst.
func (r *Reader) NextIDs(dst []string) ([]string, error) {
	rec, err := r.rr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return dst, io.EOF
		}
		return dst, fmt.Errorf("%w: reading %s: %v", apperrors.ErrReadWrite, r.path, err)
	}
	return document.IDsFromRecord(rec, dst)
}

// Close releases the record reader and closes the underlying file.
func (r *Reader) Close() error {
	r.rr.Release()
	r.pf.Close()
	return r.file.Close()
}

// ReadAll loads every document of path into memory.
func ReadAll(ctx context.Context, fs afero.Fs, path string, opts Options) ([]document.Document, error) {
	r, err := Open(ctx, fs, path, opts)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	docs := make([]document.Document, 0, r.NumRows())
	for {
		docs, err = r.Next(docs)
		if errors.Is(err, io.EOF) {
			return docs, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// ForEachIDBatch streams only the id column of path, calling fn per batch.
func ForEachIDBatch(ctx context.Context, fs afero.Fs, path string, opts Options, fn func(ids []string) error) error {
	r, err := open(ctx, fs, path, opts, true)
	if err != nil {
		return err
	}
	defer r.Close()
	var ids []string
	for {
		ids, err = r.NextIDs(ids[:0])
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(ids); err != nil {
			return err
		}
	}
}

// CountRows returns the row count of path from its footer without decoding
// any column data.
func CountRows(fs afero.Fs, path string) (int64, error) {
	f, err := fs.Open(path)
	if err != nil {
		if isNotExist(err) {
			return 0, fmt.Errorf("%w: %s", apperrors.ErrMissingInput, path)
		}
		return 0, fmt.Errorf("%w: opening %s: %v", apperrors.ErrReadWrite, path, err)
	}
	defer f.Close()
	pf, err := file.NewParquetReader(readerAtSeeker{f, f})
	if err != nil {
		return 0, fmt.Errorf("%w: reading parquet footer of %s: %v", apperrors.ErrReadWrite, path, err)
	}
	defer pf.Close()
	return pf.NumRows(), nil
}

// Exists reports whether path is present on fs.
func Exists(fs afero.Fs, path string) bool {
	ok, err := afero.Exists(fs, path)
	return err == nil && ok
}
