// Package shardfile reads and writes the Parquet files exchanged between
// pipeline stages. Writers stage their output in a .tmp file and rename it into
// place on Close, so a reader never observes a half-written shard.
package shardfile

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/apache/arrow/go/v10/arrow/memory"
	"github.com/apache/arrow/go/v10/parquet"
	"github.com/apache/arrow/go/v10/parquet/compress"
	"github.com/apache/arrow/go/v10/parquet/pqarrow"
	"github.com/spf13/afero"

	"github.com/Adithya-Monish-Kumar-K/shardprep/internal/document"
	"github.com/Adithya-Monish-Kumar-K/shardprep/pkg/config"
)

// Options controls the encoding of written files and the batch size used
// when reading them back.
type Options struct {
	Dimension    int
	Compression  string
	RowGroupSize int
	ReadBatch    int
}

// OptionsFromConfig builds Options from the dataset and shard-file sections.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Dimension:    cfg.Dataset.Dimension,
		Compression:  cfg.ShardFile.Compression,
		RowGroupSize: cfg.ShardFile.RowGroupSize,
		ReadBatch:    cfg.ShardFile.ReadBatch,
	}
}

func (o Options) codec() compress.Compression {
	switch o.Compression {
	case "snappy":
		return compress.Codecs.Snappy
	case "gzip":
		return compress.Codecs.Gzip
	case "none":
		return compress.Codecs.Uncompressed
	default:
		return compress.Codecs.Zstd
	}
}

func (o Options) rowGroupSize() int {
	if o.RowGroupSize <= 0 {
		return 5000
	}
	return o.RowGroupSize
}

// Writer streams documents into a new Parquet file. At most one row group of
// documents is buffered in memory.
type Writer struct {
	fs        afero.Fs
	finalPath string
	tmpPath   string
	file      afero.File
	fw        *pqarrow.FileWriter
	schema    *arrow.Schema
	mem       memory.Allocator
	buf       []document.Document
	batch     int
	rows      int64
	closed    bool
}

// nopCloser hides Close from the parquet writer so the Writer keeps ownership
// of the file handle.
type nopCloser struct {
	io.Writer
}

// Create opens a Writer that will atomically replace path on Close.
func Create(fs afero.Fs, path string, opts Options) (*Writer, error) {
	if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating shard directory: %w", err)
	}
	tmpPath := path + ".tmp"
	f, err := fs.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("creating temp shard file: %w", err)
	}
	schema := document.Schema(opts.Dimension)
	props := parquet.NewWriterProperties(
		parquet.WithCompression(opts.codec()),
		parquet.WithMaxRowGroupLength(int64(opts.rowGroupSize())),
	)
	fw, err := pqarrow.NewFileWriter(schema, nopCloser{f}, props, pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema()))
	if err != nil {
		f.Close()
		fs.Remove(tmpPath)
		return nil, fmt.Errorf("creating parquet writer: %w", err)
	}
	return &Writer{
		fs:        fs,
		finalPath: path,
		tmpPath:   tmpPath,
		file:      f,
		fw:        fw,
		schema:    schema,
		mem:       memory.NewGoAllocator(),
		buf:       make([]document.Document, 0, opts.rowGroupSize()),
		batch:     opts.rowGroupSize(),
	}, nil
}

// Write buffers docs, flushing a row group each time the buffer fills.
func (w *Writer) Write(docs ...document.Document) error {
	for len(docs) > 0 {
		n := w.batch - len(w.buf)
		if n > len(docs) {
			n = len(docs)
		}
		w.buf = append(w.buf, docs[:n]...)
		docs = docs[n:]
		if len(w.buf) >= w.batch {
			if err := w.flush(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *Writer) flush() error {
	if len(w.buf) == 0 {
		return nil
	}
	rec := document.NewRecord(w.mem, w.schema, w.buf)
	defer rec.Release()
	if err := w.fw.Write(rec); err != nil {
		return fmt.Errorf("writing row group to %s: %w", w.finalPath, err)
	}
	w.rows += int64(len(w.buf))
	for i := range w.buf {
		w.buf[i] = document.Document{}
	}
	w.buf = w.buf[:0]
	return nil
}

// Rows returns the number of documents accepted so far.
func (w *Writer) Rows() int64 {
	return w.rows + int64(len(w.buf))
}

// Close flushes pending documents, syncs the temp file and renames it over
// the final path.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.flush(); err != nil {
		w.discard()
		return err
	}
	if err := w.fw.Close(); err != nil {
		w.discard()
		return fmt.Errorf("finalising parquet footer: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		w.discard()
		return fmt.Errorf("syncing shard file: %w", err)
	}
	if err := w.file.Close(); err != nil {
		w.fs.Remove(w.tmpPath)
		return fmt.Errorf("closing shard file: %w", err)
	}
	if err := w.fs.Rename(w.tmpPath, w.finalPath); err != nil {
		w.fs.Remove(w.tmpPath)
		return fmt.Errorf("renaming shard file: %w", err)
	}
	return nil
}

// Abort discards everything written so far and leaves any previous file at
// the final path untouched.
func (w *Writer) Abort() {
	if w.closed {
		return
	}
	w.closed = true
	w.discard()
}

func (w *Writer) discard() {
	w.file.Close()
	w.fs.Remove(w.tmpPath)
}

// WriteAll writes docs to path in one scoped open-write-close cycle.
func WriteAll(fs afero.Fs, path string, opts Options, docs []document.Document) error {
	w, err := Create(fs, path, opts)
	if err != nil {
		return err
	}
	if err := w.Write(docs...); err != nil {
		w.Abort()
		return err
	}
	return w.Close()
}
