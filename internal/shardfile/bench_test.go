package shardfile

import (
	"context"
	"fmt"
	"testing"

	"github.com/spf13/afero"

	"github.com/Adithya-Monish-Kumar-K/shardprep/internal/document"
)

func benchDocs(n, dim int) []document.Document {
	docs := make([]document.Document, n)
	for i := range docs {
		emb := make([]float32, dim)
		for j := range emb {
			emb[j] = float32(i+j) / 1000
		}
		docs[i] = document.Document{ID: fmt.Sprintf("doc-%07d", i), Embedding: emb, AccountID: int64(i % 17)}
	}
	return docs
}

// BenchmarkWriteAll measures encoding throughput per codec.
func BenchmarkWriteAll(b *testing.B) {
	docs := benchDocs(5000, 128)
	for _, codec := range []string{"none", "snappy", "zstd"} {
		opts := Options{Dimension: 128, Compression: codec, RowGroupSize: 1000, ReadBatch: 1000}
		b.Run(codec, func(b *testing.B) {
			fs := afero.NewMemMapFs()
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if err := WriteAll(fs, "/bench.parquet", opts, docs); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkReadAll compares a full decode with the id-only scan the audit uses.
func BenchmarkReadAll(b *testing.B) {
	fs := afero.NewMemMapFs()
	opts := Options{Dimension: 128, Compression: "zstd", RowGroupSize: 1000, ReadBatch: 1000}
	if err := WriteAll(fs, "/bench.parquet", opts, benchDocs(5000, 128)); err != nil {
		b.Fatal(err)
	}
	ctx := context.Background()

	b.Run("documents", func(b *testing.B) {
		b.ReportAllocs()
		for i := 0; i < b.N; i++ {
			if _, err := ReadAll(ctx, fs, "/bench.parquet", opts); err != nil {
				b.Fatal(err)
			}
		}
	})
	b.Run("ids", func(b *testing.B) {
		b.ReportAllocs()
		for i := 0; i < b.N; i++ {
			err := ForEachIDBatch(ctx, fs, "/bench.parquet", opts, func([]string) error { return nil })
			if err != nil {
				b.Fatal(err)
			}
		}
	})
}
