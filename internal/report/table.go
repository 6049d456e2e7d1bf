// Package report renders run summaries and delivers them to the configured
// sinks: the log, a Redis hash, Kafka events and a PostgreSQL history table.
package report

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/table"
	"github.com/jedib0t/go-pretty/text"

	"github.com/Adithya-Monish-Kumar-K/shardprep/internal/verify"
)

// ShardCount pairs a shard index with its record count.
type ShardCount struct {
	Shard   int   `json:"shard"`
	Records int64 `json:"records"`
}

// DocCounts renders the per-run document count table. Min, max and their
// difference are only shown when more than one shard was processed.
func DocCounts(title string, counts []ShardCount) string {
	t := table.NewWriter()
	t.SetTitle(title)
	t.Style().Format.Header = text.FormatDefault
	t.Style().Format.Footer = text.FormatDefault
	t.AppendHeader(table.Row{"Shard", "Docs"})

	var total, lo, hi int64
	for i, c := range counts {
		t.AppendRow(table.Row{fmt.Sprintf("%02d", c.Shard), humanize.Comma(c.Records)})
		total += c.Records
		if i == 0 || c.Records < lo {
			lo = c.Records
		}
		if i == 0 || c.Records > hi {
			hi = c.Records
		}
	}
	t.AppendFooter(table.Row{"Total", humanize.Comma(total)})
	if len(counts) > 1 {
		t.AppendFooter(table.Row{"Min", humanize.Comma(lo)})
		t.AppendFooter(table.Row{"Max", humanize.Comma(hi)})
		t.AppendFooter(table.Row{"Difference", humanize.Comma(hi - lo)})
	}
	return t.Render()
}

// Verification renders a verify.Summary with one row per shard and the
// spread in the footer.
func Verification(title string, sum *verify.Summary) string {
	t := table.NewWriter()
	t.SetTitle(title)
	t.Style().Format.Header = text.FormatDefault
	t.Style().Format.Footer = text.FormatDefault
	t.AppendHeader(table.Row{"Shard", "Records", "Status"})
	for _, sc := range sum.Shards {
		status := "ok"
		switch {
		case sc.Missing:
			status = "missing"
		case sc.Err != nil:
			status = "unreadable"
		}
		t.AppendRow(table.Row{fmt.Sprintf("%02d", sc.Shard), humanize.Comma(sc.Records), status})
	}
	spread := "undefined"
	if sum.SpreadDefined() {
		spread = fmt.Sprintf("%.2f%%", sum.SpreadPct)
	}
	t.AppendFooter(table.Row{"Total", humanize.Comma(sum.Total), ""})
	t.AppendFooter(table.Row{"Min / Max", humanize.Comma(sum.Min) + " / " + humanize.Comma(sum.Max), ""})
	t.AppendFooter(table.Row{"Spread", spread, ""})
	return t.Render()
}
