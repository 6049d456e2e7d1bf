// Package ingestion discovers per-account source directories and decodes their
// NDJSON and Parquet files into validated, deduplicated document sequences.
package ingestion

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/shardprep/internal/document"
)

// AccountDirPrefix marks a directory holding one account's source files.
const AccountDirPrefix = "account_id="

// Account is one owning account and the source files that make it up, in
// the order they are read.
type Account struct {
	ID    string
	Dir   string
	Files []string
}

// LoadStats describes what Load did with one account's records.
type LoadStats struct {
	Files      int
	Read       int
	Duplicates int
	Invalid    int
}

// Record is one NDJSON line as produced by the extraction collaborator.
// Integer fields accept JSON numbers or numeric strings.
type Record struct {
	ID             FlexString `json:"id"`
	Emb            []float32  `json:"emb"`
	Embedding      []float32  `json:"embedding"`
	Tenant         string     `json:"_tenant"`
	AccountID      FlexInt    `json:"account_id"`
	WorkspaceID    FlexInt    `json:"workspace_id"`
	TicketID       FlexInt    `json:"ticket_id"`
	TicketType     string     `json:"ticket_type"`
	TicketStatus   string     `json:"ticket_status"`
	CatalogItemIDs []FlexInt  `json:"catalog_item_ids"`
	CreatedAt      FlexString `json:"created_at"`
}

// Document converts r to the fixed-schema value type. The embedding field
// falls back to "embedding", and the id falls back to the ticket id.
func (r *Record) Document() document.Document {
	d := document.Document{
		ID:           string(r.ID),
		Embedding:    r.Emb,
		Tenant:       r.Tenant,
		AccountID:    int64(r.AccountID),
		WorkspaceID:  int64(r.WorkspaceID),
		TicketID:     int64(r.TicketID),
		TicketType:   r.TicketType,
		TicketStatus: r.TicketStatus,
		CreatedAt:    string(r.CreatedAt),
	}
	if d.Embedding == nil {
		d.Embedding = r.Embedding
	}
	if d.ID == "" && r.TicketID != 0 {
		d.ID = strconv.FormatInt(int64(r.TicketID), 10)
	}
	if len(r.CatalogItemIDs) > 0 {
		d.CatalogItemIDs = make([]int64, len(r.CatalogItemIDs))
		for i, v := range r.CatalogItemIDs {
			d.CatalogItemIDs[i] = int64(v)
		}
	}
	return d
}

// FlexInt decodes a JSON number, numeric string or null into an int64.
type FlexInt int64

func (f *FlexInt) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == `""` {
		*f = 0
		return nil
	}
	s = strings.Trim(s, `"`)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		*f = FlexInt(n)
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("cannot decode %s as integer", b)
	}
	*f = FlexInt(int64(v))
	return nil
}

// FlexString decodes a JSON string or number into a string.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("cannot decode %s as string", b)
	}
	*f = FlexString(n.String())
	return nil
}
