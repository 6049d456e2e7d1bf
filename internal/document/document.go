// Package document defines the fixed-schema record that flows through every
// pipeline stage and the Arrow schema used to persist it.
package document

import (
	"strconv"

	"github.com/apache/arrow/go/v10/arrow"
)

// MetaDimension is the schema metadata key holding the embedding dimension.
const MetaDimension = "shardprep.dimension"

// Column names of the shard file schema. The order matches Schema.
const (
	ColID             = "id"
	ColEmbedding      = "emb"
	ColTenant         = "_tenant"
	ColAccountID      = "account_id"
	ColWorkspaceID    = "workspace_id"
	ColTicketID       = "ticket_id"
	ColTicketType     = "ticket_type"
	ColTicketStatus   = "ticket_status"
	ColCatalogItemIDs = "catalog_item_ids"
	ColCreatedAt      = "created_at"
)

// Column indices into Schema.
const (
	IdxID = iota
	IdxEmbedding
	IdxTenant
	IdxAccountID
	IdxWorkspaceID
	IdxTicketID
	IdxTicketType
	IdxTicketStatus
	IdxCatalogItemIDs
	IdxCreatedAt
	NumColumns
)

// Document is one embedding record. Documents are never mutated once they
// leave ingestion; stages only move them between containers.
type Document struct {
	ID             string
	Embedding      []float32
	Tenant         string
	AccountID      int64
	WorkspaceID    int64
	TicketID       int64
	TicketType     string
	TicketStatus   string
	CatalogItemIDs []int64
	CreatedAt      string
}

// Schema returns the Arrow schema for documents with embeddings of dim floats.
// The embedding is stored as a list column; its fixed length is enforced at
// ingestion and recorded in the schema metadata.
func Schema(dim int) *arrow.Schema {
	md := arrow.NewMetadata([]string{MetaDimension}, []string{strconv.Itoa(dim)})
	return arrow.NewSchema([]arrow.Field{
		{Name: ColID, Type: arrow.BinaryTypes.String},
		{Name: ColEmbedding, Type: arrow.ListOf(arrow.PrimitiveTypes.Float32)},
		{Name: ColTenant, Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: ColAccountID, Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		{Name: ColWorkspaceID, Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		{Name: ColTicketID, Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		{Name: ColTicketType, Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: ColTicketStatus, Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: ColCatalogItemIDs, Type: arrow.ListOf(arrow.PrimitiveTypes.Int64), Nullable: true},
		{Name: ColCreatedAt, Type: arrow.BinaryTypes.String, Nullable: true},
	}, &md)
}

// IDs returns the identifiers of docs in order.
func IDs(docs []Document) []string {
	ids := make([]string, len(docs))
	for i := range docs {
		ids[i] = docs[i].ID
	}
	return ids
}
