package document

import (
	"fmt"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/apache/arrow/go/v10/arrow/array"
	"github.com/apache/arrow/go/v10/arrow/memory"
)

// NewRecord encodes docs as a single Arrow record. The caller owns the record
// and must Release it.
func NewRecord(mem memory.Allocator, schema *arrow.Schema, docs []Document) arrow.Record {
	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()

	ids := b.Field(IdxID).(*array.StringBuilder)
	emb := b.Field(IdxEmbedding).(*array.ListBuilder)
	embValues := emb.ValueBuilder().(*array.Float32Builder)
	tenant := b.Field(IdxTenant).(*array.StringBuilder)
	account := b.Field(IdxAccountID).(*array.Int64Builder)
	workspace := b.Field(IdxWorkspaceID).(*array.Int64Builder)
	ticket := b.Field(IdxTicketID).(*array.Int64Builder)
	ticketType := b.Field(IdxTicketType).(*array.StringBuilder)
	ticketStatus := b.Field(IdxTicketStatus).(*array.StringBuilder)
	catalog := b.Field(IdxCatalogItemIDs).(*array.ListBuilder)
	catalogValues := catalog.ValueBuilder().(*array.Int64Builder)
	created := b.Field(IdxCreatedAt).(*array.StringBuilder)

	for i := range docs {
		d := &docs[i]
		ids.Append(d.ID)
		emb.Append(true)
		embValues.AppendValues(d.Embedding, nil)
		tenant.Append(d.Tenant)
		account.Append(d.AccountID)
		workspace.Append(d.WorkspaceID)
		ticket.Append(d.TicketID)
		ticketType.Append(d.TicketType)
		ticketStatus.Append(d.TicketStatus)
		catalog.Append(true)
		catalogValues.AppendValues(d.CatalogItemIDs, nil)
		created.Append(d.CreatedAt)
	}
	return b.NewRecord()
}

// FromRecord decodes every row of rec and appends the documents to dst.
// Columns are looked up by name so files with a reordered schema still decode.
func FromRecord(rec arrow.Record, dst []Document) ([]Document, error) {
	cols, err := lookupColumns(rec)
	if err != nil {
		return dst, err
	}
	n := int(rec.NumRows())
	for row := 0; row < n; row++ {
		d := Document{
			ID:           stringAt(cols[IdxID], row),
			Tenant:       stringAt(cols[IdxTenant], row),
			AccountID:    int64At(cols[IdxAccountID], row),
			WorkspaceID:  int64At(cols[IdxWorkspaceID], row),
			TicketID:     int64At(cols[IdxTicketID], row),
			TicketType:   stringAt(cols[IdxTicketType], row),
			TicketStatus: stringAt(cols[IdxTicketStatus], row),
			CreatedAt:    stringAt(cols[IdxCreatedAt], row),
		}
		if d.Embedding, err = floatsAt(cols[IdxEmbedding], row); err != nil {
			return dst, fmt.Errorf("row %d: %w", row, err)
		}
		if d.CatalogItemIDs, err = int64sAt(cols[IdxCatalogItemIDs], row); err != nil {
			return dst, fmt.Errorf("row %d: %w", row, err)
		}
		dst = append(dst, d)
	}
	return dst, nil
}

// IDsFromRecord decodes only the id column of rec.
func IDsFromRecord(rec arrow.Record, dst []string) ([]string, error) {
	idx := rec.Schema().FieldIndices(ColID)
	if len(idx) == 0 {
		idx = rec.Schema().FieldIndices(aliases[ColID])
	}
	if len(idx) == 0 {
		return dst, fmt.Errorf("record has no %q column", ColID)
	}
	col := rec.Column(idx[0])
	for row := 0; row < col.Len(); row++ {
		dst = append(dst, stringAt(col, row))
	}
	return dst, nil
}

// aliases maps a column name to the name older extractions used for it.
var aliases = map[string]string{
	ColID:        ColTicketID,
	ColEmbedding: "embedding",
}

func lookupColumns(rec arrow.Record) ([NumColumns]arrow.Array, error) {
	var cols [NumColumns]arrow.Array
	names := [NumColumns]string{
		ColID, ColEmbedding, ColTenant, ColAccountID, ColWorkspaceID,
		ColTicketID, ColTicketType, ColTicketStatus, ColCatalogItemIDs, ColCreatedAt,
	}
	schema := rec.Schema()
	for i, name := range names {
		idx := schema.FieldIndices(name)
		if len(idx) == 0 && aliases[name] != "" {
			idx = schema.FieldIndices(aliases[name])
		}
		if len(idx) == 0 {
			if i == IdxID || i == IdxEmbedding {
				return cols, fmt.Errorf("record has no %q column", name)
			}
			continue
		}
		cols[i] = rec.Column(idx[0])
	}
	return cols, nil
}

func stringAt(col arrow.Array, row int) string {
	if col == nil || col.IsNull(row) {
		return ""
	}
	switch a := col.(type) {
	case *array.String:
		return a.Value(row)
	case *array.Int64:
		return fmt.Sprintf("%d", a.Value(row))
	default:
		return ""
	}
}

func int64At(col arrow.Array, row int) int64 {
	if col == nil || col.IsNull(row) {
		return 0
	}
	switch a := col.(type) {
	case *array.Int64:
		return a.Value(row)
	case *array.Int32:
		return int64(a.Value(row))
	default:
		return 0
	}
}

// floatsAt copies the embedding at row. Files produced by the extraction
// collaborator store embeddings as fixed-size lists, ours as plain lists.
func floatsAt(col arrow.Array, row int) ([]float32, error) {
	if col.IsNull(row) {
		return nil, nil
	}
	switch a := col.(type) {
	case *array.FixedSizeList:
		n := int(a.DataType().(*arrow.FixedSizeListType).Len())
		values, ok := a.ListValues().(*array.Float32)
		if !ok {
			return nil, fmt.Errorf("embedding values are %s, want float32", a.ListValues().DataType())
		}
		start := (a.Data().Offset() + row) * n
		out := make([]float32, n)
		copy(out, values.Float32Values()[start:start+n])
		return out, nil
	case *array.List:
		values, ok := a.ListValues().(*array.Float32)
		if !ok {
			return nil, fmt.Errorf("embedding values are %s, want float32", a.ListValues().DataType())
		}
		offsets := a.Offsets()
		start, end := offsets[row], offsets[row+1]
		out := make([]float32, end-start)
		copy(out, values.Float32Values()[start:end])
		return out, nil
	default:
		return nil, fmt.Errorf("embedding column has unsupported type %s", col.DataType())
	}
}

func int64sAt(col arrow.Array, row int) ([]int64, error) {
	if col == nil || col.IsNull(row) {
		return nil, nil
	}
	a, ok := col.(*array.List)
	if !ok {
		return nil, fmt.Errorf("catalog item column has unsupported type %s", col.DataType())
	}
	values, ok := a.ListValues().(*array.Int64)
	if !ok {
		return nil, fmt.Errorf("catalog item values are %s, want int64", a.ListValues().DataType())
	}
	offsets := a.Offsets()
	start, end := offsets[row], offsets[row+1]
	if start == end {
		return nil, nil
	}
	out := make([]int64, end-start)
	copy(out, values.Int64Values()[start:end])
	return out, nil
}
