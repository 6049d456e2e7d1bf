// Package validator checks decoded documents at the ingestion boundary. It
// enforces the identifier, embedding dimension and finite-value constraints
// and returns per-field error details.
package validator

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/shardprep/internal/document"
)

const maxIDLength = 255

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	var parts []string
	for field, msg := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s:%s", field, msg))
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}

// ValidateDocument checks that d has an identifier and an embedding of
// exactly dim finite values, and returns a ValidationError if not.
func ValidateDocument(d *document.Document, dim int) error {
	errs := make(map[string]string)

	id := strings.TrimSpace(d.ID)
	if id == "" {
		errs["id"] = "id is required"
	} else if len(id) > maxIDLength {
		errs["id"] = fmt.Sprintf("id must be at most %d characters", maxIDLength)
	}
	switch {
	case len(d.Embedding) == 0:
		errs["emb"] = "embedding is required"
	case len(d.Embedding) != dim:
		errs["emb"] = fmt.Sprintf("embedding has %d values, want %d", len(d.Embedding), dim)
	default:
		for i, v := range d.Embedding {
			if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
				errs["emb"] = fmt.Sprintf("embedding value %d is not finite", i)
				break
			}
		}
	}
	if d.AccountID < 0 {
		errs["account_id"] = "account_id must not be negative"
	}
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}
