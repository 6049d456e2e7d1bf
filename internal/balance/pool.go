package balance

import "github.com/Adithya-Monish-Kumar-K/shardprep/internal/document"

// ExcessPool is the ordered holding area for records removed from
// over-quota shards. Records leave it strictly in insertion order through a
// cursor that only moves forward.
type ExcessPool struct {
	docs   []document.Document
	cursor int
}

// Add appends docs to the end of the pool. The pool keeps its own copy.
func (p *ExcessPool) Add(docs []document.Document) {
	p.docs = append(p.docs, docs...)
}

// Take returns the next min(n, Remaining()) records and advances the cursor.
func (p *ExcessPool) Take(n int) []document.Document {
	if n <= 0 {
		return nil
	}
	end := min(p.cursor+n, len(p.docs))
	out := p.docs[p.cursor:end]
	p.cursor = end
	return out
}

// Len returns the number of records ever added.
func (p *ExcessPool) Len() int { return len(p.docs) }

// Remaining returns the number of records not yet taken.
func (p *ExcessPool) Remaining() int { return len(p.docs) - p.cursor }
