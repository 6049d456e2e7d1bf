package merger

import (
	"context"
	"errors"
	"io"

	"github.com/Adithya-Monish-Kumar-K/shardprep/internal/document"
	"github.com/Adithya-Monish-Kumar-K/shardprep/internal/shardfile"
	"github.com/Adithya-Monish-Kumar-K/shardprep/pkg/resilience"
)

// cursor streams one account's partition file. It holds at most one read
// batch and remembers how far into it the merge has copied.
type cursor struct {
	account string
	chunk   int
	r       *shardfile.Reader
	buf     []document.Document
	pos     int
	copied  int64
	done    bool
	err     error
}

// writeError marks a failure on the destination side, which ends the whole
// shard rather than one account.
type writeError struct{ err error }

func (e *writeError) Error() string { return e.err.Error() }
func (e *writeError) Unwrap() error { return e.err }

// copyRound copies up to the account's chunk size of rows into w; a zero
// chunk copies the rest of the file. Read failures finish the cursor and are
// kept in c.err; only write failures are returned.
func (c *cursor) copyRound(ctx context.Context, w *shardfile.Writer, throttle *resilience.RowThrottle) error {
	limit := c.chunk
	if limit <= 0 {
		limit = int(^uint(0) >> 1)
	}
	for limit > 0 && !c.done {
		if c.pos == len(c.buf) && !c.fill() {
			return nil
		}
		n := min(limit, len(c.buf)-c.pos)
		if err := throttle.Wait(ctx, n); err != nil {
			return &writeError{err: err}
		}
		if err := w.Write(c.buf[c.pos : c.pos+n]...); err != nil {
			return &writeError{err: err}
		}
		c.pos += n
		c.copied += int64(n)
		limit -= n
	}
	return nil
}

// fill loads the next non-empty batch. It returns false once the file is
// exhausted or unreadable.
func (c *cursor) fill() bool {
	clear(c.buf)
	var err error
	for {
		c.buf, err = c.r.Next(c.buf[:0])
		c.pos = 0
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.err = err
			}
			c.buf = c.buf[:0]
			c.close()
			return false
		}
		if len(c.buf) > 0 {
			return true
		}
	}
}

func (c *cursor) close() {
	if c.r != nil {
		c.r.Close()
		c.r = nil
	}
	c.done = true
}
