package tracing

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpanTree(t *testing.T) {
	ctx, root := StartRun(context.Background(), "run", "abc")
	mctx, merge := StartSpan(ctx, "merge")
	_, shard := StartSpan(mctx, "shard_03")
	shard.SetAttr("records", 18)
	shard.End(nil)
	merge.End(errors.New("partial"))
	root.End(nil)

	require.Same(t, merge, root.Child("merge"))
	assert.Equal(t, "abc", shard.TraceID)
	assert.Nil(t, root.Child("balance"))
	assert.Same(t, root, FromContext(ctx))

	var buf bytes.Buffer
	root.Log(slog.New(slog.NewTextHandler(&buf, nil)))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "error=partial")
	assert.Contains(t, lines[2], "depth=2")
	assert.Contains(t, lines[2], "records=18")
}

func TestDetachedSpan(t *testing.T) {
	_, s := StartSpan(context.Background(), "lonely")
	assert.Empty(t, s.TraceID)
	assert.Nil(t, FromContext(context.Background()))
}
