package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Adithya-Monish-Kumar-K/shardprep/pkg/errors"
)

func TestParseShards(t *testing.T) {
	all, err := parseShards(nil, 3)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, all)

	one, err := parseShards([]string{"2"}, 3)
	require.NoError(t, err)
	assert.Equal(t, []int{2}, one)

	for _, bad := range []string{"3", "-1", "x"} {
		_, err := parseShards([]string{bad}, 3)
		assert.ErrorIs(t, err, apperrors.ErrInvalidConfig, bad)
		assert.Equal(t, apperrors.ExitInvalidConfig, apperrors.ExitCode(err))
	}
}

func TestRootCommandRegistersStages(t *testing.T) {
	root := newRootCommand(&bytes.Buffer{})
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"generate", "interleave", "merge", "shuffle", "balance", "verify", "audit", "publish", "run"}, names)
}
