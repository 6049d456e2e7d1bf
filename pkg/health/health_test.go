package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunAggregatesChecks(t *testing.T) {
	c := NewChecker()
	c.Register("redis", func(context.Context) error { return nil })
	c.SetStage("merge")

	r := c.Run(context.Background())
	assert.Equal(t, StatusUp, r.Status)
	assert.Equal(t, "merge", r.Stage)

	c.Register("postgres", func(context.Context) error { return errors.New("connection refused") })
	r = c.Run(context.Background())
	assert.Equal(t, StatusDown, r.Status)
	assert.Equal(t, StatusUp, r.Components["redis"].Status)
	assert.Equal(t, "connection refused", r.Components["postgres"].Message)
	assert.Equal(t, []string{"postgres", "redis"}, c.Names())
}

func TestReadyHandler(t *testing.T) {
	c := NewChecker()
	c.Register("store", func(context.Context) error { return errors.New("down") })

	rec := httptest.NewRecorder()
	c.ReadyHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var r Report
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&r))
	assert.Equal(t, StatusDown, r.Components["store"].Status)
}

func TestLiveHandlerReportsStage(t *testing.T) {
	c := NewChecker()
	c.SetStage("balance")
	rec := httptest.NewRecorder()
	c.LiveHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"alive","stage":"balance"}`, rec.Body.String())
}
