package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveToolCall(t *testing.T) {
	m := New()

	m.ObserveToolCall("run_select_query", 10*time.Millisecond, nil)
	m.ObserveToolCall("run_select_query", 20*time.Millisecond, nil)
	m.ObserveToolCall("run_select_query", time.Millisecond, errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.toolCalls.WithLabelValues("run_select_query", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.toolCalls.WithLabelValues("run_select_query", "error")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.toolDuration))
}

func TestObserveConnection(t *testing.T) {
	m := New()
	m.ObserveConnection("switch", "warehouse", nil)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connections.WithLabelValues("switch", "warehouse", "ok")))
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveToolCall("list_databases", time.Millisecond, nil)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, string(body), `mcp_clickhouse_tool_calls_total{status="ok",tool="list_databases"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
