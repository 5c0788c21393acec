package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speedrun-hq/tokenrunner/pkg/circuitbreaker"
	"github.com/speedrun-hq/tokenrunner/pkg/config"
	"github.com/speedrun-hq/tokenrunner/pkg/logger"
	"github.com/speedrun-hq/tokenrunner/pkg/metrics"
	"github.com/speedrun-hq/tokenrunner/pkg/models"
	"github.com/speedrun-hq/tokenrunner/pkg/rpcclient"
	"github.com/speedrun-hq/tokenrunner/pkg/rpcclient/rpctest"
	"github.com/speedrun-hq/tokenrunner/pkg/store"
)

func newTestServer(t *testing.T, apiKey string) (*httptest.Server, *rpctest.Ledger, *store.Runs, *circuitbreaker.CircuitBreaker) {
	t.Helper()
	fake := rpctest.NewLedger(100)
	t.Cleanup(fake.Close)

	log := &logger.EmptyLogger{}
	runs := store.NewRuns(store.NewMemoryStore())
	cb := circuitbreaker.NewCircuitBreaker("ledger", config.CircuitBreakerConfig{
		Enabled:        true,
		Threshold:      1,
		WindowDuration: time.Minute,
		ResetTimeout:   time.Hour,
	}, log)

	s := NewServer("0", "testnet", rpcclient.NewClient(fake.URL(), log), runs, []*circuitbreaker.CircuitBreaker{cb}, apiKey, log)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv, fake, runs, cb
}

func get(t *testing.T, url, auth string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealthAndReady(t *testing.T) {
	srv, fake, _, _ := newTestServer(t, "")

	assert.Equal(t, http.StatusOK, get(t, srv.URL+"/health", "").StatusCode)
	assert.Equal(t, http.StatusOK, get(t, srv.URL+"/ready", "").StatusCode)

	fake.FailMethod("server_info", http.StatusBadGateway)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, srv.URL+"/ready", "").StatusCode)
}

func TestRunEndpoint(t *testing.T) {
	srv, _, runs, _ := newTestServer(t, "")
	run := &models.BatchRun{
		ID:      "run-1",
		Status:  models.RunActive,
		Items:   []*models.WorkItem{{ID: "a", Status: models.ItemVerified}},
		Account: "rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh",
	}
	require.NoError(t, runs.Save(context.Background(), run))

	resp := get(t, srv.URL+"/runs/run-1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got models.BatchRun
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, models.RunActive, got.Status)
	assert.Equal(t, 1, got.Counters.Succeeded)

	assert.Equal(t, http.StatusNotFound, get(t, srv.URL+"/runs/nope", "").StatusCode)

	resp = get(t, srv.URL+"/status", "")
	var status map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, "testnet", status["network"])
	assert.Equal(t, []interface{}{"run-1"}, status["runs"])
	assert.EqualValues(t, 100, status["validated_ledger"])
}

func TestCircuitReset(t *testing.T) {
	srv, _, _, cb := newTestServer(t, "")
	cb.RecordFailure()
	require.True(t, cb.IsOpen())

	assert.Equal(t, http.StatusMethodNotAllowed, get(t, srv.URL+"/circuit/reset?name=ledger", "").StatusCode)

	resp, err := http.Post(srv.URL+"/circuit/reset?name=other", "text/plain", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/circuit/reset?name=ledger", "text/plain", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, cb.IsOpen())
}

func TestMetricsAuth(t *testing.T) {
	srv, _, _, _ := newTestServer(t, "secret")

	assert.Equal(t, http.StatusUnauthorized, get(t, srv.URL+"/metrics", "").StatusCode)
	assert.Equal(t, http.StatusUnauthorized, get(t, srv.URL+"/metrics", "Token secret").StatusCode)
	assert.Equal(t, http.StatusUnauthorized, get(t, srv.URL+"/metrics", "Bearer wrong").StatusCode)
	assert.Equal(t, http.StatusOK, get(t, srv.URL+"/metrics", "Bearer secret").StatusCode)
}

func TestWatchRuns(t *testing.T) {
	runs := store.NewRuns(store.NewMemoryStore())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		WatchRuns(ctx, runs)
		close(done)
	}()

	run := &models.BatchRun{
		ID:     "watched",
		Status: models.RunPendingVerification,
		Items: []*models.WorkItem{
			{ID: "a", Status: models.ItemSent},
			{ID: "b", Status: models.ItemSent},
			{ID: "c", Status: models.ItemFailed},
		},
	}
	// the feed only delivers once the watcher has subscribed
	assert.Eventually(t, func() bool {
		if err := runs.Save(context.Background(), run); err != nil {
			return false
		}
		return testutil.ToFloat64(metrics.RunStatus.WithLabelValues("watched", string(models.RunPendingVerification))) == 1
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.ItemsByStatus.WithLabelValues("watched", string(models.ItemSent))))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.RunStatus.WithLabelValues("watched", string(models.RunActive))))

	cancel()
	<-done
}
