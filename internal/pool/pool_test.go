package pool

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rpc-gateway/internal/endpoint"
)

func newTestPool(t *testing.T, urls []string, opts Options) *Pool {
	t.Helper()
	configs := make([]endpoint.Config, len(urls))
	for i, u := range urls {
		configs[i] = endpoint.Config{URL: u}
	}
	p, err := New(configs, opts)
	require.NoError(t, err)
	return p
}

func TestSelect_RoundRobinRotation(t *testing.T) {
	p := newTestPool(t, []string{"http://a", "http://b", "http://c"}, Options{})

	var got []string
	for i := 0; i < 4; i++ {
		got = append(got, p.Select(nil).ID)
	}

	assert.Equal(t, []string{"endpoint-0", "endpoint-1", "endpoint-2", "endpoint-0"}, got)
}

func TestSelect_RoundRobinFairness(t *testing.T) {
	p := newTestPool(t, []string{"http://a", "http://b", "http://c"}, Options{})

	counts := map[string]int{}
	const n = 99
	for i := 0; i < n; i++ {
		counts[p.Select(nil).ID]++
	}

	for id, c := range counts {
		assert.Equal(t, n/3, c, "endpoint %s", id)
	}
}

func TestSelect_SingleEndpointAlwaysReturnedEvenUnhealthy(t *testing.T) {
	p := newTestPool(t, []string{"http://only"}, Options{FailureThreshold: 1})

	ep := p.Select(nil)
	ep.MarkFailure("boom", nil, 1)

	again := p.Select(nil)
	assert.Equal(t, "endpoint-0", again.ID)
	assert.False(t, again.IsHealthy())
}

func TestSelect_FallbackWhenBelowMinHealthy(t *testing.T) {
	p := newTestPool(t, []string{"http://a", "http://b"}, Options{MinHealthy: 2})

	p.MarkUnhealthy("endpoint-0", "manual")

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		seen[p.Select(nil).ID] = true
	}
	assert.True(t, seen["endpoint-0"])
	assert.True(t, seen["endpoint-1"])
}

func TestSelect_MethodFilterBlocklistWinsOverWhitelist(t *testing.T) {
	configs := []endpoint.Config{
		{URL: "http://a", Methods: []string{"getSlot"}, BlockedMethods: []string{"getSlot"}},
	}
	p, err := New(configs, Options{})
	require.NoError(t, err)

	// The only endpoint blocks the sole whitelisted method too, so the
	// filter excludes everything and selection falls back to all endpoints.
	ep := p.Select([]string{"getSlot"})
	assert.Equal(t, "endpoint-0", ep.ID)
}

func TestForward_ThresholdEviction(t *testing.T) {
	var calls int
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer upstream.Close()

	p := newTestPool(t, []string{upstream.URL}, Options{FailureThreshold: 3})

	var lastStatus []bool
	for i := 0; i < 3; i++ {
		resp, err := p.Forward(context.Background(), []byte(`{}`), http.Header{}, nil)
		require.NoError(t, err)
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

		status := p.Status()
		lastStatus = append(lastStatus, status[0].Healthy)
	}

	assert.Equal(t, []bool{true, true, false}, lastStatus)
	assert.Equal(t, 3, calls)

	final := p.Status()[0]
	require.NotNil(t, final.LastError)
	assert.Equal(t, "HTTP 500", *final.LastError)
}

func TestForward_HardFailureReturnsError(t *testing.T) {
	p := newTestPool(t, []string{"http://127.0.0.1:0"}, Options{FailureThreshold: 1})

	_, err := p.Forward(context.Background(), []byte(`{}`), http.Header{}, nil)
	assert.Error(t, err)

	status := p.Status()[0]
	assert.Equal(t, 1, status.ConsecutiveFailures)
}

func TestForward_SuccessResetsHealth(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"ok"}`))
	}))
	defer upstream.Close()

	p := newTestPool(t, []string{upstream.URL}, Options{FailureThreshold: 1})
	p.MarkUnhealthy(upstream.URL, "manual")

	resp, err := p.Forward(context.Background(), []byte(`{}`), http.Header{}, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	status := p.Status()[0]
	assert.True(t, status.Healthy)
	assert.Equal(t, 0, status.ConsecutiveFailures)
}

func TestMarkUnhealthyThenMarkHealthy_RestoresState(t *testing.T) {
	p := newTestPool(t, []string{"http://a"}, Options{})

	p.MarkUnhealthy("endpoint-0", "x")
	p.MarkHealthy("endpoint-0")

	status := p.Status()[0]
	assert.True(t, status.Healthy)
	assert.Equal(t, 0, status.ConsecutiveFailures)
	assert.Nil(t, status.LastError)
}

// TestSelect_ConcurrentCallsStayFair fires many goroutines at Select on a
// shared pool with no synchronization beyond the pool's own locking, then
// asserts the round-robin fairness invariant (spec.md §8: after N calls on
// a stable pool of size k, each endpoint is returned floor(N/k) or
// ceil(N/k) times) still holds. Run with -race.
func TestSelect_ConcurrentCallsStayFair(t *testing.T) {
	p := newTestPool(t, []string{"http://a", "http://b", "http://c"}, Options{})

	const goroutines = 50
	const perGoroutine = 30
	const n = goroutines * perGoroutine

	var mu sync.Mutex
	counts := map[string]int{}

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				id := p.Select(nil).ID
				mu.Lock()
				counts[id]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	total := 0
	for _, c := range counts {
		total += c
		assert.GreaterOrEqual(t, c, n/3)
		assert.LessOrEqual(t, c, n/3+1)
	}
	assert.Equal(t, n, total)
}

func TestLastUsed_TracksMostRecentSelection(t *testing.T) {
	p := newTestPool(t, []string{"http://a", "http://b"}, Options{})

	_, ok := p.LastUsed()
	assert.False(t, ok)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer upstream.Close()

	single := newTestPool(t, []string{upstream.URL}, Options{})
	_, err := single.Forward(context.Background(), []byte(`{}`), http.Header{}, nil)
	require.NoError(t, err)

	last, ok := single.LastUsed()
	require.True(t, ok)
	assert.Equal(t, "endpoint-0", last.ID)
}
