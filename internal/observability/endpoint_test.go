package observability

import (
	"context"
	"io"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/audiostream/internal/audiostream"
)

// TestNewMetricsConcurrency verifies that each call builds its own registry.
func TestNewMetricsConcurrency(t *testing.T) {
	const numGoroutines = 20

	var wg sync.WaitGroup
	for range numGoroutines {
		wg.Go(func() {
			m, err := NewMetrics()
			if err != nil {
				t.Errorf("NewMetrics failed: %v", err)
				return
			}
			if m.Streams == nil || m.System == nil || m.Errors == nil || m.Registry() == nil {
				t.Error("NewMetrics returned incomplete metrics")
			}
		})
	}
	wg.Wait()
}

func TestNewEndpointRequiresAddress(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)
	_, err = NewEndpoint("", m)
	require.Error(t, err)
}

func TestEndpointServesMetrics(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)
	m.Streams.StreamOpened("abc", audiostream.EngineEvent, audiostream.StreamInfo{})
	m.Streams.Callback("abc", 64, 0, 0.1)

	e, err := NewEndpoint("127.0.0.1:0", m)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	require.NoError(t, e.Start(ctx, &wg))
	defer func() {
		cancel()
		wg.Wait()
	}()

	tests := []struct {
		path string
		want string
	}{
		{"/metrics", `audiostream_frames_total{stream_id="abc"} 64`},
		{"/metrics", "go_goroutines"},
		{"/debug/pprof/", "goroutine"},
	}
	for _, tt := range tests {
		resp, err := http.Get("http://" + e.Addr() + tt.path)
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode, tt.path)
		assert.Contains(t, string(body), tt.want, tt.path)
	}
}
