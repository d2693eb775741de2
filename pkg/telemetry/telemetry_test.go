package telemetry

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	internaltelemetry "github.com/sushant-115/pagestore/internal/telemetry"
)

func TestNew_Disabled(t *testing.T) {
	tel, shutdown, err := New(Config{Enabled: false})
	require.NoError(t, err)
	require.Nil(t, tel.Registry)
	require.Empty(t, tel.MetricsAddr())
	require.NotNil(t, tel.Meter)
	require.NotNil(t, tel.Tracer)
	require.NoError(t, shutdown(context.Background()))
}

func TestNew_ServesStorageMetrics(t *testing.T) {
	tel, shutdown, err := New(Config{
		Enabled:     true,
		ServiceName: "pagestore-test",
		MetricsAddr: "127.0.0.1:0",
	})
	require.NoError(t, err)
	defer func() { require.NoError(t, shutdown(context.Background())) }()

	metrics, err := internaltelemetry.NewStorageMetrics(tel.Meter)
	require.NoError(t, err)
	metrics.PageHitsCounter.Add(context.Background(), 3)

	resp, err := http.Get("http://" + tel.MetricsAddr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "pagestore_bufferpool_hits")
	require.Contains(t, string(body), "go_goroutines")
}

func TestNew_CollectsWithoutServer(t *testing.T) {
	tel, shutdown, err := New(Config{Enabled: true, ServiceName: "pagestore-test"})
	require.NoError(t, err)
	defer func() { require.NoError(t, shutdown(context.Background())) }()

	require.Empty(t, tel.MetricsAddr())
	families, err := tel.Registry.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}
