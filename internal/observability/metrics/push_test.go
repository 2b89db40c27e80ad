package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/prometheus/prompb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smallbiznis/allocsync/internal/config"
)

func TestNewPusherSelectsExporter(t *testing.T) {
	log := zap.NewNop()

	assert.Nil(t, NewPusher(config.Config{}, log))
	assert.Nil(t, NewPusher(config.Config{MetricsPush: config.MetricsPushConfig{Exporter: ExporterRemoteWrite}}, log))
	assert.Nil(t, NewPusher(config.Config{MetricsPush: config.MetricsPushConfig{Exporter: "statsd", Endpoint: "http://x"}}, log))

	rw := NewPusher(config.Config{MetricsPush: config.MetricsPushConfig{
		Exporter: ExporterRemoteWrite,
		Endpoint: "http://metrics.local/api/v1/write",
	}}, log)
	assert.IsType(t, &RemoteWritePusher{}, rw)

	pg := NewPusher(config.Config{AppName: "allocsync", MetricsPush: config.MetricsPushConfig{
		Exporter: " Prometheus_Pushgateway ",
		Endpoint: "http://pushgateway:9091",
	}}, log)
	assert.IsType(t, &PushgatewayPusher{}, pg)
}

func TestBuildRemoteWriteSeriesSkipsHistograms(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewForTest(reg)
	m.IncCycle(CycleOutcomeRan)
	m.ObserveRunLoopLag(time.Second)

	families, err := reg.Gather()
	require.NoError(t, err)

	series := buildRemoteWriteSeries(families, 1700000000000)
	require.Len(t, series, 1)

	labels := map[string]string{}
	for _, l := range series[0].Labels {
		labels[l.Name] = l.Value
	}
	assert.Equal(t, "allocsync_cycles_total", labels["__name__"])
	assert.Equal(t, "ran", labels["outcome"])
	assert.Equal(t, "test", labels["env"])
	assert.Equal(t, "__name__", series[0].Labels[0].Name)
	require.Len(t, series[0].Samples, 1)
	assert.Equal(t, 1.0, series[0].Samples[0].Value)
	assert.Equal(t, int64(1700000000000), series[0].Samples[0].Timestamp)
}

func TestRemoteWritePusherPostsSnappyProtobuf(t *testing.T) {
	var (
		headers http.Header
		decoded prompb.WriteRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		raw, err := snappy.Decode(nil, body)
		require.NoError(t, err)
		require.NoError(t, decoded.Unmarshal(raw))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	reg := prometheus.NewRegistry()
	m := NewForTest(reg)
	m.IncCycle(CycleOutcomeLocked)

	pusher := NewRemoteWritePusher(srv.URL, "secret")
	pusher.now = func() time.Time { return time.UnixMilli(42) }

	require.NoError(t, pusher.Push(context.Background(), reg))
	assert.Equal(t, "application/x-protobuf", headers.Get("Content-Type"))
	assert.Equal(t, "snappy", headers.Get("Content-Encoding"))
	assert.Equal(t, "Bearer secret", headers.Get("Authorization"))
	require.Len(t, decoded.Timeseries, 1)
	assert.Equal(t, int64(42), decoded.Timeseries[0].Samples[0].Timestamp)
}

func TestRemoteWritePusherReportsRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	reg := prometheus.NewRegistry()
	NewForTest(reg).IncCycle(CycleOutcomeRan)

	err := NewRemoteWritePusher(srv.URL, "").Push(context.Background(), reg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestRemoteWritePusherSkipsEmptyGatherer(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
	}))
	defer srv.Close()

	require.NoError(t, NewRemoteWritePusher(srv.URL, "").Push(context.Background(), prometheus.NewRegistry()))
	assert.False(t, called)
}
