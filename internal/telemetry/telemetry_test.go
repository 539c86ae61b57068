package telemetry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorObserveOperation(t *testing.T) {
	c := NewCollector()
	c.ObserveOperation("run_nodes", time.Now(), nil)
	c.ObserveOperation("run_nodes", time.Now(), errors.New("boom"))
	c.ObserveOperation("run_nodes", time.Now(), nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.operations.WithLabelValues("run_nodes", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.operations.WithLabelValues("run_nodes", "error")))
}

func TestCollectorObserveUnits(t *testing.T) {
	c := NewCollector()
	c.ObserveUnits("starting nodes", 3, 1)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.units.WithLabelValues("starting nodes", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.units.WithLabelValues("starting nodes", "failed")))
}

func TestCollectorCompensation(t *testing.T) {
	c := NewCollector()
	c.ObserveCompensation("destroyed")
	c.ObserveCompensation("skipped")
	c.ObserveCompensation("destroyed")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.compensations.WithLabelValues("destroyed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.compensations.WithLabelValues("skipped")))
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.ObserveOperation("x", time.Now(), nil)
		c.ObserveUnits("x", 1, 0)
		c.ObserveCompensation("destroyed")
	})
	assert.Nil(t, c.Registry())
	assert.NoError(t, c.Push(context.Background(), "http://unused", "job"))
}

func TestCollectorPush(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Contains(t, r.URL.Path, "/metrics/job/fleetjob")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewCollector()
	c.ObserveUnits("destroying nodes", 2, 0)
	require.NoError(t, c.Push(context.Background(), srv.URL, "fleetjob"))
	assert.Equal(t, int32(1), hits.Load())
}
