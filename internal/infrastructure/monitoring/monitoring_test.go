package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"babaphone/internal/core/domain"
	"babaphone/internal/infrastructure/repositories/memory"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusCollector_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPrometheusCollector(reg)

	c.DeviceRegistered(domain.DeviceTypeChild)
	c.DeviceRegistered(domain.DeviceTypeChild)
	c.SignalQueued(domain.SignalConnect)
	c.AudioRelayed(1024)
	c.RecordsExpired("relay", 3)
	c.ActiveDevices(2)

	values := gather(t, reg)
	assert.Equal(t, 2.0, values["babaphone_registrations_total"])
	assert.Equal(t, 1.0, values["babaphone_signals_queued_total"])
	assert.Equal(t, 1024.0, values["babaphone_relay_audio_bytes_total"])
	assert.Equal(t, 3.0, values["babaphone_expired_records_total"])
	assert.Equal(t, 2.0, values["babaphone_devices_active"])

	// a second collector on its own registry must not collide
	assert.NotPanics(t, func() { NewPrometheusCollector(prometheus.NewRegistry()) })
}

// gather sums every series of each counter or gauge family.
func gather(t *testing.T, reg *prometheus.Registry) map[string]float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	out := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			if c := m.GetCounter(); c != nil {
				out[mf.GetName()] += c.GetValue()
			}
			if g := m.GetGauge(); g != nil {
				out[mf.GetName()] += g.GetValue()
			}
		}
	}
	return out
}

func TestHealthChecker_ReportsFailingCheck(t *testing.T) {
	h := NewHealthChecker()
	h.AddRepositoryCheck(memory.NewMemoryDeviceRepository(), time.Second)
	h.AddCheck("broken", func(ctx context.Context) error { return errors.New("down") }, time.Second)

	status := h.CheckAll(context.Background())
	assert.Equal(t, "unhealthy", status.Status)
	assert.Equal(t, "healthy", status.Checks["repository"])
	assert.Equal(t, "down", status.Checks["broken"])
	assert.False(t, h.IsReady(context.Background()))
}

func TestHealthChecker_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	h := NewHealthChecker()
	h.AddRedisCheck(client, time.Second)
	assert.True(t, h.IsReady(context.Background()))

	mr.Close()
	assert.False(t, h.IsReady(context.Background()))
}
