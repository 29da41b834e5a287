package repositories

import (
	"context"
	"testing"

	"babaphone/internal/infrastructure/distributed"
	"babaphone/internal/infrastructure/repositories/memory"
	redisrepo "babaphone/internal/infrastructure/repositories/redis"
	"babaphone/pkg/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestFactory_FallsBackToMemory(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Redis.Enabled = true
	cfg.Redis.Address = "127.0.0.1:1"

	f, err := NewRepositoryFactory(cfg, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	defer f.Close()

	assert.False(t, f.UsingRedis())
	assert.IsType(t, &memory.MemoryDeviceRepository{}, f.CreateDeviceRepository())
	assert.Nil(t, f.CreateCleanupLock())

	n, bus := f.CreateNotifier("i1")
	assert.IsType(t, &distributed.LocalNotifier{}, n)
	assert.Nil(t, bus)
	assert.NoError(t, f.HealthCheck(context.Background()))
}

func TestFactory_UsesRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.DefaultConfig()
	cfg.Redis.Enabled = true
	cfg.Redis.Address = mr.Addr()

	f, err := NewRepositoryFactory(cfg, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	defer f.Close()

	assert.True(t, f.UsingRedis())
	assert.IsType(t, &redisrepo.RedisSignalRepository{}, f.CreateSignalRepository())
	assert.NotNil(t, f.CreateCleanupLock())
	assert.NoError(t, f.HealthCheck(context.Background()))

	mr.Close()
	assert.Error(t, f.HealthCheck(context.Background()))
}

func TestFactory_WithClient(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	f := NewRepositoryFactoryWithClient(config.DefaultConfig(), client, zaptest.NewLogger(t).Sugar())
	defer f.Close()

	assert.IsType(t, &redisrepo.RedisRelayRepository{}, f.CreateRelayRepository())
	assert.IsType(t, &redisrepo.RedisPairingRepository{}, f.CreatePairingRepository())
}
