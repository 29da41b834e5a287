package repositories

import (
	"context"

	"babaphone/internal/core/ports"
	"babaphone/internal/infrastructure/distributed"
	"babaphone/internal/infrastructure/repositories/memory"
	redisrepo "babaphone/internal/infrastructure/repositories/redis"
	"babaphone/pkg/config"
	pkgdistributed "babaphone/pkg/distributed"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RepositoryFactory creates repositories with fallback support
type RepositoryFactory struct {
	cfg         *config.Config
	useRedis    bool
	redisClient *redis.Client
	logger      *zap.SugaredLogger
}

// NewRepositoryFactory connects to Redis when enabled and falls back to
// in-memory storage if the connection fails.
func NewRepositoryFactory(cfg *config.Config, logger *zap.SugaredLogger) (*RepositoryFactory, error) {
	factory := &RepositoryFactory{
		cfg:      cfg,
		useRedis: cfg.Redis.Enabled,
		logger:   logger,
	}

	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			logger,
		)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory repositories",
				"error", err,
			)
			factory.useRedis = false
		} else {
			factory.redisClient = client
			logger.Info("using Redis repositories")
		}
	}

	if !factory.useRedis {
		logger.Info("using memory repositories")
	}

	return factory, nil
}

// NewRepositoryFactoryWithClient wraps an existing Redis client.
func NewRepositoryFactoryWithClient(cfg *config.Config, client *redis.Client, logger *zap.SugaredLogger) *RepositoryFactory {
	return &RepositoryFactory{
		cfg:         cfg,
		useRedis:    client != nil,
		redisClient: client,
		logger:      logger,
	}
}

func (f *RepositoryFactory) redisEnabled() bool {
	return f.useRedis && f.redisClient != nil
}

func (f *RepositoryFactory) CreateDeviceRepository() ports.DeviceRepository {
	if f.redisEnabled() {
		return redisrepo.NewRedisDeviceRepository(f.redisClient, f.cfg.Retention.DeviceTimeout)
	}
	return memory.NewMemoryDeviceRepository()
}

func (f *RepositoryFactory) CreateSignalRepository() ports.SignalRepository {
	if f.redisEnabled() {
		return redisrepo.NewRedisSignalRepository(f.redisClient, f.cfg.Retention.SignalTTL)
	}
	return memory.NewMemorySignalRepository()
}

func (f *RepositoryFactory) CreateRelayRepository() ports.RelayRepository {
	if f.redisEnabled() {
		return redisrepo.NewRedisRelayRepository(f.redisClient, f.cfg.Retention.RelayTTL)
	}
	return memory.NewMemoryRelayRepository()
}

func (f *RepositoryFactory) CreatePairingRepository() ports.PairingRepository {
	if f.redisEnabled() {
		return redisrepo.NewRedisPairingRepository(f.redisClient)
	}
	return memory.NewMemoryPairingRepository()
}

// CreateNotifier returns a Redis-backed event bus when Redis is in use so
// push subscribers on every instance are woken. The caller must Run it.
func (f *RepositoryFactory) CreateNotifier(instanceID string) (ports.Notifier, *distributed.EventBus) {
	if f.redisEnabled() {
		bus := distributed.NewEventBus(f.redisClient, instanceID, f.logger)
		return bus, bus
	}
	return distributed.NewLocalNotifier(), nil
}

// CreateCleanupLock returns a lease so only one instance sweeps expired
// records at a time, or nil when storage is local.
func (f *RepositoryFactory) CreateCleanupLock() *pkgdistributed.DistributedLock {
	if f.redisEnabled() {
		lm := pkgdistributed.NewLockManager(f.redisClient, "babaphone:lock:")
		return lm.AcquireLock("janitor", 2*f.cfg.Retention.CleanupInterval)
	}
	return nil
}

func (f *RepositoryFactory) UsingRedis() bool {
	return f.redisEnabled()
}

func (f *RepositoryFactory) Close() error {
	if f.redisClient != nil {
		return redisrepo.CloseRedisClient(f.redisClient)
	}
	return nil
}

// HealthCheck checks Redis connection health
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.redisEnabled() {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}
