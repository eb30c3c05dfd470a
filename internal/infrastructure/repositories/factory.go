package repositories

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"huddle/internal/core/ports"
	"huddle/internal/infrastructure/repositories/memory"
	redisrepo "huddle/internal/infrastructure/repositories/redis"
	"huddle/pkg/config"
)

// RepositoryFactory creates the room store, falling back to the in-memory
// implementation when Redis is disabled or unreachable.
type RepositoryFactory struct {
	useRedis    bool
	redisClient *redis.Client
	logger      *zap.SugaredLogger
}

func NewRepositoryFactory(cfg *config.Config, logger *zap.SugaredLogger) (*RepositoryFactory, error) {
	factory := &RepositoryFactory{
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
			logger.Warnw("failed to connect to Redis, falling back to memory room store",
				"error", err,
			)
			factory.useRedis = false
		} else {
			factory.redisClient = client
			logger.Info("using Redis room store")
		}
	}

	if !factory.useRedis {
		logger.Info("using memory room store")
	}

	return factory, nil
}

func (f *RepositoryFactory) CreateRoomRepository() ports.RoomRepository {
	if f.useRedis && f.redisClient != nil {
		return redisrepo.NewRedisRoomRepository(f.redisClient)
	}
	return memory.NewMemoryRoomRepository()
}

func (f *RepositoryFactory) Close() error {
	if f.redisClient != nil {
		return redisrepo.CloseRedisClient(f.redisClient)
	}
	return nil
}

func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.useRedis && f.redisClient != nil {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}
