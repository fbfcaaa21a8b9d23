package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"wordchain-server/internal/domain"
	"wordchain-server/internal/interfaces"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var _ interfaces.SessionCodeStore = (*redisCodeStore)(nil)

const sessionCodeKeyPrefix = "session_code:"

type redisCodeStore struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisCodeStore хранит коды приглашений в Redis: ключ session_code:{code}, значение - JSON регистрации.
func NewRedisCodeStore(client *redis.Client, logger *zap.Logger) interfaces.SessionCodeStore {
	return &redisCodeStore{
		client: client,
		logger: logger.Named("RedisCodeStore"),
	}
}

// Reserve атомарно занимает код через SET NX. ttl 0 - без истечения.
func (s *redisCodeStore) Reserve(ctx context.Context, reg domain.SessionCodeRegistration, ttl time.Duration) (bool, error) {
	value, err := json.Marshal(reg)
	if err != nil {
		return false, fmt.Errorf("failed to marshal session code registration: %w", err)
	}
	ok, err := s.client.SetNX(ctx, sessionCodeKeyPrefix+reg.Code, value, ttl).Result()
	if err != nil {
		s.logger.Error("Failed to reserve session code in redis", zap.String("code", reg.Code), zap.Error(err))
		return false, fmt.Errorf("failed to reserve session code: %w", err)
	}
	return ok, nil
}

// Lookup возвращает domain.ErrInvalidCode, если кода нет или он истек.
func (s *redisCodeStore) Lookup(ctx context.Context, code string) (*domain.SessionCodeRegistration, error) {
	raw, err := s.client.Get(ctx, sessionCodeKeyPrefix+code).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrInvalidCode
		}
		s.logger.Error("Failed to lookup session code in redis", zap.String("code", code), zap.Error(err))
		return nil, fmt.Errorf("failed to lookup session code: %w", err)
	}
	var reg domain.SessionCodeRegistration
	if err := json.Unmarshal(raw, &reg); err != nil {
		s.logger.Error("Corrupted session code registration", zap.String("code", code), zap.Error(err))
		return nil, fmt.Errorf("failed to decode session code registration: %w", err)
	}
	return &reg, nil
}

func (s *redisCodeStore) Release(ctx context.Context, code string) error {
	if err := s.client.Del(ctx, sessionCodeKeyPrefix+code).Err(); err != nil {
		s.logger.Error("Failed to release session code", zap.String("code", code), zap.Error(err))
		return fmt.Errorf("failed to release session code: %w", err)
	}
	return nil
}
