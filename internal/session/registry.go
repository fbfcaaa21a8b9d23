package session

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"wordchain-server/internal/domain"
	"wordchain-server/internal/interfaces"
	"wordchain-server/internal/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	codeLength         = 6
	codeSpace          = 1_000_000
	DefaultMaxAttempts = 10
)

// CodeSource returns a number in [0, codeSpace).
type CodeSource func() (int64, error)

// CryptoCodeSource - источник кодов по умолчанию.
func CryptoCodeSource() (int64, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeSpace))
	if err != nil {
		return 0, err
	}
	return n.Int64(), nil
}

// StoryLookup находит историю по коду в авторитетном хранилище.
type StoryLookup interface {
	FindBySessionCode(ctx context.Context, code string) (*domain.StorySnapshot, error)
}

// Linker выполняет само присоединение после проверки кода.
type Linker interface {
	LinkClassic(ctx context.Context, storyID, participantID uuid.UUID) (uuid.UUID, error)
	LinkBranch(ctx context.Context, reg domain.SessionCodeRegistration, participantID uuid.UUID) (uuid.UUID, error)
}

// Config - параметры реестра кодов.
type Config struct {
	MaxAttempts int
	// CodeTTL - время жизни кода, 0 - бессрочно.
	CodeTTL time.Duration
}

// Registry выдает шестизначные коды приглашений и разрешает их при входе.
type Registry struct {
	store  interfaces.SessionCodeStore
	lookup StoryLookup
	source CodeSource
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

// NewRegistry creates a registry. lookup may be nil.
func NewRegistry(store interfaces.SessionCodeStore, lookup StoryLookup, source CodeSource, cfg Config, logger *zap.Logger) *Registry {
	if source == nil {
		source = CryptoCodeSource
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	return &Registry{
		store:  store,
		lookup: lookup,
		source: source,
		cfg:    cfg,
		logger: logger.Named("SessionRegistry"),
		now:    time.Now,
	}
}

// FormatCode left-pads n to six digits.
func FormatCode(n int64) string {
	return fmt.Sprintf("%0*d", codeLength, n%codeSpace)
}

// GenerateCode резервирует свободный код для цели. После MaxAttempts коллизий
// возвращает domain.ErrCodeExhaustion.
func (r *Registry) GenerateCode(ctx context.Context, kind domain.CodeTargetKind, targetID, ownerID uuid.UUID) (string, error) {
	logFields := []zap.Field{
		zap.String("kind", string(kind)),
		zap.String("targetID", targetID.String()),
		zap.String("ownerID", ownerID.String()),
	}

	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", wrapContextErr(err)
		}
		n, err := r.source()
		if err != nil {
			return "", fmt.Errorf("ошибка генерации кода: %w", err)
		}
		code := FormatCode(n)
		reg := domain.SessionCodeRegistration{
			Code:      code,
			Kind:      kind,
			TargetID:  targetID,
			OwnerID:   ownerID,
			CreatedAt: r.now().UTC(),
		}
		ok, err := r.store.Reserve(ctx, reg, r.cfg.CodeTTL)
		if err != nil {
			r.logger.Error("Failed to reserve session code", append(logFields, zap.Error(err))...)
			return "", fmt.Errorf("%w: reserve session code: %w", domain.ErrPersistence, err)
		}
		if ok {
			r.logger.Debug("Session code reserved", append(logFields, zap.Int("attempt", attempt))...)
			return code, nil
		}
		metrics.SessionCodeCollisions.Inc()
		r.logger.Debug("Session code collision", append(logFields, zap.Int("attempt", attempt))...)
	}

	metrics.SessionCodeExhaustions.Inc()
	r.logger.Error("Session code space exhausted", append(logFields, zap.Int("attempts", r.cfg.MaxAttempts))...)
	return "", domain.ErrCodeExhaustion
}

// Resolve находит регистрацию кода и отклоняет вход владельца.
func (r *Registry) Resolve(ctx context.Context, code string, participantID uuid.UUID) (*domain.SessionCodeRegistration, error) {
	if !isWellFormed(code) {
		return nil, domain.ErrInvalidCode
	}
	reg, err := r.store.Lookup(ctx, code)
	if err != nil && !errors.Is(err, domain.ErrInvalidCode) {
		return nil, fmt.Errorf("%w: lookup session code: %w", domain.ErrPersistence, err)
	}
	if reg == nil {
		reg, err = r.fallbackLookup(ctx, code)
		if err != nil {
			return nil, err
		}
	}
	if reg.OwnerID == participantID {
		return nil, domain.ErrSelfJoin
	}
	return reg, nil
}

// fallbackLookup ищет код в самом хранилище историй. Только для бессрочных кодов,
// иначе истекший код снова стал бы действительным.
func (r *Registry) fallbackLookup(ctx context.Context, code string) (*domain.SessionCodeRegistration, error) {
	if r.lookup == nil || r.cfg.CodeTTL > 0 {
		return nil, domain.ErrInvalidCode
	}
	snap, err := r.lookup.FindBySessionCode(ctx, code)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrInvalidCode
		}
		return nil, fmt.Errorf("%w: find story by code: %w", domain.ErrPersistence, err)
	}
	reg := &domain.SessionCodeRegistration{
		Code:      code,
		Kind:      domain.CodeTargetStory,
		TargetID:  snap.ID,
		OwnerID:   snap.CreatorID,
		CreatedAt: snap.CreatedAt,
	}
	if snap.CollaborationType == domain.CollaborationBranch && snap.ParentPromptID != nil {
		reg.Kind = domain.CodeTargetPromptGroup
		reg.TargetID = *snap.ParentPromptID
	}
	r.logger.Info("Session code restored from story backend", zap.String("code", code), zap.String("targetID", reg.TargetID.String()))
	if _, err := r.store.Reserve(ctx, *reg, 0); err != nil {
		r.logger.Warn("Failed to re-register session code", zap.String("code", code), zap.Error(err))
	}
	return reg, nil
}

// Redeem resolves the code and performs the join through linker.
func (r *Registry) Redeem(ctx context.Context, code string, participantID uuid.UUID, linker Linker) (*domain.RedeemResult, error) {
	reg, err := r.Resolve(ctx, code, participantID)
	if err != nil {
		r.logger.Warn("Session code rejected", zap.String("participantID", participantID.String()), zap.Error(err))
		return nil, err
	}

	var storyID uuid.UUID
	switch reg.Kind {
	case domain.CodeTargetStory:
		storyID, err = linker.LinkClassic(ctx, reg.TargetID, participantID)
	case domain.CodeTargetPromptGroup:
		storyID, err = linker.LinkBranch(ctx, *reg, participantID)
	default:
		err = fmt.Errorf("%w: unknown code target %q", domain.ErrInvalidCode, string(reg.Kind))
	}
	if err != nil {
		return nil, err
	}
	r.logger.Info("Session code redeemed",
		zap.String("participantID", participantID.String()),
		zap.String("kind", string(reg.Kind)),
		zap.String("storyID", storyID.String()))
	return &domain.RedeemResult{Kind: reg.Kind, TargetID: reg.TargetID, StoryID: storyID}, nil
}

// Release освобождает код. Ошибка только логируется вызывающим кодом.
func (r *Registry) Release(ctx context.Context, code string) error {
	if code == "" {
		return nil
	}
	if err := r.store.Release(ctx, code); err != nil {
		return fmt.Errorf("release session code: %w", err)
	}
	r.logger.Debug("Session code released", zap.String("code", code))
	return nil
}

func isWellFormed(code string) bool {
	if len(code) != codeLength {
		return false
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func wrapContextErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", domain.ErrTimeout, err)
	}
	return err
}
