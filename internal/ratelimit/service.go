package ratelimit

import (
	"context"
	"log/slog"
	"time"

	domainerrors "veilvote/pkg/domain-errors"
)

// Store is the counter backend.
type Store interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*Result, error)
	Reset(ctx context.Context, key string) error
}

// Service applies configured limits per (action, class) pair.
type Service struct {
	store  Store
	limits map[Action]map[IdentifierClass]Limit
	logger *slog.Logger
}

// DefaultLimits covers the write paths; results queries are left to the
// gateway in front of this service.
func DefaultLimits() map[Action]map[IdentifierClass]Limit {
	return map[Action]map[IdentifierClass]Limit{
		ActionSubmitVote: {
			ClassIP:     {Count: 30, Window: time.Minute},
			ClassDevice: {Count: 10, Window: time.Minute},
			ClassVoter:  {Count: 5, Window: time.Minute},
		},
		ActionIssueNonce: {
			ClassIP:    {Count: 60, Window: time.Minute},
			ClassVoter: {Count: 10, Window: time.Minute},
		},
	}
}

func NewService(store Store, limits map[Action]map[IdentifierClass]Limit, logger *slog.Logger) *Service {
	if limits == nil {
		limits = DefaultLimits()
	}
	return &Service{store: store, limits: limits, logger: logger}
}

// Check enforces the limit for one identifier. A missing configuration for
// the pair allows the request; absence of a rule is not a denial.
func (s *Service) Check(ctx context.Context, action Action, class IdentifierClass, identifier string) (*Result, error) {
	if identifier == "" {
		return &Result{Allowed: true}, nil
	}
	classLimits, ok := s.limits[action]
	if !ok {
		return &Result{Allowed: true}, nil
	}
	limit, ok := classLimits[class]
	if !ok {
		return &Result{Allowed: true}, nil
	}

	res, err := s.store.Allow(ctx, Key(action, class, identifier), limit.Count, limit.Window)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "rate limit check failed")
	}
	if !res.Allowed {
		s.logger.WarnContext(ctx, "rate limit exceeded",
			slog.String("action", string(action)),
			slog.String("class", string(class)))
	}
	return res, nil
}

// CheckAll runs Check across every configured class for the action,
// returning the first denial.
func (s *Service) CheckAll(ctx context.Context, action Action, identifiers map[IdentifierClass]string) (*Result, error) {
	for class, id := range identifiers {
		res, err := s.Check(ctx, action, class, id)
		if err != nil {
			return nil, err
		}
		if !res.Allowed {
			return res, nil
		}
	}
	return &Result{Allowed: true}, nil
}
