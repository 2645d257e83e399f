package shared

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// WorkingsLockKey builds redis keys guarding working-row replacement.
func WorkingsLockKey(companyID uuid.UUID, period, statementType string) string {
	return fmt.Sprintf("consol:%s:%s:%s:lock", companyID, period, statementType)
}

// TranslationLockKey builds redis keys guarding translation runs.
func TranslationLockKey(companyID, entityID uuid.UUID, period string) string {
	return fmt.Sprintf("fx:%s:%s:%s:lock", companyID, entityID, period)
}

// RoundingLockKey builds redis keys guarding rounding runs.
func RoundingLockKey(companyID, entityID uuid.UUID, period string) string {
	return fmt.Sprintf("rounding:%s:%s:%s:lock", companyID, entityID, period)
}

// Locker guards a critical section keyed by name. Release must be called once the
// section completes.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(context.Context) error, err error)
}

// WithLock runs fn while holding key. A nil locker runs fn unguarded.
func WithLock(ctx context.Context, locker Locker, key string, fn func(context.Context) error) error {
	if locker == nil {
		return fn(ctx)
	}
	release, err := locker.Acquire(ctx, key)
	if err != nil {
		return err
	}
	defer func() {
		_ = release(context.WithoutCancel(ctx))
	}()
	return fn(ctx)
}
