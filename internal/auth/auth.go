package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wuwenbin0122/credauth/internal/models"
)

var (
	ErrStoreRequired      = errors.New("auth: user store required")
	ErrHasherRequired     = errors.New("auth: password hasher required")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrUserNotFound       = errors.New("auth: user not found")
	ErrPasswordMismatch   = errors.New("auth: password mismatch")
)

// UserStore looks up a user by email. A missing user is reported as (nil, nil).
type UserStore interface {
	UserByEmail(ctx context.Context, email string) (*models.User, error)
}

// Reason explains why a login attempt was rejected. It is only ever logged or
// inspected internally; callers of Authorize see a uniform nil.
type Reason string

const (
	ReasonInvalidInput     Reason = "invalid_input"
	ReasonUserNotFound     Reason = "user_not_found"
	ReasonPasswordMismatch Reason = "password_mismatch"
	ReasonLookupFailed     Reason = "lookup_failed"
	ReasonCompareFailed    Reason = "compare_failed"
)

// Decision is the outcome of a single authorization attempt.
type Decision struct {
	Identity models.Identity
	Reason   Reason
	Err      error
}

func (d Decision) Authorized() bool {
	return d.Identity != nil
}

type Options struct {
	// EqualizeTiming runs a throwaway hash comparison when no user matches so
	// that unknown emails take as long as wrong passwords. The throwaway hash
	// follows the work factor of the last stored hash seen.
	EqualizeTiming bool
}

// Authorizer turns an untrusted credentials payload into a sanitized identity.
// It keeps no per-call state and is safe for concurrent use.
type Authorizer struct {
	store  UserStore
	hasher PasswordHasher
	logger *zap.Logger

	dummyMu   sync.RWMutex
	dummyHash string
}

func NewAuthorizer(store UserStore, hasher PasswordHasher, logger *zap.Logger, opts Options) (*Authorizer, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if hasher == nil {
		return nil, ErrHasherRequired
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &Authorizer{
		store:  store,
		hasher: hasher,
		logger: logger.Named("authorizer"),
	}

	if opts.EqualizeTiming {
		hash, err := hasher.Hash(uuid.NewString())
		if err != nil {
			return nil, fmt.Errorf("auth: prepare dummy hash: %w", err)
		}
		a.dummyHash = hash
	}

	return a, nil
}

// Authorize returns the identity for valid credentials and nil otherwise.
func (a *Authorizer) Authorize(ctx context.Context, raw map[string]any) models.Identity {
	return a.Decide(ctx, raw).Identity
}

// Decide runs validation, lookup, comparison and redaction in order, stopping
// at the first gate that fails.
func (a *Authorizer) Decide(ctx context.Context, raw map[string]any) Decision {
	creds, err := ParseCredentials(raw)
	if err != nil {
		var vErr *ValidationError
		if errors.As(err, &vErr) {
			a.logger.Info("credentials rejected", zap.String("reason", string(ReasonInvalidInput)), zap.Any("fieldErrors", vErr.Fields))
		} else {
			a.logger.Warn("credentials rejected", zap.String("reason", string(ReasonInvalidInput)), zap.Error(err))
		}
		return reject(ReasonInvalidInput, err)
	}

	user, err := a.store.UserByEmail(ctx, creds.Email)
	if err != nil {
		a.logger.Error("user lookup failed", zap.String("reason", string(ReasonLookupFailed)), zap.Error(err))
		return reject(ReasonLookupFailed, err)
	}

	if user == nil {
		a.equalize(creds.Password)
		a.logger.Info("credentials rejected", zap.String("reason", string(ReasonUserNotFound)))
		return reject(ReasonUserNotFound, ErrUserNotFound)
	}

	ok, err := a.hasher.Compare(creds.Password, user.PasswordHash)
	a.matchDummyCost(user.PasswordHash)
	if err != nil {
		a.logger.Error("password comparison failed", zap.String("reason", string(ReasonCompareFailed)), zap.String("userId", user.ID), zap.Error(err))
		return reject(ReasonCompareFailed, err)
	}
	if !ok {
		a.logger.Info("credentials rejected", zap.String("reason", string(ReasonPasswordMismatch)), zap.String("userId", user.ID))
		return reject(ReasonPasswordMismatch, ErrPasswordMismatch)
	}

	a.logger.Debug("credentials accepted", zap.String("userId", user.ID))

	return Decision{Identity: user.Identity()}
}

func (a *Authorizer) equalize(password string) {
	a.dummyMu.RLock()
	hash := a.dummyHash
	a.dummyMu.RUnlock()

	if hash == "" {
		return
	}
	_, _ = a.hasher.Compare(password, hash)
}

// matchDummyCost rebuilds the throwaway hash when stored hashes use a different
// work factor than the configured one.
func (a *Authorizer) matchDummyCost(stored string) {
	matcher, ok := a.hasher.(costMatcher)
	if !ok {
		return
	}

	a.dummyMu.RLock()
	current := a.dummyHash
	a.dummyMu.RUnlock()
	if current == "" {
		return
	}

	want, err := matcher.Cost(stored)
	if err != nil {
		return
	}
	if have, err := matcher.Cost(current); err == nil && have == want {
		return
	}

	hash, err := matcher.HashWithCost(uuid.NewString(), want)
	if err != nil {
		a.logger.Warn("failed to rebuild dummy hash", zap.Error(err))
		return
	}

	a.dummyMu.Lock()
	a.dummyHash = hash
	a.dummyMu.Unlock()
	a.logger.Debug("dummy hash cost adjusted", zap.Int("cost", want))
}

func reject(reason Reason, err error) Decision {
	return Decision{Reason: reason, Err: err}
}
