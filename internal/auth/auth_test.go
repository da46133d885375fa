package auth_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/crypto/bcrypt"

	"github.com/wuwenbin0122/credauth/internal/auth"
	"github.com/wuwenbin0122/credauth/internal/models"
)

type fakeStore struct {
	mu    sync.Mutex
	users map[string]models.User
	err   error
	calls int
}

func (s *fakeStore) UserByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	user, ok := s.users[email]
	if !ok {
		return nil, nil
	}
	return &user, nil
}

func (s *fakeStore) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type countingHasher struct {
	auth.PasswordHasher

	mu       sync.Mutex
	compares int
}

func (h *countingHasher) Compare(password, hash string) (bool, error) {
	h.mu.Lock()
	h.compares++
	h.mu.Unlock()
	return h.PasswordHasher.Compare(password, hash)
}

func (h *countingHasher) Compares() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.compares
}

type fixture struct {
	store      *fakeStore
	hasher     *countingHasher
	authorizer *auth.Authorizer
	logs       *observer.ObservedLogs
	hash       string
}

func newFixture(t *testing.T, opts auth.Options) *fixture {
	t.Helper()

	hasher := &countingHasher{PasswordHasher: auth.NewBcryptHasher(bcrypt.MinCost)}
	hash, err := hasher.Hash("right")
	require.NoError(t, err)

	store := &fakeStore{users: map[string]models.User{
		"a@b.com": models.UserFromFields(map[string]any{
			"id":         "user-1",
			"name":       "Alice",
			"email":      "a@b.com",
			"password":   hash,
			"created_at": time.Date(2024, time.May, 1, 12, 0, 0, 0, time.UTC),
			"image_url":  "/alice.png",
		}),
	}}

	core, logs := observer.New(zapcore.DebugLevel)
	authorizer, err := auth.NewAuthorizer(store, hasher, zap.New(core), opts)
	require.NoError(t, err)

	return &fixture{store: store, hasher: hasher, authorizer: authorizer, logs: logs, hash: hash}
}

func TestAuthorizeScenarios(t *testing.T) {
	tests := []struct {
		name       string
		raw        map[string]any
		storeErr   error
		wantReason auth.Reason
	}{
		{
			name:       "empty password",
			raw:        map[string]any{"email": "a@b.com", "password": ""},
			wantReason: auth.ReasonInvalidInput,
		},
		{
			name:       "unknown user",
			raw:        map[string]any{"email": "nouser@b.com", "password": "x"},
			wantReason: auth.ReasonUserNotFound,
		},
		{
			name:       "wrong password",
			raw:        map[string]any{"email": "a@b.com", "password": "wrong"},
			wantReason: auth.ReasonPasswordMismatch,
		},
		{
			name:       "store unreachable",
			raw:        map[string]any{"email": "a@b.com", "password": "right"},
			storeErr:   errors.New("dial tcp: connection refused"),
			wantReason: auth.ReasonLookupFailed,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, auth.Options{})
			f.store.err = tc.storeErr

			assert.Nil(t, f.authorizer.Authorize(context.Background(), tc.raw))

			decision := f.authorizer.Decide(context.Background(), tc.raw)
			assert.False(t, decision.Authorized())
			assert.Equal(t, tc.wantReason, decision.Reason)
			assert.Error(t, decision.Err)
		})
	}
}

func TestAuthorizeReturnsIdentityWithoutPassword(t *testing.T) {
	f := newFixture(t, auth.Options{})

	identity := f.authorizer.Authorize(context.Background(), map[string]any{"email": "a@b.com", "password": "right"})
	require.NotNil(t, identity)

	assert.Equal(t, models.Identity{
		"id":         "user-1",
		"name":       "Alice",
		"email":      "a@b.com",
		"created_at": time.Date(2024, time.May, 1, 12, 0, 0, 0, time.UTC),
		"image_url":  "/alice.png",
	}, identity)

	payload, err := json.Marshal(identity)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(payload, &fields))
	assert.NotContains(t, fields, "password")
	assert.NotContains(t, string(payload), f.hash)
}

func TestAuthorizeRejectsMalformedInputWithoutLookup(t *testing.T) {
	payloads := map[string]map[string]any{
		"nil payload":      nil,
		"missing email":    {"password": "right"},
		"missing password": {"email": "a@b.com"},
		"malformed email":  {"email": "not-an-email", "password": "right"},
		"numeric password": {"email": "a@b.com", "password": 12345},
		"email as list":    {"email": []any{"a@b.com"}, "password": "right"},
	}

	for name, raw := range payloads {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, auth.Options{EqualizeTiming: true})

			decision := f.authorizer.Decide(context.Background(), raw)
			assert.Nil(t, decision.Identity)
			assert.Equal(t, auth.ReasonInvalidInput, decision.Reason)

			var vErr *auth.ValidationError
			assert.True(t, errors.As(decision.Err, &vErr))
			assert.Zero(t, f.store.Calls())
			assert.Zero(t, f.hasher.Compares())
		})
	}
}

func TestAuthorizeIgnoresUnknownFields(t *testing.T) {
	f := newFixture(t, auth.Options{})

	identity := f.authorizer.Authorize(context.Background(), map[string]any{
		"email":       "a@b.com",
		"password":    "right",
		"csrfToken":   "abc",
		"callbackUrl": "/dashboard",
	})
	assert.NotNil(t, identity)
}

func TestAuthorizeIsIdempotent(t *testing.T) {
	f := newFixture(t, auth.Options{})
	raw := map[string]any{"email": "a@b.com", "password": "right"}

	first := f.authorizer.Authorize(context.Background(), raw)
	second := f.authorizer.Authorize(context.Background(), raw)

	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.Equal(t, first, second)
}

func TestAuthorizeEqualizesTimingForUnknownUser(t *testing.T) {
	raw := map[string]any{"email": "nouser@b.com", "password": "x"}

	f := newFixture(t, auth.Options{EqualizeTiming: true})
	assert.Nil(t, f.authorizer.Authorize(context.Background(), raw))
	assert.Equal(t, 1, f.hasher.Compares())

	f = newFixture(t, auth.Options{})
	assert.Nil(t, f.authorizer.Authorize(context.Background(), raw))
	assert.Zero(t, f.hasher.Compares())
}

type recordingHasher struct {
	*auth.BcryptHasher

	mu       sync.Mutex
	compared []string
}

func (h *recordingHasher) Compare(password, hash string) (bool, error) {
	h.mu.Lock()
	h.compared = append(h.compared, hash)
	h.mu.Unlock()
	return h.BcryptHasher.Compare(password, hash)
}

func (h *recordingHasher) lastCompared() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.compared[len(h.compared)-1]
}

func TestAuthorizeDummyHashFollowsStoredCost(t *testing.T) {
	hasher := &recordingHasher{BcryptHasher: auth.NewBcryptHasher(bcrypt.MinCost)}

	stored, err := hasher.HashWithCost("right", bcrypt.MinCost+1)
	require.NoError(t, err)

	store := &fakeStore{users: map[string]models.User{
		"a@b.com": models.UserFromFields(map[string]any{"id": "user-1", "email": "a@b.com", "password": stored}),
	}}
	authorizer, err := auth.NewAuthorizer(store, hasher, nil, auth.Options{EqualizeTiming: true})
	require.NoError(t, err)

	ctx := context.Background()
	unknown := map[string]any{"email": "nouser@b.com", "password": "x"}

	assert.Nil(t, authorizer.Authorize(ctx, unknown))
	cost, err := bcrypt.Cost([]byte(hasher.lastCompared()))
	require.NoError(t, err)
	assert.Equal(t, bcrypt.MinCost, cost)

	assert.Nil(t, authorizer.Authorize(ctx, map[string]any{"email": "a@b.com", "password": "wrong"}))

	assert.Nil(t, authorizer.Authorize(ctx, unknown))
	cost, err = bcrypt.Cost([]byte(hasher.lastCompared()))
	require.NoError(t, err)
	assert.Equal(t, bcrypt.MinCost+1, cost)
}

func TestAuthorizeRejectsCorruptStoredHash(t *testing.T) {
	f := newFixture(t, auth.Options{})
	f.store.users["broken@b.com"] = models.UserFromFields(map[string]any{"id": "user-2", "email": "broken@b.com", "password": "plaintext"})

	decision := f.authorizer.Decide(context.Background(), map[string]any{"email": "broken@b.com", "password": "plaintext"})
	assert.Nil(t, decision.Identity)
	assert.Equal(t, auth.ReasonCompareFailed, decision.Reason)
}

func TestAuthorizeLogsReasonsButNoSecrets(t *testing.T) {
	f := newFixture(t, auth.Options{EqualizeTiming: true})
	ctx := context.Background()

	f.authorizer.Authorize(ctx, map[string]any{"email": "bad", "password": "right"})
	f.authorizer.Authorize(ctx, map[string]any{"email": "nouser@b.com", "password": "right"})
	f.authorizer.Authorize(ctx, map[string]any{"email": "a@b.com", "password": "wrong"})
	f.authorizer.Authorize(ctx, map[string]any{"email": "a@b.com", "password": "right"})
	f.store.err = errors.New("connection reset")
	f.authorizer.Authorize(ctx, map[string]any{"email": "a@b.com", "password": "right"})

	reasons := make([]string, 0)
	for _, entry := range f.logs.All() {
		line := entry.Message + " " + fmt.Sprint(entry.ContextMap())
		assert.NotContains(t, line, f.hash)
		assert.NotContains(t, line, "right")
		assert.NotContains(t, line, "wrong")

		if reason, ok := entry.ContextMap()["reason"].(string); ok {
			reasons = append(reasons, reason)
		}
	}

	assert.Equal(t, []string{
		string(auth.ReasonInvalidInput),
		string(auth.ReasonUserNotFound),
		string(auth.ReasonPasswordMismatch),
		string(auth.ReasonLookupFailed),
	}, reasons)

	lookupFailures := f.logs.FilterMessage("user lookup failed").All()
	require.Len(t, lookupFailures, 1)
	assert.Equal(t, zapcore.ErrorLevel, lookupFailures[0].Level)
}

func TestAuthorizeConcurrentCallsAreIndependent(t *testing.T) {
	f := newFixture(t, auth.Options{})

	var wg sync.WaitGroup
	results := make([]models.Identity, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			password := "right"
			if i%2 == 1 {
				password = "wrong"
			}
			results[i] = f.authorizer.Authorize(context.Background(), map[string]any{"email": "a@b.com", "password": password})
		}(i)
	}
	wg.Wait()

	for i, identity := range results {
		if i%2 == 1 {
			assert.Nil(t, identity, "call %d", i)
			continue
		}
		if assert.NotNil(t, identity, "call %d", i) {
			assert.Equal(t, "user-1", identity["id"])
		}
	}
}

func TestNewAuthorizerRequiresCollaborators(t *testing.T) {
	_, err := auth.NewAuthorizer(nil, auth.NewBcryptHasher(bcrypt.MinCost), nil, auth.Options{})
	assert.ErrorIs(t, err, auth.ErrStoreRequired)

	_, err = auth.NewAuthorizer(&fakeStore{}, nil, nil, auth.Options{})
	assert.ErrorIs(t, err, auth.ErrHasherRequired)
}

func TestValidationErrorMessage(t *testing.T) {
	_, err := auth.ParseCredentials(map[string]any{"email": "x", "password": ""})
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "auth: invalid credentials payload: "))
	assert.Contains(t, err.Error(), "email: invalid email")
	assert.Contains(t, err.Error(), "password: password is required")
}
