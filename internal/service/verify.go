// Package service contains the verification state machine and the session
// token flow. The verifier orchestrates codec, hasher, stores, entitlement
// resolution, and rate limiting into one tagged result per request.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/framingui/keygate/internal/apikey"
	"github.com/framingui/keygate/internal/entitlement"
	"github.com/framingui/keygate/internal/model"
	"github.com/framingui/keygate/internal/ratelimit"
	"github.com/framingui/keygate/internal/store"
)

// Status tags a verification result.
type Status int

const (
	StatusAuthorized Status = iota
	StatusUnauthorized
	StatusRateLimited
)

// Result is the outcome of one verification attempt. It is produced per
// request and never persisted.
type Result struct {
	Status Status

	// User and Entitlements are set only for StatusAuthorized.
	User         *model.User
	Entitlements *entitlement.Entitlements

	// Reason is set for StatusUnauthorized and StatusRateLimited.
	Reason Reason

	// RetryAfter is the whole seconds until quota frees up, set for
	// StatusRateLimited.
	RetryAfter int

	// RateLimit carries the limiter verdict for response headers. It is
	// populated on every result, whatever the status.
	RateLimit ratelimit.Result
}

// Verifier runs the per-request verification state machine:
// header → format → prefix lookup → hash compare → expiry/revocation →
// entitlements, gated by the rate limiter throughout. Any stage may
// short-circuit to an unauthorized or rate-limited result; none reopen.
type Verifier struct {
	keys     store.KeyStore
	users    store.UserStore
	resolver entitlement.Resolver
	hasher   *apikey.Hasher
	limiter  ratelimit.Limiter
	logger   *slog.Logger
	now      func() time.Time
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithVerifierClock replaces the verifier's time source for deterministic
// expiry tests.
func WithVerifierClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) { v.now = now }
}

// NewVerifier wires the verification dependencies together.
func NewVerifier(keys store.KeyStore, users store.UserStore, resolver entitlement.Resolver,
	hasher *apikey.Hasher, limiter ratelimit.Limiter, logger *slog.Logger, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		keys:     keys,
		users:    users,
		resolver: resolver,
		hasher:   hasher,
		limiter:  limiter,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// retryBackoff is the pause before the single retry of an idempotent store
// lookup that failed.
const retryBackoff = 100 * time.Millisecond

// Verify runs the state machine for one request. authHeader is the raw
// Authorization header value; clientIP keys the rate limiter when the
// request carries no usable credential.
//
// Errors are infrastructure failures (store or cache unreachable) and map
// to a server error upstream - a down dependency must never masquerade as
// a bad credential. When the failure happens after the limiter has ruled,
// the error is accompanied by a result carrying the limiter verdict so
// callers can still stamp quota headers.
func (v *Verifier) Verify(ctx context.Context, authHeader, clientIP string) (*Result, error) {
	token, hasToken := bearerToken(authHeader)

	// The limiter runs first and is evaluated independently of credential
	// validity, so requests that go on to fail authorization still consume
	// quota. Authenticated-looking traffic is keyed by the non-secret
	// prefix; everything else by caller IP.
	subject := clientIP
	if hasToken && len(token) >= apikey.PrefixLen && strings.HasPrefix(token, apikey.Namespace) {
		subject = apikey.Prefix(token)
	}

	rl, err := v.limiter.Allow(ctx, ratelimit.RouteVerify, subject)
	if err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	if !rl.Allowed {
		return &Result{
			Status:     StatusRateLimited,
			Reason:     ReasonRateLimited,
			RetryAfter: rl.RetryAfter(v.now()),
			RateLimit:  rl,
		}, nil
	}

	if !hasToken {
		return v.unauthorized(ReasonMissingHeader, rl), nil
	}

	// Structural check before any store or hasher work. This is a
	// correctness gate against obviously bogus input, not a secrecy
	// check; it keeps garbage from burning a bcrypt comparison.
	if !apikey.ValidFormat(token) {
		return v.unauthorized(ReasonMalformed, rl), nil
	}

	prefix := apikey.Prefix(token)

	candidates, err := retryOnce(ctx, func() ([]model.APIKey, error) {
		return v.keys.FindByPrefix(ctx, prefix)
	})
	if err != nil {
		return &Result{RateLimit: rl}, fmt.Errorf("key lookup: %w", err)
	}

	if len(candidates) == 0 {
		// Burn one full-cost comparison so a prefix miss costs the same
		// as a found-but-mismatched hash.
		v.hasher.VerifyDummy(token)
		return v.unauthorized(ReasonNotFound, rl), nil
	}

	// Prefixes are not unique; try every candidate. The comparisons run
	// to completion even if the caller has gone away - aborting early
	// would reintroduce the timing signal the dummy hash closes.
	var matched *model.APIKey
	for i := range candidates {
		if v.hasher.Verify(token, candidates[i].KeyHash) {
			matched = &candidates[i]
			break
		}
	}
	if matched == nil {
		return v.unauthorized(ReasonInvalid, rl), nil
	}

	if matched.Revoked() {
		return v.unauthorized(ReasonRevoked, rl), nil
	}
	if matched.Expired(v.now()) {
		return v.unauthorized(ReasonExpired, rl), nil
	}

	user, err := retryOnce(ctx, func() (*model.User, error) {
		u, err := v.users.GetUser(ctx, matched.UserID)
		if errors.Is(err, store.ErrNotFound) {
			// An orphaned key is a credential problem, not an outage.
			return nil, errNoUser
		}
		return u, err
	})
	if err != nil {
		if errors.Is(err, errNoUser) {
			return v.unauthorized(ReasonInvalid, rl), nil
		}
		return &Result{RateLimit: rl}, fmt.Errorf("user lookup: %w", err)
	}
	if !user.IsActive {
		return v.unauthorized(ReasonInvalid, rl), nil
	}

	ents, err := retryOnce(ctx, func() (*entitlement.Entitlements, error) {
		return v.resolver.Resolve(ctx, user.ID)
	})
	if err != nil {
		return &Result{RateLimit: rl}, fmt.Errorf("entitlement resolution: %w", err)
	}

	// Best effort; a failed stamp never fails the verification.
	go v.touchLastUsed(matched.ID)

	return &Result{
		Status:       StatusAuthorized,
		User:         user,
		Entitlements: ents,
		RateLimit:    rl,
	}, nil
}

var errNoUser = errors.New("key owner not found")

func (v *Verifier) unauthorized(reason Reason, rl ratelimit.Result) *Result {
	return &Result{
		Status:    StatusUnauthorized,
		Reason:    reason,
		RateLimit: rl,
	}
}

// touchLastUsed stamps the key's last-used time on a detached context so a
// caller disconnect doesn't cancel the write.
func (v *Verifier) touchLastUsed(keyID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := v.keys.TouchLastUsed(ctx, keyID); err != nil {
		v.logger.Warn("failed to update key last_used_at", "key_id", keyID, "error", err)
	}
}

// bearerToken extracts the credential from an Authorization header using
// the Bearer scheme. The second return is false for a missing or
// differently-schemed header.
func bearerToken(header string) (string, bool) {
	const scheme = "Bearer "
	if len(header) <= len(scheme) || !strings.EqualFold(header[:len(scheme)], scheme) {
		return "", false
	}
	token := header[len(scheme):]
	if token == "" {
		return "", false
	}
	return token, true
}

// retryOnce runs an idempotent lookup, retrying a single time after a
// short backoff. Non-idempotent operations must not go through here.
func retryOnce[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	v, err := fn()
	if err == nil || errors.Is(err, errNoUser) {
		return v, err
	}
	select {
	case <-time.After(retryBackoff):
	case <-ctx.Done():
		return v, ctx.Err()
	}
	return fn()
}
