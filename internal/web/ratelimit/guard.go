package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// FallbackMode selects what the Guard does when no remote limiter is
// configured or the remote limiter fails
type FallbackMode int

const (
	// FallbackOpen lets every request through (the default)
	FallbackOpen FallbackMode = iota
	// FallbackMemory enforces the policy with the process-local limiter
	FallbackMemory
)

// ParseFallbackMode resolves "open" or "memory"
func ParseFallbackMode(s string) (FallbackMode, error) {
	switch s {
	case "", "open":
		return FallbackOpen, nil
	case "memory":
		return FallbackMemory, nil
	default:
		return FallbackOpen, fmt.Errorf("unknown rate limit fallback %q", s)
	}
}

// Source records which backend produced a decision
type Source string

const (
	SourceRemote    Source = "remote"
	SourceMemory    Source = "memory"
	SourceWhitelist Source = "whitelist"
	SourceNone      Source = "none"
)

// ErrNotConfigured is the degradation reason when no remote store is set up
var ErrNotConfigured = errors.New("remote store not configured")

// Decision is the answer to "may key proceed under category's policy?"
type Decision struct {
	Outcome  Outcome
	Source   Source
	Category Category
	// Key is the namespaced key the limiter counted against
	Key    string
	Result Result
	// Reason explains an OutcomeDegraded decision
	Reason error
}

// Allowed reports whether the request may proceed; degraded decisions allow
func (d Decision) Allowed() bool {
	return d.Outcome != OutcomeDenied
}

// Degraded reports whether the limiter failed open
func (d Decision) Degraded() bool {
	return d.Outcome == OutcomeDegraded
}

// GuardConfig holds the dependencies of a Guard
type GuardConfig struct {
	// Policies is the category table; the zero value means DefaultPolicies
	Policies Policies
	// Remote is the shared limiter; nil means not configured
	Remote Limiter
	// Local is the process-local limiter used by CheckLocal and FallbackMemory
	Local *MemoryLimiter
	// Fallback selects the degraded behavior
	Fallback FallbackMode
	// Whitelist holds exempt keys; nil means none
	Whitelist *Whitelist
	// Prefix namespaces every key
	Prefix string
	// Logger receives degradation and denial warnings
	Logger *zap.Logger
	// Now is the clock for degraded results; nil means time.Now
	Now func() time.Time
}

// Guard applies named policies to request keys
type Guard struct {
	policies  Policies
	remote    Limiter
	local     *MemoryLimiter
	fallback  FallbackMode
	whitelist *Whitelist
	prefix    string
	logger    *zap.Logger
	now       func() time.Time
	ownsLocal bool
}

// NewGuard creates a Guard. A local limiter is created when none is given.
func NewGuard(config GuardConfig) *Guard {
	g := &Guard{
		policies:  config.Policies,
		remote:    config.Remote,
		local:     config.Local,
		fallback:  config.Fallback,
		whitelist: config.Whitelist,
		prefix:    config.Prefix,
		logger:    config.Logger,
		now:       config.Now,
	}
	if g.policies.table == nil {
		g.policies = DefaultPolicies()
	}
	if g.local == nil {
		g.local = NewMemoryLimiter()
		g.ownsLocal = true
	}
	if g.whitelist == nil {
		g.whitelist = NewWhitelist()
	}
	if g.logger == nil {
		g.logger = zap.NewNop()
	}
	if g.now == nil {
		g.now = time.Now
	}
	return g
}

// Policies returns the category table
func (g *Guard) Policies() Policies {
	return g.policies
}

// Whitelist returns the exempt key set
func (g *Guard) Whitelist() *Whitelist {
	return g.whitelist
}

// RemoteConfigured reports whether a shared limiter is in use
func (g *Guard) RemoteConfigured() bool {
	return g.remote != nil
}

// Apply decides whether key may proceed under category's policy. The
// optional identifier narrows the key further (for example a route or a
// resource id). Infrastructure failures never surface as errors; they yield
// OutcomeDegraded, or a local decision under FallbackMemory.
func (g *Guard) Apply(ctx context.Context, category Category, key string, identifier ...string) Decision {
	fullKey := g.namespacedKey(category, key, identifier)

	policy, ok := g.policies.Lookup(category)
	if !ok {
		g.logger.Error("rate limit policy missing, allowing request",
			zap.Stringer("category", category))
		return Decision{
			Outcome:  OutcomeDegraded,
			Source:   SourceNone,
			Category: category,
			Key:      fullKey,
			Reason:   fmt.Errorf("%w: %s", ErrUnknownCategory, category),
		}
	}

	if g.whitelist.Contains(fullKey, key) {
		return Decision{
			Outcome:  OutcomeAllowed,
			Source:   SourceWhitelist,
			Category: category,
			Key:      fullKey,
			Result:   Result{Limit: policy.Max, Remaining: policy.Max, Allowed: true},
		}
	}

	if g.remote == nil {
		g.logger.Warn("rate limiter remote store not configured",
			zap.Stringer("category", category))
		return g.degrade(category, fullKey, policy, ErrNotConfigured)
	}

	res, err := g.remote.Allow(ctx, fullKey, policy)
	if err != nil {
		g.logger.Error("rate limit check failed",
			zap.Stringer("category", category),
			zap.String("key", logKey(fullKey)),
			zap.Error(err))
		return g.degrade(category, fullKey, policy, err)
	}

	return g.decide(category, fullKey, SourceRemote, *res)
}

// CheckLocal decides with the process-local limiter only. It suits
// high-frequency checks where a remote round trip is not worth it.
func (g *Guard) CheckLocal(category Category, key string, identifier ...string) Decision {
	fullKey := g.namespacedKey(category, key, identifier)

	policy, ok := g.policies.Lookup(category)
	if !ok {
		return Decision{
			Outcome:  OutcomeDegraded,
			Source:   SourceNone,
			Category: category,
			Key:      fullKey,
			Reason:   fmt.Errorf("%w: %s", ErrUnknownCategory, category),
		}
	}
	if g.whitelist.Contains(fullKey, key) {
		return Decision{
			Outcome:  OutcomeAllowed,
			Source:   SourceWhitelist,
			Category: category,
			Key:      fullKey,
			Result:   Result{Limit: policy.Max, Remaining: policy.Max, Allowed: true},
		}
	}

	res := g.local.Check(fullKey, policy.Max, policy.Window)
	return g.decide(category, fullKey, SourceMemory, res)
}

// Close stops the local limiter if the Guard created it
func (g *Guard) Close() error {
	if g.ownsLocal {
		return g.local.Close()
	}
	return nil
}

func (g *Guard) degrade(category Category, fullKey string, policy Policy, reason error) Decision {
	if g.fallback == FallbackMemory {
		res := g.local.Check(fullKey, policy.Max, policy.Window)
		d := g.decide(category, fullKey, SourceMemory, res)
		d.Reason = reason
		return d
	}

	return Decision{
		Outcome:  OutcomeDegraded,
		Source:   SourceNone,
		Category: category,
		Key:      fullKey,
		Result: Result{
			Limit:     policy.Max,
			Remaining: policy.Max,
			ResetAt:   g.now().Add(policy.Window),
			Allowed:   true,
		},
		Reason: reason,
	}
}

func (g *Guard) decide(category Category, fullKey string, source Source, res Result) Decision {
	d := Decision{
		Outcome:  OutcomeAllowed,
		Source:   source,
		Category: category,
		Key:      fullKey,
		Result:   res,
	}
	if !res.Allowed {
		d.Outcome = OutcomeDenied
		g.logger.Warn("rate limit exceeded",
			zap.Stringer("category", category),
			zap.String("key", logKey(fullKey)),
			zap.String("source", string(source)),
			zap.Time("reset_at", res.ResetAt))
	}
	return d
}

func (g *Guard) namespacedKey(category Category, key string, identifier []string) string {
	k := category.String() + ":" + key
	if g.prefix != "" {
		k = g.prefix + ":" + k
	}
	for _, id := range identifier {
		if id != "" {
			k += ":" + id
		}
	}
	return SanitizeKey(k)
}

type guardContextKey struct{}

// NewContext returns a copy of ctx carrying g
func NewContext(ctx context.Context, g *Guard) context.Context {
	return context.WithValue(ctx, guardContextKey{}, g)
}

// FromContext returns the Guard stored in ctx, if any
func FromContext(ctx context.Context) (*Guard, bool) {
	g, ok := ctx.Value(guardContextKey{}).(*Guard)
	return g, ok
}
