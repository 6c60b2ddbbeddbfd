// middleware.go: Cross-cutting middleware chain for routed operations
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package hostkit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agilira/go-timecache"
)

// AfterHook runs after the handler, regardless of its outcome. Hooks see
// the final response and error; they cannot change either. A panicking
// hook is recovered and logged so one misbehaving hook never breaks the
// response path.
type AfterHook func(ctx context.Context, req Request, resp Response, err error)

// OperationEvent describes one completed routed call, published after the
// response is final. Consumers bridge events to whatever message bus the
// hosting process uses.
type OperationEvent struct {
	Operation     string        `json:"operation"`
	CorrelationID string        `json:"correlation_id"`
	Principal     string        `json:"principal,omitempty"`
	Outcome       string        `json:"outcome"`
	ErrorCode     string        `json:"error_code,omitempty"`
	Duration      time.Duration `json:"duration"`
	Timestamp     time.Time     `json:"timestamp"`
}

// EventPublisher receives an OperationEvent per completed call. Publish
// failures are logged and never affect the response.
type EventPublisher interface {
	Publish(ctx context.Context, event OperationEvent) error
}

// NoOpEventPublisher discards events.
type NoOpEventPublisher struct{}

// Publish implements EventPublisher.
func (NoOpEventPublisher) Publish(context.Context, OperationEvent) error { return nil }

// RateLimitPolicy bounds request throughput for one operation.
type RateLimitPolicy struct {
	// PerSecond is the sustained refill rate.
	PerSecond float64 `json:"per_second" yaml:"per_second"`

	// Burst is the bucket capacity. Zero defaults to ceil(PerSecond).
	Burst int `json:"burst" yaml:"burst"`
}

// MiddlewareConfig selects which chain stages apply to an operation.
// The stage order itself is fixed: authentication, rate limiting, cache
// lookup, tracing, metrics, handler, then after hooks. Configuration
// only toggles stages on or off, never reorders them.
type MiddlewareConfig struct {
	// AuthRequired rejects requests with an empty principal.
	AuthRequired bool `json:"auth_required,omitempty" yaml:"auth_required,omitempty"`

	// AllowedPrincipals restricts who may invoke the operation. Empty
	// means any authenticated principal. Implies AuthRequired.
	AllowedPrincipals []string `json:"allowed_principals,omitempty" yaml:"allowed_principals,omitempty"`

	// RateLimit enables the rate limiting stage.
	RateLimit *RateLimitPolicy `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`

	// CacheTTL enables response caching for successful responses. Zero
	// disables the cache stage.
	CacheTTL time.Duration `json:"cache_ttl,omitempty" yaml:"cache_ttl,omitempty"`

	// DisableTracing opts the operation out of span creation.
	DisableTracing bool `json:"disable_tracing,omitempty" yaml:"disable_tracing,omitempty"`

	// DisableMetrics opts the operation out of metric recording.
	DisableMetrics bool `json:"disable_metrics,omitempty" yaml:"disable_metrics,omitempty"`

	// DisableEvents opts the operation out of event publication.
	DisableEvents bool `json:"disable_events,omitempty" yaml:"disable_events,omitempty"`

	// After lists hooks run after the handler completes or fails.
	After []AfterHook `json:"-" yaml:"-"`
}

// Chain stage names, used in rejection errors and metrics labels.
const (
	StageAuth      = "auth"
	StageRateLimit = "rate_limit"
	StageCache     = "cache"
	StageHandler   = "handler"
)

// MiddlewareChain executes the fixed cross-cutting stages around every
// routed operation. One chain instance serves a whole catalog; per
// operation state (rate buckets, cache entries) is keyed by operation
// name.
type MiddlewareChain struct {
	logger    Logger
	metrics   MetricsCollector
	tracer    TracingProvider
	publisher EventPublisher

	mu       sync.Mutex
	limiters map[string]*tokenBucket

	cache CacheStore
}

// NewMiddlewareChain creates a chain. A nil metrics collector or tracer
// falls back to the no-op implementation.
func NewMiddlewareChain(logger any, metrics MetricsCollector, tracer TracingProvider) *MiddlewareChain {
	if metrics == nil {
		metrics = NoOpMetricsCollector{}
	}
	if tracer == nil {
		tracer = NoOpTracingProvider{}
	}
	return &MiddlewareChain{
		logger:    NewLogger(logger),
		metrics:   metrics,
		tracer:    tracer,
		publisher: NoOpEventPublisher{},
		limiters:  make(map[string]*tokenBucket),
		cache:     newResponseCache(),
	}
}

// SetCacheStore replaces the response cache backing store. Nil restores
// the in-memory default. Must be set before the chain serves traffic.
func (c *MiddlewareChain) SetCacheStore(store CacheStore) {
	if store == nil {
		store = newResponseCache()
	}
	c.cache = store
}

// SetEventPublisher installs the publisher that receives an event per
// completed call. Nil restores the no-op default. Must be set before the
// chain serves traffic.
func (c *MiddlewareChain) SetEventPublisher(publisher EventPublisher) {
	if publisher == nil {
		publisher = NoOpEventPublisher{}
	}
	c.publisher = publisher
}

// Execute runs the request through the stages configured for the
// operation.
//
// A rejection from auth or rate limiting short-circuits: later stages and
// the handler never run, and the error is a structured MiddlewareRejection
// naming the stage. A cache hit also short-circuits, returning the stored
// response with FromCache set. After hooks run whenever the handler ran,
// on success and on failure alike.
func (c *MiddlewareChain) Execute(ctx context.Context, spec *OperationSpec, req Request) (Response, error) {
	cfg := spec.Middleware
	started := timecache.CachedTime()

	if err := c.authorize(cfg, req); err != nil {
		c.recordRejection(cfg, spec.Name, StageAuth)
		return Response{CorrelationID: req.CorrelationID, Err: err}, err
	}

	if cfg.RateLimit != nil {
		if !c.limiterFor(spec.Name, cfg.RateLimit).allow() {
			err := NewRateLimitExceededError(spec.Name, cfg.RateLimit.PerSecond)
			c.recordRejection(cfg, spec.Name, StageRateLimit)
			return Response{CorrelationID: req.CorrelationID, Err: err}, err
		}
	}

	cacheKey := ""
	if cfg.CacheTTL > 0 {
		cacheKey = responseCacheKey(req)
		if cached, hit := c.cache.Get(spec.Name, cacheKey); hit {
			if !cfg.DisableMetrics {
				c.metrics.IncrementCounter("hostkit_cache_hits_total",
					map[string]string{"operation": spec.Name}, 1)
			}
			cached.CorrelationID = req.CorrelationID
			cached.FromCache = true
			return cached, nil
		}
	}

	var span Span = noopSpan{}
	if !cfg.DisableTracing {
		ctx, span = c.tracer.StartSpan(ctx, spec.Name)
		span.SetAttribute("correlation_id", req.CorrelationID)
		if req.Principal != "" {
			span.SetAttribute("principal", req.Principal)
		}
	}

	resp, err := c.invokeHandler(ctx, spec, req)
	resp.CorrelationID = req.CorrelationID
	resp.Duration = time.Since(started)

	if err != nil {
		span.SetError(err)
	}
	span.Finish()

	if !cfg.DisableMetrics {
		outcome := "success"
		if err != nil {
			outcome = "error"
		}
		labels := map[string]string{"operation": spec.Name, "outcome": outcome}
		c.metrics.IncrementCounter("hostkit_requests_total", labels, 1)
		c.metrics.RecordDuration("hostkit_request_duration",
			map[string]string{"operation": spec.Name}, resp.Duration)
	}

	if err == nil && cfg.CacheTTL > 0 {
		c.cache.Put(spec.Name, cacheKey, resp, cfg.CacheTTL)
	}

	if !cfg.DisableEvents {
		c.publishEvent(ctx, spec.Name, req, resp, err)
	}

	c.runAfterHooks(ctx, cfg.After, req, resp, err)

	return resp, err
}

// publishEvent emits the completion event. Publisher failures and panics
// are logged and never reach the caller.
func (c *MiddlewareChain) publishEvent(ctx context.Context, operation string, req Request, resp Response, callErr error) {
	event := OperationEvent{
		Operation:     operation,
		CorrelationID: req.CorrelationID,
		Principal:     req.Principal,
		Outcome:       "success",
		Duration:      resp.Duration,
		Timestamp:     timecache.CachedTime(),
	}
	if callErr != nil {
		event.Outcome = "error"
		event.ErrorCode = ErrorCode(callErr)
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			c.logger.Error("Event publisher panicked",
				"operation", operation, "panic", recovered)
		}
	}()
	if err := c.publisher.Publish(ctx, event); err != nil {
		c.logger.Warn("Event publication failed",
			"operation", operation,
			"correlation_id", req.CorrelationID,
			"error", err)
	}
}

// authorize implements the authentication stage.
func (c *MiddlewareChain) authorize(cfg MiddlewareConfig, req Request) error {
	required := cfg.AuthRequired || len(cfg.AllowedPrincipals) > 0
	if !required {
		return nil
	}

	if req.Principal == "" {
		return NewMiddlewareRejectionError(req.Operation, StageAuth, "missing principal")
	}

	if len(cfg.AllowedPrincipals) > 0 {
		for _, allowed := range cfg.AllowedPrincipals {
			if allowed == req.Principal {
				return nil
			}
		}
		return NewMiddlewareRejectionError(req.Operation, StageAuth, "principal not permitted")
	}
	return nil
}

// invokeHandler runs the handler with panic containment. A panicking
// handler becomes a HandlerError; it never unwinds into the caller.
func (c *MiddlewareChain) invokeHandler(ctx context.Context, spec *OperationSpec, req Request) (resp Response, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = NewHandlerError(spec.Name, fmt.Errorf("handler panic: %v", recovered))
			resp = Response{Err: err}
			c.logger.Error("Handler panicked",
				"operation", spec.Name,
				"correlation_id", req.CorrelationID,
				"panic", recovered)
		}
	}()

	resp, err = spec.Handler(ctx, req)
	if err != nil {
		wrapped := NewHandlerError(spec.Name, err)
		resp.Err = wrapped
		return resp, wrapped
	}
	return resp, nil
}

func (c *MiddlewareChain) runAfterHooks(ctx context.Context, hooks []AfterHook, req Request, resp Response, err error) {
	for i, hook := range hooks {
		func() {
			defer func() {
				if recovered := recover(); recovered != nil {
					c.logger.Error("After hook panicked",
						"operation", req.Operation,
						"hook_index", i,
						"panic", recovered)
				}
			}()
			hook(ctx, req, resp, err)
		}()
	}
}

func (c *MiddlewareChain) recordRejection(cfg MiddlewareConfig, operation, stage string) {
	if cfg.DisableMetrics {
		return
	}
	c.metrics.IncrementCounter("hostkit_rejections_total",
		map[string]string{"operation": operation, "stage": stage}, 1)
}

func (c *MiddlewareChain) limiterFor(operation string, policy *RateLimitPolicy) *tokenBucket {
	c.mu.Lock()
	defer c.mu.Unlock()

	bucket, exists := c.limiters[operation]
	if !exists {
		bucket = newTokenBucket(policy.PerSecond, policy.Burst)
		c.limiters[operation] = bucket
	}
	return bucket
}

// forgetOperation drops per-operation chain state when an operation is
// deregistered.
func (c *MiddlewareChain) forgetOperation(operation string) {
	c.mu.Lock()
	delete(c.limiters, operation)
	c.mu.Unlock()
	c.cache.Drop(operation)
}

// tokenBucket is a classic refill-on-demand rate limiter.
type tokenBucket struct {
	mu         sync.Mutex
	perSecond  float64
	capacity   float64
	tokens     float64
	lastRefill time.Time
}

func newTokenBucket(perSecond float64, burst int) *tokenBucket {
	capacity := float64(burst)
	if capacity <= 0 {
		capacity = perSecond
		if capacity < 1 {
			capacity = 1
		}
	}
	return &tokenBucket{
		perSecond:  perSecond,
		capacity:   capacity,
		tokens:     capacity,
		lastRefill: timecache.CachedTime(),
	}
}

func (b *tokenBucket) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := timecache.CachedTime()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.perSecond
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
		b.lastRefill = now
	}

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// CacheStore is the backing store for the cache stage. The default is
// the in-memory TTL store below; hosts can swap in a shared backend.
// Implementations must be safe for concurrent use; failures should be
// reported as misses, never as errors.
type CacheStore interface {
	Get(operation, key string) (Response, bool)
	Put(operation, key string, resp Response, ttl time.Duration)
	Drop(operation string)
}

// responseCache stores successful responses per operation with TTL
// expiry. Entries are checked lazily on read; Drop removes a whole
// operation when it deregisters.
type responseCache struct {
	mu      sync.RWMutex
	entries map[string]map[string]cacheEntry
}

type cacheEntry struct {
	response  Response
	expiresAt time.Time
}

func newResponseCache() *responseCache {
	return &responseCache{entries: make(map[string]map[string]cacheEntry)}
}

func (rc *responseCache) Get(operation, key string) (Response, bool) {
	rc.mu.RLock()
	entry, exists := rc.entries[operation][key]
	rc.mu.RUnlock()

	if !exists {
		return Response{}, false
	}
	if timecache.CachedTime().After(entry.expiresAt) {
		rc.mu.Lock()
		delete(rc.entries[operation], key)
		rc.mu.Unlock()
		return Response{}, false
	}
	return entry.response, true
}

func (rc *responseCache) Put(operation, key string, resp Response, ttl time.Duration) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.entries[operation] == nil {
		rc.entries[operation] = make(map[string]cacheEntry)
	}
	rc.entries[operation][key] = cacheEntry{
		response:  resp,
		expiresAt: timecache.CachedTime().Add(ttl),
	}
}

func (rc *responseCache) Drop(operation string) {
	rc.mu.Lock()
	delete(rc.entries, operation)
	rc.mu.Unlock()
}

// responseCacheKey derives the cache identity of a request: the payload
// and principal, but not the correlation ID, which is unique per call.
func responseCacheKey(req Request) string {
	return fmt.Sprintf("%s|%v", req.Principal, req.Payload)
}
