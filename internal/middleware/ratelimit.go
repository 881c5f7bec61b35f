// AngelaMos | 2026
// ratelimit.go

package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	redis_rate "github.com/go-redis/redis_rate/v10"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/storywork/storywork-api/internal/core"
)

type RateLimitConfig struct {
	Limit      redis_rate.Limit
	KeyFunc    func(*http.Request) string
	FailOpen   bool
	BypassFunc func(*http.Request) bool
	OnLimited  func(http.ResponseWriter, *http.Request, *redis_rate.Result)
}

type RateLimiter struct {
	store  *limitStore
	config RateLimitConfig
}

func NewRateLimiter(rdb *redis.Client, cfg RateLimitConfig) *RateLimiter {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = KeyByIP
	}
	if cfg.OnLimited == nil {
		cfg.OnLimited = writeRateLimitExceeded
	}

	return &RateLimiter{
		store:  newLimitStore(rdb),
		config: cfg,
	}
}

func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.config.BypassFunc != nil && rl.config.BypassFunc(r) {
			next.ServeHTTP(w, r)
			return
		}

		key := rl.config.KeyFunc(r)
		res, err := rl.store.allow(r.Context(), key, rl.config.Limit)
		if err != nil {
			if rl.config.FailOpen {
				slog.Warn("rate limiter error, failing open",
					"error", err,
					"key", key,
				)
				next.ServeHTTP(w, r)
				return
			}
			core.ErrorMessage(w, http.StatusServiceUnavailable, "Rate limiter unavailable", nil)
			return
		}

		setRateLimitHeaders(w, res)
		if res.Allowed == 0 {
			rl.config.OnLimited(w, r, res)
			return
		}

		next.ServeHTTP(w, r)
	})
}

type TierConfig struct {
	RequestsPerMinute int
	BurstSize         int
}

const unsubscribedTier = "none"

// GenerationTiers bounds calls to the AI endpoints per subscription tier.
// Accounts without a subscription fall back to unsubscribedTier.
var GenerationTiers = map[string]TierConfig{
	unsubscribedTier: {RequestsPerMinute: 5, BurstSize: 2},
	"starter":        {RequestsPerMinute: 10, BurstSize: 3},
	"pro":            {RequestsPerMinute: 30, BurstSize: 10},
	"team":           {RequestsPerMinute: 120, BurstSize: 30},
}

// TieredRateLimiter must run after ResolveAccount, which puts the account
// tier in the context. Unknown tiers are limited as unsubscribed. It
// always fails open because the local fallback cannot error for a valid
// tier table.
func TieredRateLimiter(
	rdb *redis.Client,
	tiers map[string]TierConfig,
) func(http.Handler) http.Handler {
	store := newLimitStore(rdb)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tier, limit := tierLimit(tiers, GetAccountTier(r.Context()))
			key := KeyByUser(r) + ":tier:" + tier

			w.Header().Set("X-RateLimit-Tier", tier)

			res, err := store.allow(r.Context(), key, limit)
			if err != nil {
				slog.Warn("tiered rate limiter error, failing open",
					"error", err,
					"tier", tier,
				)
				next.ServeHTTP(w, r)
				return
			}

			setRateLimitHeaders(w, res)
			if res.Allowed == 0 {
				writeRateLimitExceeded(w, r, res)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func tierLimit(tiers map[string]TierConfig, tier string) (string, redis_rate.Limit) {
	cfg, ok := tiers[tier]
	if tier == "" || !ok {
		tier = unsubscribedTier
		cfg = tiers[unsubscribedTier]
	}
	return tier, PerMinute(cfg.RequestsPerMinute, cfg.BurstSize)
}

func PerMinute(rate, burst int) redis_rate.Limit {
	return redis_rate.Limit{Rate: rate, Burst: burst, Period: time.Minute}
}

func PerHour(rate, burst int) redis_rate.Limit {
	return redis_rate.Limit{Rate: rate, Burst: burst, Period: time.Hour}
}

func KeyByIP(r *http.Request) string {
	return "ratelimit:ip:" + clientIP(r)
}

// clientIP trusts the last X-Forwarded-For hop, the one appended by our
// own proxy.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		return strings.TrimSpace(hops[len(hops)-1])
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func KeyByUser(r *http.Request) string {
	if accountID := GetAccountID(r.Context()); accountID != "" {
		return "ratelimit:user:" + accountID
	}
	if identity := GetIdentity(r.Context()); identity != nil {
		return "ratelimit:identity:" + identity.ExternalID
	}
	return KeyByIP(r)
}

func KeyByUserAndEndpoint(r *http.Request) string {
	return KeyByUser(r) + ":endpoint:" + normalizeEndpoint(r.URL.Path)
}

// normalizeEndpoint collapses uuid and numeric path segments so every
// story or reservation shares one bucket per route.
func normalizeEndpoint(path string) string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for i, segment := range segments {
		if uuid.Validate(segment) == nil {
			segments[i] = "{id}"
			continue
		}
		if _, err := strconv.ParseUint(segment, 10, 64); err == nil {
			segments[i] = "{id}"
		}
	}
	return "/" + strings.Join(segments, "/")
}

func setRateLimitHeaders(w http.ResponseWriter, res *redis_rate.Result) {
	h := w.Header()
	limit := res.Limit

	h.Set("X-RateLimit-Limit", strconv.Itoa(limit.Rate))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(
		time.Now().Add(res.ResetAfter).Unix(), 10))
	h.Set("RateLimit-Policy", fmt.Sprintf("%d;w=%d", limit.Rate, int(limit.Period.Seconds())))
	h.Set("RateLimit", fmt.Sprintf("%d;t=%d", res.Remaining, int(res.ResetAfter.Seconds())))
}

func writeRateLimitExceeded(w http.ResponseWriter, _ *http.Request, res *redis_rate.Result) {
	retryAfter := int(res.RetryAfter.Seconds())
	if retryAfter < 1 {
		retryAfter = 1
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	core.ErrorMessage(w, http.StatusTooManyRequests, "Too many requests", map[string]any{
		"retryAfter": retryAfter,
	})
}

// limitStore counts in redis and drops to a per-process token bucket
// while redis is unreachable.
type limitStore struct {
	redis *redis_rate.Limiter
	local *localLimiter
}

func newLimitStore(rdb *redis.Client) *limitStore {
	return &limitStore{
		redis: redis_rate.NewLimiter(rdb),
		local: newLocalLimiter(),
	}
}

func (s *limitStore) allow(
	ctx context.Context,
	key string,
	limit redis_rate.Limit,
) (*redis_rate.Result, error) {
	res, err := s.redis.Allow(ctx, key, limit)
	if err == nil {
		return res, nil
	}

	slog.Debug("redis rate limiter unavailable, using local bucket",
		"error", err,
		"key", key,
	)
	return s.local.allow(key, limit, time.Now())
}

var errInvalidLimit = errors.New("rate limit must have a positive rate and period")

const (
	sweepInterval = 5 * time.Minute
	entryTTL      = 10 * time.Minute
)

type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

type localLimiter struct {
	mu        sync.Mutex
	entries   map[string]*limiterEntry
	lastSweep time.Time
}

func newLocalLimiter() *localLimiter {
	return &localLimiter{
		entries:   make(map[string]*limiterEntry),
		lastSweep: time.Now(),
	}
}

func (l *localLimiter) allow(
	key string,
	limit redis_rate.Limit,
	now time.Time,
) (*redis_rate.Result, error) {
	if limit.Rate <= 0 || limit.Period <= 0 {
		return nil, errInvalidLimit
	}
	every := limit.Period / time.Duration(limit.Rate)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweep(now)

	entry, ok := l.entries[key]
	if !ok {
		entry = &limiterEntry{
			limiter: rate.NewLimiter(rate.Every(every), max(limit.Burst, 1)),
		}
		l.entries[key] = entry
	}
	entry.lastAccess = now

	res := &redis_rate.Result{
		Limit:      limit,
		RetryAfter: -1,
		ResetAfter: every,
	}
	if entry.limiter.AllowN(now, 1) {
		res.Allowed = 1
	} else {
		res.RetryAfter = every
	}
	res.Remaining = max(int(entry.limiter.TokensAt(now)), 0)

	return res, nil
}

// sweep drops idle buckets. Callers hold l.mu.
func (l *localLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < sweepInterval {
		return
	}
	l.lastSweep = now

	for key, entry := range l.entries {
		if now.Sub(entry.lastAccess) > entryTTL {
			delete(l.entries, key)
		}
	}
}
