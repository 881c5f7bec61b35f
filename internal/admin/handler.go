// AngelaMos | 2026
// handler.go

package admin

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/storywork/storywork-api/internal/core"
)

const (
	defaultVolumeWindow = 24 * time.Hour
	maxVolumeWindow     = 30 * 24 * time.Hour
)

// Integrations reports which outside services this instance can reach.
type Integrations struct {
	Portal  bool `json:"asm_portal"`
	AI      bool `json:"ai"`
	Billing bool `json:"billing"`
}

type Handler struct {
	dbStats      func() sql.DBStats
	redisStats   func() *redis.PoolStats
	redisPing    func(ctx context.Context) error
	dbPing       func(ctx context.Context) error
	ledger       LedgerStats
	integrations Integrations
	now          func() time.Time
	logger       *slog.Logger
}

type HandlerConfig struct {
	DBStats      func() sql.DBStats
	RedisStats   func() *redis.PoolStats
	RedisPing    func(ctx context.Context) error
	DBPing       func(ctx context.Context) error
	Ledger       LedgerStats
	Integrations Integrations
	Logger       *slog.Logger
}

func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Handler{
		dbStats:      cfg.DBStats,
		redisStats:   cfg.RedisStats,
		redisPing:    cfg.RedisPing,
		dbPing:       cfg.DBPing,
		ledger:       cfg.Ledger,
		integrations: cfg.Integrations,
		now:          time.Now,
		logger:       cfg.Logger,
	}
}

func (h *Handler) RegisterRoutes(
	r chi.Router,
	authenticator, adminOnly func(http.Handler) http.Handler,
) {
	r.Route("/admin/stats", func(r chi.Router) {
		r.Use(authenticator)
		r.Use(adminOnly)

		r.Get("/", h.GetSystemStats)
		r.Get("/db", h.GetDatabaseStats)
		r.Get("/redis", h.GetRedisStats)
		r.Get("/runtime", h.GetRuntimeStats)
		r.Get("/ledger", h.GetLedgerStats)
	})
}

func (h *Handler) GetSystemStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	response := SystemStatsResponse{
		Database: DatabaseStatus{
			Healthy: ping(ctx, h.dbPing),
			Stats:   h.getDBStats(),
		},
		Redis: RedisStatus{
			Healthy: ping(ctx, h.redisPing),
			Stats:   h.getRedisStats(),
		},
		Runtime:      readRuntimeStats(),
		Integrations: h.integrations,
	}

	if h.ledger != nil {
		summary, err := h.ledger.Summary(ctx)
		if err != nil {
			h.logger.Warn("ledger summary unavailable", "error", err)
		} else {
			response.Ledger = summary
		}
	}

	core.OK(w, response)
}

func (h *Handler) GetDatabaseStats(w http.ResponseWriter, _ *http.Request) {
	core.OK(w, h.getDBStats())
}

func (h *Handler) GetRedisStats(w http.ResponseWriter, _ *http.Request) {
	core.OK(w, h.getRedisStats())
}

func (h *Handler) GetRuntimeStats(w http.ResponseWriter, _ *http.Request) {
	core.OK(w, readRuntimeStats())
}

// GetLedgerStats reports balances, story counts and per-source volume over
// ?window= (a Go duration, default 24h, at most 30 days).
func (h *Handler) GetLedgerStats(w http.ResponseWriter, r *http.Request) {
	if h.ledger == nil {
		core.NotFound(w, "ledger stats")
		return
	}

	window := defaultVolumeWindow
	if raw := r.URL.Query().Get("window"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 || parsed > maxVolumeWindow {
			core.BadRequest(w, "window must be a positive duration of at most 720h")
			return
		}
		window = parsed
	}

	ctx := r.Context()
	since := h.now().Add(-window)

	summary, err := h.ledger.Summary(ctx)
	if err != nil {
		core.InternalServerError(w, err)
		return
	}

	volumes, err := h.ledger.VolumeBySource(ctx, since)
	if err != nil {
		core.InternalServerError(w, err)
		return
	}

	stories, err := h.ledger.Stories(ctx)
	if err != nil {
		core.InternalServerError(w, err)
		return
	}

	core.OK(w, LedgerStatsResponse{
		Summary: summary,
		Stories: stories,
		Window:  window.String(),
		Since:   since,
		Volume:  volumes,
	})
}

func ping(ctx context.Context, fn func(context.Context) error) bool {
	if fn == nil {
		return true
	}
	return fn(ctx) == nil
}

func readRuntimeStats() RuntimeStats {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return RuntimeStats{
		GoVersion:    runtime.Version(),
		NumGoroutine: runtime.NumGoroutine(),
		NumCPU:       runtime.NumCPU(),
		MemAlloc:     memStats.Alloc,
		MemSys:       memStats.Sys,
		NumGC:        memStats.NumGC,
	}
}

func (h *Handler) getDBStats() *DBPoolStats {
	if h.dbStats == nil {
		return nil
	}

	stats := h.dbStats()
	return &DBPoolStats{
		MaxOpenConnections: stats.MaxOpenConnections,
		OpenConnections:    stats.OpenConnections,
		InUse:              stats.InUse,
		Idle:               stats.Idle,
		WaitCount:          stats.WaitCount,
		WaitDuration:       stats.WaitDuration.String(),
		MaxIdleClosed:      stats.MaxIdleClosed,
		MaxLifetimeClosed:  stats.MaxLifetimeClosed,
	}
}

func (h *Handler) getRedisStats() *RedisPoolStats {
	if h.redisStats == nil {
		return nil
	}

	stats := h.redisStats()
	return &RedisPoolStats{
		Hits:       stats.Hits,
		Misses:     stats.Misses,
		Timeouts:   stats.Timeouts,
		TotalConns: stats.TotalConns,
		IdleConns:  stats.IdleConns,
	}
}
