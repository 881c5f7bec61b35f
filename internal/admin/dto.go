// AngelaMos | 2026
// dto.go

package admin

import (
	"time"
)

type SystemStatsResponse struct {
	Database     DatabaseStatus `json:"database"`
	Redis        RedisStatus    `json:"redis"`
	Runtime      RuntimeStats   `json:"runtime"`
	Integrations Integrations   `json:"integrations"`
	Ledger       *LedgerSummary `json:"ledger,omitempty"`
}

type LedgerStatsResponse struct {
	Summary *LedgerSummary `json:"summary"`
	Stories *StoryCounts   `json:"stories"`
	Window  string         `json:"window"`
	Since   time.Time      `json:"since"`
	Volume  []SourceVolume `json:"volume"`
}

type DatabaseStatus struct {
	Healthy bool         `json:"healthy"`
	Stats   *DBPoolStats `json:"stats,omitempty"`
}

type RedisStatus struct {
	Healthy bool            `json:"healthy"`
	Stats   *RedisPoolStats `json:"stats,omitempty"`
}

type DBPoolStats struct {
	MaxOpenConnections int    `json:"max_open_connections"`
	OpenConnections    int    `json:"open_connections"`
	InUse              int    `json:"in_use"`
	Idle               int    `json:"idle"`
	WaitCount          int64  `json:"wait_count"`
	WaitDuration       string `json:"wait_duration"`
	MaxIdleClosed      int64  `json:"max_idle_closed"`
	MaxLifetimeClosed  int64  `json:"max_lifetime_closed"`
}

type RedisPoolStats struct {
	Hits       uint32 `json:"hits"`
	Misses     uint32 `json:"misses"`
	Timeouts   uint32 `json:"timeouts"`
	TotalConns uint32 `json:"total_conns"`
	IdleConns  uint32 `json:"idle_conns"`
}

type RuntimeStats struct {
	GoVersion    string `json:"go_version"`
	NumGoroutine int    `json:"num_goroutine"`
	NumCPU       int    `json:"num_cpu"`
	MemAlloc     uint64 `json:"mem_alloc_bytes"`
	MemSys       uint64 `json:"mem_sys_bytes"`
	NumGC        uint32 `json:"num_gc"`
}
