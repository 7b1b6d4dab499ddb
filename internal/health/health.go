// Package health reports process and database health for the HLS engine.
package health

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
	"gorm.io/gorm"
)

// Handler serves the health check endpoint.
type Handler struct {
	version   string
	startTime time.Time
	db        *gorm.DB
}

// NewHandler creates a health Handler reporting the given version string.
// db may be nil, in which case database health reports "unknown".
func NewHandler(version string, db *gorm.DB) *Handler {
	return &Handler{version: version, startTime: time.Now(), db: db}
}

// Input is the input for the health check endpoint.
type Input struct{}

// Output is the output for the health check endpoint.
type Output struct {
	Body Response
}

// Response is the health check response body.
type Response struct {
	Status        string     `json:"status"`
	Timestamp     string     `json:"timestamp"`
	Version       string     `json:"version"`
	Uptime        string     `json:"uptime"`
	UptimeSeconds float64    `json:"uptime_seconds"`
	SystemLoad    float64    `json:"system_load"`
	CPU           CPUInfo    `json:"cpu_info"`
	Memory        MemoryInfo `json:"memory"`
	Database      DBHealth   `json:"database"`
}

// CPUInfo contains CPU load information.
type CPUInfo struct {
	Cores              int     `json:"cores"`
	Load1Min           float64 `json:"load_1min"`
	Load5Min           float64 `json:"load_5min"`
	Load15Min          float64 `json:"load_15min"`
	LoadPercentage1Min float64 `json:"load_percentage_1min"`
}

// MemoryInfo contains system and process memory usage.
type MemoryInfo struct {
	TotalMemoryMB     float64     `json:"total_memory_mb"`
	UsedMemoryMB      float64     `json:"used_memory_mb"`
	FreeMemoryMB      float64     `json:"free_memory_mb"`
	AvailableMemoryMB float64     `json:"available_memory_mb"`
	SwapUsedMB        float64     `json:"swap_used_mb"`
	SwapTotalMB       float64     `json:"swap_total_mb"`
	Process           ProcessInfo `json:"process"`
}

// ProcessInfo contains process-specific RSS memory information.
type ProcessInfo struct {
	RSSMemoryMB        float64 `json:"rss_memory_mb"`
	PercentageOfSystem float64 `json:"percentage_of_system"`
}

// DBHealth contains database connection pool and ping health.
type DBHealth struct {
	Status                 string  `json:"status"`
	ConnectionPoolSize     int     `json:"connection_pool_size"`
	ActiveConnections      int     `json:"active_connections"`
	IdleConnections        int     `json:"idle_connections"`
	PoolUtilizationPercent float64 `json:"pool_utilization_percent"`
	ResponseTimeMS         float64 `json:"response_time_ms"`
}

// Register registers the health route with the API.
func (h *Handler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/healthz",
		Summary:     "Health check",
		Description: "Returns process, memory, and database health for the engine",
		Tags:        []string{"System"},
	}, h.GetHealth)
}

// GetHealth returns the current health status.
func (h *Handler) GetHealth(ctx context.Context, _ *Input) (*Output, error) {
	now := time.Now()
	uptime := now.Sub(h.startTime)

	cpuInfo := getCPUInfo()
	memInfo := getMemoryInfo()
	dbHealth := h.getDatabaseHealth(ctx)

	status := "healthy"
	if dbHealth.Status == "error" {
		status = "degraded"
	}

	return &Output{
		Body: Response{
			Status:        status,
			Timestamp:     now.UTC().Format(time.RFC3339),
			Version:       h.version,
			Uptime:        uptime.Round(time.Second).String(),
			UptimeSeconds: uptime.Seconds(),
			SystemLoad:    cpuInfo.LoadPercentage1Min / 100,
			CPU:           cpuInfo,
			Memory:        memInfo,
			Database:      dbHealth,
		},
	}, nil
}

func getCPUInfo() CPUInfo {
	cores := runtime.NumCPU()
	info := CPUInfo{Cores: cores}

	loadAvg, err := load.Avg()
	if err == nil && loadAvg != nil {
		info.Load1Min = loadAvg.Load1
		info.Load5Min = loadAvg.Load5
		info.Load15Min = loadAvg.Load15
		if cores > 0 {
			info.LoadPercentage1Min = (loadAvg.Load1 / float64(cores)) * 100
		}
	}

	return info
}

func getMemoryInfo() MemoryInfo {
	info := MemoryInfo{}

	vmStat, err := mem.VirtualMemory()
	if err == nil && vmStat != nil {
		info.TotalMemoryMB = float64(vmStat.Total) / 1024 / 1024
		info.UsedMemoryMB = float64(vmStat.Used) / 1024 / 1024
		info.FreeMemoryMB = float64(vmStat.Free) / 1024 / 1024
		info.AvailableMemoryMB = float64(vmStat.Available) / 1024 / 1024
	}

	swapStat, err := mem.SwapMemory()
	if err == nil && swapStat != nil {
		info.SwapTotalMB = float64(swapStat.Total) / 1024 / 1024
		info.SwapUsedMB = float64(swapStat.Used) / 1024 / 1024
	}

	info.Process = getProcessInfo(info.TotalMemoryMB)
	return info
}

func getProcessInfo(totalSystemMB float64) ProcessInfo {
	info := ProcessInfo{}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return info
	}

	memInfo, err := proc.MemoryInfo()
	if err == nil && memInfo != nil {
		info.RSSMemoryMB = float64(memInfo.RSS) / 1024 / 1024
		if totalSystemMB > 0 {
			info.PercentageOfSystem = (info.RSSMemoryMB / totalSystemMB) * 100
		}
	}

	return info
}

func (h *Handler) getDatabaseHealth(ctx context.Context) DBHealth {
	health := DBHealth{Status: "ok"}

	if h.db == nil {
		health.Status = "unknown"
		return health
	}

	sqlDB, err := h.db.DB()
	if err != nil {
		health.Status = "error"
		return health
	}

	stats := sqlDB.Stats()
	health.ConnectionPoolSize = stats.MaxOpenConnections
	health.ActiveConnections = stats.InUse
	health.IdleConnections = stats.Idle
	if stats.MaxOpenConnections > 0 {
		health.PoolUtilizationPercent = float64(stats.InUse) / float64(stats.MaxOpenConnections) * 100
	}

	start := time.Now()
	if err := sqlDB.PingContext(ctx); err != nil {
		health.Status = "error"
	}
	health.ResponseTimeMS = float64(time.Since(start).Microseconds()) / 1000

	return health
}
