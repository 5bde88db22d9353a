// Package handlers provides the HTTP API handlers for tvinput.
package handlers

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
	"gorm.io/gorm"

	"github.com/jmylchreest/tvinput/internal/httpclient"
	"github.com/jmylchreest/tvinput/internal/service"
)

// SessionCounter reports the number of live sessions.
type SessionCounter interface {
	Len() int
}

// SyncStatus reports the state of directory synchronisation.
type SyncStatus interface {
	Pending() bool
	LastResult() *service.SyncResult
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	version   string
	startTime time.Time
	db        *gorm.DB
	sessions  SessionCounter
	sync      SyncStatus
	client    *httpclient.Client
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{
		version:   version,
		startTime: time.Now(),
	}
}

// WithDB sets the database connection for health checks.
func (h *HealthHandler) WithDB(db *gorm.DB) *HealthHandler {
	h.db = db
	return h
}

// WithSessions reports the live session count.
func (h *HealthHandler) WithSessions(sessions SessionCounter) *HealthHandler {
	h.sessions = sessions
	return h
}

// WithSync reports the sync state.
func (h *HealthHandler) WithSync(sync SyncStatus) *HealthHandler {
	h.sync = sync
	return h
}

// WithHTTPClient reports the circuit state of the feed client.
func (h *HealthHandler) WithHTTPClient(client *httpclient.Client) *HealthHandler {
	h.client = client
	return h
}

// HealthResponse is the body of the health endpoint.
type HealthResponse struct {
	Status        string           `json:"status"`
	Timestamp     string           `json:"timestamp"`
	Version       string           `json:"version"`
	Uptime        string           `json:"uptime"`
	UptimeSeconds float64          `json:"uptime_seconds"`
	CPUInfo       CPUInfo          `json:"cpu_info"`
	Memory        MemoryInfo       `json:"memory"`
	Components    HealthComponents `json:"components"`
}

// CPUInfo holds load averages.
type CPUInfo struct {
	Cores              int     `json:"cores"`
	Load1Min           float64 `json:"load_1min"`
	Load5Min           float64 `json:"load_5min"`
	Load15Min          float64 `json:"load_15min"`
	LoadPercentage1Min float64 `json:"load_percentage_1min"`
}

// MemoryInfo holds system and process memory usage in megabytes.
type MemoryInfo struct {
	TotalMemoryMB     float64 `json:"total_memory_mb"`
	UsedMemoryMB      float64 `json:"used_memory_mb"`
	AvailableMemoryMB float64 `json:"available_memory_mb"`
	ProcessMemoryMB   float64 `json:"process_memory_mb"`
	Goroutines        int     `json:"goroutines"`
}

// HealthComponents reports on the parts of the service.
type HealthComponents struct {
	Database     DatabaseHealth      `json:"database"`
	Sessions     int                 `json:"sessions"`
	FeedCircuit  string              `json:"feed_circuit,omitempty"`
	FeedFailures int                 `json:"feed_failures"`
	SyncPending  bool                `json:"sync_pending"`
	LastSync     *service.SyncResult `json:"last_sync,omitempty"`
}

// DatabaseHealth reports database connectivity.
type DatabaseHealth struct {
	Status            string  `json:"status"`
	ResponseTimeMS    float64 `json:"response_time_ms"`
	OpenConnections   int     `json:"open_connections"`
	ActiveConnections int     `json:"active_connections"`
}

// HealthInput is the input for the health check endpoint.
type HealthInput struct{}

// HealthOutput is the output for the health check endpoint.
type HealthOutput struct {
	Body HealthResponse
}

// LivezInput is the input for the liveness probe.
type LivezInput struct{}

// LivezOutput is the output for the liveness probe.
type LivezOutput struct {
	Body struct {
		Status string `json:"status"`
	}
}

// ReadyzInput is the input for the readiness probe.
type ReadyzInput struct{}

// ReadyzOutput is the output for the readiness probe.
type ReadyzOutput struct {
	Body struct {
		Status     string            `json:"status"`
		Components map[string]string `json:"components"`
	}
}

// Register registers the health routes with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns the health status of the service including system metrics",
		Tags:        []string{"System"},
	}, h.GetHealth)

	huma.Register(api, huma.Operation{
		OperationID: "getLivez",
		Method:      http.MethodGet,
		Path:        "/livez",
		Summary:     "Liveness probe",
		Tags:        []string{"System"},
	}, h.GetLivez)

	huma.Register(api, huma.Operation{
		OperationID: "getReadyz",
		Method:      http.MethodGet,
		Path:        "/readyz",
		Summary:     "Readiness probe",
		Tags:        []string{"System"},
	}, h.GetReadyz)
}

// GetLivez reports that the process is serving requests.
func (h *HealthHandler) GetLivez(_ context.Context, _ *LivezInput) (*LivezOutput, error) {
	out := &LivezOutput{}
	out.Body.Status = "ok"
	return out, nil
}

// GetReadyz reports whether the directory database is reachable.
func (h *HealthHandler) GetReadyz(ctx context.Context, _ *ReadyzInput) (*ReadyzOutput, error) {
	out := &ReadyzOutput{}
	out.Body.Status = "ready"
	out.Body.Components = map[string]string{"database": "ok"}

	db := h.getDatabaseHealth(ctx)
	if db.Status != "ok" {
		out.Body.Status = "not_ready"
		out.Body.Components["database"] = db.Status
	}
	return out, nil
}

// GetHealth returns the health status of the service.
func (h *HealthHandler) GetHealth(ctx context.Context, _ *HealthInput) (*HealthOutput, error) {
	now := time.Now()
	uptime := now.Sub(h.startTime)

	components := HealthComponents{
		Database: h.getDatabaseHealth(ctx),
	}
	if h.sessions != nil {
		components.Sessions = h.sessions.Len()
	}
	if h.client != nil {
		components.FeedCircuit = h.client.CircuitState().String()
		components.FeedFailures = h.client.CircuitFailures()
	}
	if h.sync != nil {
		components.SyncPending = h.sync.Pending()
		components.LastSync = h.sync.LastResult()
	}

	status := "healthy"
	if components.Database.Status == "error" || components.FeedCircuit == httpclient.CircuitOpen.String() {
		status = "degraded"
	}

	return &HealthOutput{
		Body: HealthResponse{
			Status:        status,
			Timestamp:     now.UTC().Format(time.RFC3339),
			Version:       h.version,
			Uptime:        uptime.Round(time.Second).String(),
			UptimeSeconds: uptime.Seconds(),
			CPUInfo:       getCPUInfo(),
			Memory:        getMemoryInfo(),
			Components:    components,
		},
	}, nil
}

func getCPUInfo() CPUInfo {
	info := CPUInfo{Cores: runtime.NumCPU()}

	avg, err := load.Avg()
	if err == nil && avg != nil {
		info.Load1Min = avg.Load1
		info.Load5Min = avg.Load5
		info.Load15Min = avg.Load15
		if info.Cores > 0 {
			info.LoadPercentage1Min = avg.Load1 / float64(info.Cores) * 100
		}
	}
	return info
}

func getMemoryInfo() MemoryInfo {
	info := MemoryInfo{Goroutines: runtime.NumGoroutine()}

	if vm, err := mem.VirtualMemory(); err == nil && vm != nil {
		info.TotalMemoryMB = toMB(vm.Total)
		info.UsedMemoryMB = toMB(vm.Used)
		info.AvailableMemoryMB = toMB(vm.Available)
	}

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if pm, err := proc.MemoryInfo(); err == nil && pm != nil {
			info.ProcessMemoryMB = toMB(pm.RSS)
		}
	}
	return info
}

func toMB(b uint64) float64 {
	return float64(b) / 1024 / 1024
}

func (h *HealthHandler) getDatabaseHealth(ctx context.Context) DatabaseHealth {
	if h.db == nil {
		return DatabaseHealth{Status: "not_configured"}
	}

	sqlDB, err := h.db.DB()
	if err != nil {
		return DatabaseHealth{Status: "error"}
	}

	stats := sqlDB.Stats()
	health := DatabaseHealth{
		Status:            "ok",
		OpenConnections:   stats.OpenConnections,
		ActiveConnections: stats.InUse,
	}

	start := time.Now()
	err = sqlDB.PingContext(ctx)
	health.ResponseTimeMS = float64(time.Since(start).Microseconds()) / 1000
	if err != nil {
		health.Status = "error"
	}
	return health
}
