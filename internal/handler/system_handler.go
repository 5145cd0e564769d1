package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/inkgrade/inkgrade-backend/internal/config"
	"github.com/inkgrade/inkgrade-backend/internal/middleware"
	"github.com/inkgrade/inkgrade-backend/internal/response"
)

const (
	metricsInterval = 7 * time.Second
	readyTimeout    = 3 * time.Second
)

// SystemHandler serves liveness/readiness probes and streams host, runtime
// and queue metrics to the reviewer ops view via SSE.
type SystemHandler struct {
	pool      *pgxpool.Pool
	rdb       *redis.Client
	startTime time.Time
	cpuModel  string
	log       zerolog.Logger

	prevCPU cpuTimes
}

func NewSystemHandler(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *SystemHandler {
	h := &SystemHandler{
		pool:      pool,
		rdb:       rdb,
		startTime: time.Now(),
		cpuModel:  cpuModelName(),
		log:       log.With().Str("component", "system_handler").Logger(),
	}
	// Seed the first sample so the first tick reports a real delta.
	h.prevCPU, _ = sampleCPUTimes()
	return h
}

// ---------- Probes ----------

// Healthz godoc
// GET /healthz
// Liveness probe: answers as long as the process is serving requests.
func (h *SystemHandler) Healthz(c *gin.Context) {
	response.Success(c, http.StatusOK, gin.H{"status": "ok"})
}

// Readyz godoc
// GET /readyz
// Readiness probe: verifies PostgreSQL and Redis are reachable.
func (h *SystemHandler) Readyz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readyTimeout)
	defer cancel()

	checks := map[string]string{}
	if err := h.pool.Ping(ctx); err != nil {
		checks["postgres"] = err.Error()
	}
	if err := h.rdb.Ping(ctx).Err(); err != nil {
		checks["redis"] = err.Error()
	}

	if len(checks) > 0 {
		response.FailWithFields(c, http.StatusServiceUnavailable, response.ErrNotReady, checks)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"status": "ready"})
}

// ---------- SSE Endpoint ----------

type systemMetrics struct {
	Timestamp int64  `json:"timestamp"`
	Uptime    string `json:"uptime"`

	// OS
	CPUPercent     float64 `json:"cpu_percent"`
	MemUsedBytes   uint64  `json:"mem_used_bytes"`
	MemTotalBytes  uint64  `json:"mem_total_bytes"`
	MemPercent     float64 `json:"mem_percent"`
	DiskUsedBytes  uint64  `json:"disk_used_bytes"`
	DiskTotalBytes uint64  `json:"disk_total_bytes"`
	DiskPercent    float64 `json:"disk_percent"`
	LoadAvg1       float64 `json:"load_avg_1"`
	LoadAvg5       float64 `json:"load_avg_5"`
	LoadAvg15      float64 `json:"load_avg_15"`

	// Go Application
	Goroutines  int    `json:"goroutines"`
	HeapAlloc   uint64 `json:"heap_alloc"`
	HeapSys     uint64 `json:"heap_sys"`
	StackInuse  uint64 `json:"stack_inuse"`
	NumGC       uint32 `json:"num_gc"`
	AppRSSBytes uint64 `json:"app_rss_bytes"`
	GoVersion   string `json:"go_version"`
	NumCPU      int    `json:"num_cpu"`
	CPUModel    string `json:"cpu_model"`

	// Grading pipeline queues
	QueueGradingHigh    int64 `json:"queue_grading_high"`
	QueueGradingNormal  int64 `json:"queue_grading_normal"`
	QueueGradingLow     int64 `json:"queue_grading_low"`
	QueueGradingDelayed int64 `json:"queue_grading_delayed"`
	QueueAutoSave       int64 `json:"queue_auto_save"`
	QueueEvents         int64 `json:"queue_events"`
}

// MetricsSSE godoc
// GET /api/v1/review/system/metrics
// Streams process and queue metrics every few seconds for the ops view.
func (h *SystemHandler) MetricsSSE(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	reqCtx := c.Request.Context()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	h.log.Info().Msg("Reviewer connected to system metrics SSE")

	ticker := time.NewTicker(metricsInterval)
	defer ticker.Stop()

	// Send immediately on connect, then every tick
	h.writeMetrics(c)

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Msg("Reviewer disconnected from system metrics SSE")
			return
		case <-ticker.C:
			h.writeMetrics(c)
		}
	}
}

func (h *SystemHandler) writeMetrics(c *gin.Context) {
	m := h.collect()
	data, err := json.Marshal(m)
	if err != nil {
		return
	}
	c.Writer.Write([]byte("data: "))
	c.Writer.Write(data)
	c.Writer.Write([]byte("\n\n"))
	c.Writer.Flush()
}

func (h *SystemHandler) collect() systemMetrics {
	m := systemMetrics{
		Timestamp: time.Now().Unix(),
		Uptime:    formatUptime(time.Since(h.startTime)),
		GoVersion: runtime.Version(),
		NumCPU:    runtime.NumCPU(),
		CPUModel:  h.cpuModel,
	}

	// ── CPU ──
	if cur, err := sampleCPUTimes(); err == nil && cur.total > h.prevCPU.total {
		busy := float64(cur.busy() - h.prevCPU.busy())
		span := float64(cur.total - h.prevCPU.total)
		m.CPUPercent = busy / span * 100
		h.prevCPU = cur
	}

	// ── Memory ──
	if mem, err := scanProcKV("/proc/meminfo", "MemTotal", "MemAvailable"); err == nil {
		total, avail := mem["MemTotal"], mem["MemAvailable"]
		if total > 0 {
			m.MemTotalBytes = total
			m.MemUsedBytes = total - avail
			m.MemPercent = float64(m.MemUsedBytes) / float64(total) * 100
		}
	}

	// ── Disk ──
	if total, free, err := statfs("/"); err == nil && total > 0 {
		m.DiskTotalBytes = total
		m.DiskUsedBytes = total - free
		m.DiskPercent = float64(m.DiskUsedBytes) / float64(total) * 100
	}

	// ── Load Average ──
	m.LoadAvg1, m.LoadAvg5, m.LoadAvg15 = loadAverages()

	// ── Go Runtime ──
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	m.Goroutines = runtime.NumGoroutine()
	m.HeapAlloc = ms.HeapAlloc
	m.HeapSys = ms.Sys
	m.StackInuse = ms.StackInuse
	m.NumGC = ms.NumGC

	// ── App RSS ──
	if rss, err := scanProcKV("/proc/self/status", "VmRSS"); err == nil {
		m.AppRSSBytes = rss["VmRSS"]
	}

	// ── Queue depths (pipelined) ──
	ctx := context.Background()
	pipe := h.rdb.Pipeline()
	highCmd := pipe.LLen(ctx, config.WorkerKey.GradingHighQueue)
	normalCmd := pipe.LLen(ctx, config.WorkerKey.GradingNormalQueue)
	lowCmd := pipe.LLen(ctx, config.WorkerKey.GradingLowQueue)
	delayedCmd := pipe.ZCard(ctx, config.WorkerKey.GradingDelayedSet)
	autoSaveCmd := pipe.LLen(ctx, config.WorkerKey.AutoSaveQueue)
	eventsCmd := pipe.LLen(ctx, config.WorkerKey.SubmissionEventsQueue)
	if _, err := pipe.Exec(ctx); err == nil {
		m.QueueGradingHigh, _ = highCmd.Result()
		m.QueueGradingNormal, _ = normalCmd.Result()
		m.QueueGradingLow, _ = lowCmd.Result()
		m.QueueGradingDelayed, _ = delayedCmd.Result()
		m.QueueAutoSave, _ = autoSaveCmd.Result()
		m.QueueEvents, _ = eventsCmd.Result()
	}

	return m
}

// ---------- Host readers (Linux procfs) ----------

// cpuTimes is one aggregate sample from the first line of /proc/stat.
type cpuTimes struct {
	idle  uint64
	total uint64
}

func (t cpuTimes) busy() uint64 { return t.total - t.idle }

// sampleCPUTimes reads the aggregate line: "cpu user nice system idle ...".
func sampleCPUTimes() (cpuTimes, error) {
	raw, err := os.ReadFile("/proc/stat")
	if err != nil {
		return cpuTimes{}, err
	}
	line, _, _ := strings.Cut(string(raw), "\n")
	fields := strings.Fields(line)
	if len(fields) < 5 || fields[0] != "cpu" {
		return cpuTimes{}, fmt.Errorf("unexpected /proc/stat line %q", line)
	}

	var t cpuTimes
	for i, f := range fields[1:] {
		v, _ := strconv.ParseUint(f, 10, 64)
		t.total += v
		if i == 3 { // idle column
			t.idle = v
		}
	}
	return t, nil
}

func cpuModelName() string {
	f, err := os.Open("/proc/cpuinfo")
	if err != nil {
		return "Unknown"
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if name, ok := strings.CutPrefix(sc.Text(), "model name"); ok {
			return strings.TrimSpace(strings.TrimLeft(name, " \t:"))
		}
	}
	return "Unknown"
}

// scanProcKV pulls the named "Key:  12345 kB" entries out of a procfs file
// and returns their values in bytes. Both /proc/meminfo and
// /proc/self/status use this layout.
func scanProcKV(path string, keys ...string) (map[string]uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	want := make(map[string]bool, len(keys))
	for _, k := range keys {
		want[k] = true
	}

	out := make(map[string]uint64, len(keys))
	sc := bufio.NewScanner(f)
	for sc.Scan() && len(out) < len(keys) {
		key, rest, ok := strings.Cut(sc.Text(), ":")
		if !ok || !want[key] {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			continue
		}
		kb, _ := strconv.ParseUint(fields[0], 10, 64)
		out[key] = kb * 1024
	}
	return out, sc.Err()
}

func statfs(path string) (total, free uint64, err error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return 0, 0, err
	}
	bsize := uint64(st.Bsize)
	return st.Blocks * bsize, st.Bavail * bsize, nil
}

func loadAverages() (l1, l5, l15 float64) {
	raw, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return 0, 0, 0
	}
	fields := strings.Fields(string(raw))
	if len(fields) < 3 {
		return 0, 0, 0
	}
	l1, _ = strconv.ParseFloat(fields[0], 64)
	l5, _ = strconv.ParseFloat(fields[1], 64)
	l15, _ = strconv.ParseFloat(fields[2], 64)
	return l1, l5, l15
}

// ---------- Helpers ----------

func formatUptime(d time.Duration) string {
	d = d.Round(time.Second)
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute
	seconds := d - minutes*time.Minute

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds/time.Second)
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds/time.Second)
	default:
		return fmt.Sprintf("%dm %ds", minutes, seconds/time.Second)
	}
}
