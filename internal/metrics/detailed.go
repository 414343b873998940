package metrics

import (
	"sync"
	"time"
)

// GatewayOperation identifies one kind of gateway-level call for the
// detailed (non-Prometheus) min/max/average latency tracker below.
type GatewayOperation string

const (
	OpStat             GatewayOperation = "stat"
	OpListDirectory    GatewayOperation = "list_directory"
	OpDownloadFile     GatewayOperation = "download_file"
	OpUploadFile       GatewayOperation = "upload_file"
	OpUpdateFile       GatewayOperation = "update_file"
	OpCreateDirectory  GatewayOperation = "create_directory"
	OpRenameItem       GatewayOperation = "rename_item"
	OpCopyItem         GatewayOperation = "copy_item"
	OpBatchRemove      GatewayOperation = "batch_remove_items"
	OpMultipartInit    GatewayOperation = "multipart_init"
	OpMultipartSign    GatewayOperation = "multipart_sign"
	OpMultipartChunk   GatewayOperation = "multipart_chunk"
	OpMultipartComplete GatewayOperation = "multipart_complete"
	OpMultipartAbort   GatewayOperation = "multipart_abort"
	OpIndexQuery       GatewayOperation = "index_query"
)

// DetailedOperationMetrics tracks latency and error distribution for one
// GatewayOperation beyond what the Prometheus histogram buckets expose —
// exact min/max/average, read through GetOperationMetrics without scraping.
// The Collector's /debug/operations endpoint does not read it.
type DetailedOperationMetrics struct {
	Count             int64         `json:"count"`
	TotalLatency      time.Duration `json:"total_latency"`
	MinLatency        time.Duration `json:"min_latency"`
	MaxLatency        time.Duration `json:"max_latency"`
	AverageLatency    time.Duration `json:"average_latency"`
	ErrorCount        int64         `json:"error_count"`
	BytesProcessed    int64         `json:"bytes_processed"`
	AvgBytesPerOp     float64       `json:"avg_bytes_per_op"`
	LastOperationTime time.Time     `json:"last_operation_time"`
}

// PathOperationMetrics tracks per-fsPath access counts, used to surface the
// hottest paths for a mount (e.g. which directory is thrashing the FS
// facade's metadata cache, §4.7).
type PathOperationMetrics struct {
	Path          string                               `json:"path"`
	Operations    map[GatewayOperation]*DetailedOperationMetrics `json:"operations"`
	TotalAccesses int64                                `json:"total_accesses"`
	FirstAccess   time.Time                            `json:"first_access"`
	LastAccess    time.Time                             `json:"last_access"`
	mu            sync.RWMutex                          `json:"-"`
}

// DetailedPerformanceMetrics aggregates per-operation and per-path detail
// that the Prometheus collector intentionally keeps out of its label space
// (fsPath is unbounded cardinality, so it never becomes a Prometheus label —
// this tracker caps it at MaxTrackedPaths instead).
type DetailedPerformanceMetrics struct {
	mu               sync.RWMutex
	OperationMetrics map[GatewayOperation]*DetailedOperationMetrics `json:"operation_metrics"`
	PathMetrics      map[string]*PathOperationMetrics               `json:"-"`
	StartTime        time.Time                                      `json:"start_time"`
	LastUpdateTime   time.Time                                      `json:"last_update_time"`
	TotalOperations  int64                                          `json:"total_operations"`
	TotalErrors      int64                                          `json:"total_errors"`
	TotalBytes       int64                                          `json:"total_bytes_processed"`
	OverallErrorRate float64                                        `json:"overall_error_rate"`
	TrackPaths       bool                                           `json:"track_paths_enabled"`
	MaxTrackedPaths  int                                            `json:"max_tracked_paths"`
}

// NewDetailedPerformanceMetrics creates a new detailed performance tracker.
func NewDetailedPerformanceMetrics(maxTrackedPaths int, trackPaths bool) *DetailedPerformanceMetrics {
	return &DetailedPerformanceMetrics{
		OperationMetrics: make(map[GatewayOperation]*DetailedOperationMetrics),
		PathMetrics:      make(map[string]*PathOperationMetrics),
		StartTime:        time.Now(),
		LastUpdateTime:   time.Now(),
		TrackPaths:       trackPaths,
		MaxTrackedPaths:  maxTrackedPaths,
	}
}

// RecordOperation records one gateway operation's outcome.
func (dpm *DetailedPerformanceMetrics) RecordOperation(
	opType GatewayOperation,
	fsPath string,
	latency time.Duration,
	bytes int64,
	err error,
) {
	dpm.mu.Lock()
	defer dpm.mu.Unlock()

	now := time.Now()
	dpm.LastUpdateTime = now
	dpm.TotalOperations++
	dpm.TotalBytes += bytes

	if dpm.OperationMetrics[opType] == nil {
		dpm.OperationMetrics[opType] = &DetailedOperationMetrics{MinLatency: latency}
	}

	om := dpm.OperationMetrics[opType]
	om.Count++
	om.TotalLatency += latency
	om.LastOperationTime = now
	om.BytesProcessed += bytes

	if latency < om.MinLatency || om.MinLatency == 0 {
		om.MinLatency = latency
	}
	if latency > om.MaxLatency {
		om.MaxLatency = latency
	}
	om.AverageLatency = time.Duration(int64(om.TotalLatency) / om.Count)

	if err != nil {
		om.ErrorCount++
		dpm.TotalErrors++
	}
	if om.Count > 0 {
		om.AvgBytesPerOp = float64(om.BytesProcessed) / float64(om.Count)
	}

	if dpm.TrackPaths && fsPath != "" {
		dpm.recordPath(fsPath, opType, latency, bytes, err)
	}

	if dpm.TotalOperations > 0 {
		dpm.OverallErrorRate = float64(dpm.TotalErrors) / float64(dpm.TotalOperations)
	}
}

// GetOperationMetrics returns a copy of the tracked metrics for opType.
func (dpm *DetailedPerformanceMetrics) GetOperationMetrics(opType GatewayOperation) *DetailedOperationMetrics {
	dpm.mu.RLock()
	defer dpm.mu.RUnlock()

	if om, exists := dpm.OperationMetrics[opType]; exists {
		cp := *om
		return &cp
	}
	return nil
}

// GetTopPaths returns the n most-accessed fsPaths, most accessed first.
func (dpm *DetailedPerformanceMetrics) GetTopPaths(n int) []*PathOperationMetrics {
	dpm.mu.RLock()
	defer dpm.mu.RUnlock()

	if !dpm.TrackPaths {
		return nil
	}

	paths := make([]*PathOperationMetrics, 0, len(dpm.PathMetrics))
	for _, pm := range dpm.PathMetrics {
		paths = append(paths, &PathOperationMetrics{
			Path: pm.Path, TotalAccesses: pm.TotalAccesses,
			FirstAccess: pm.FirstAccess, LastAccess: pm.LastAccess,
		})
	}

	for i := 0; i < len(paths)-1; i++ {
		for j := i + 1; j < len(paths); j++ {
			if paths[j].TotalAccesses > paths[i].TotalAccesses {
				paths[i], paths[j] = paths[j], paths[i]
			}
		}
	}

	if n > len(paths) {
		n = len(paths)
	}
	return paths[:n]
}

// GetSummary returns an overview of the tracked metrics.
func (dpm *DetailedPerformanceMetrics) GetSummary() map[string]interface{} {
	dpm.mu.RLock()
	defer dpm.mu.RUnlock()

	uptime := time.Since(dpm.StartTime)
	return map[string]interface{}{
		"uptime_seconds":        uptime.Seconds(),
		"total_operations":      dpm.TotalOperations,
		"total_errors":          dpm.TotalErrors,
		"total_bytes_processed": dpm.TotalBytes,
		"overall_error_rate":    dpm.OverallErrorRate,
		"operations_per_second": float64(dpm.TotalOperations) / uptime.Seconds(),
		"tracked_paths_count":   len(dpm.PathMetrics),
		"last_update":           dpm.LastUpdateTime.Format(time.RFC3339),
	}
}

// Reset clears all tracked metrics.
func (dpm *DetailedPerformanceMetrics) Reset() {
	dpm.mu.Lock()
	defer dpm.mu.Unlock()

	dpm.OperationMetrics = make(map[GatewayOperation]*DetailedOperationMetrics)
	dpm.PathMetrics = make(map[string]*PathOperationMetrics)
	dpm.StartTime = time.Now()
	dpm.LastUpdateTime = time.Now()
	dpm.TotalOperations = 0
	dpm.TotalErrors = 0
	dpm.TotalBytes = 0
	dpm.OverallErrorRate = 0
}

func (dpm *DetailedPerformanceMetrics) recordPath(
	fsPath string,
	opType GatewayOperation,
	latency time.Duration,
	bytes int64,
	err error,
) {
	if len(dpm.PathMetrics) >= dpm.MaxTrackedPaths && dpm.PathMetrics[fsPath] == nil {
		return
	}

	if dpm.PathMetrics[fsPath] == nil {
		dpm.PathMetrics[fsPath] = &PathOperationMetrics{
			Path:        fsPath,
			Operations:  make(map[GatewayOperation]*DetailedOperationMetrics),
			FirstAccess: time.Now(),
		}
	}

	pm := dpm.PathMetrics[fsPath]
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.TotalAccesses++
	pm.LastAccess = time.Now()

	if pm.Operations[opType] == nil {
		pm.Operations[opType] = &DetailedOperationMetrics{MinLatency: latency}
	}
	om := pm.Operations[opType]
	om.Count++
	om.TotalLatency += latency
	om.BytesProcessed += bytes

	if latency < om.MinLatency || om.MinLatency == 0 {
		om.MinLatency = latency
	}
	if latency > om.MaxLatency {
		om.MaxLatency = latency
	}
	om.AverageLatency = time.Duration(int64(om.TotalLatency) / om.Count)

	if err != nil {
		om.ErrorCount++
	}
}
