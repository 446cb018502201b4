// Package types holds the JSON payloads of the studycored HTTP API.
package types

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	Error string `json:"error"`
	// HTTP status code.
	Code int `json:"code"`
}

// Model is a catalog entry merged with its live state.
type Model struct {
	ID              string `json:"id"`
	DisplayName     string `json:"display_name"`
	Purpose         string `json:"purpose"`
	Engine          string `json:"engine"`
	FileSizeMB      int64  `json:"file_size_mb"`
	MinRAMMB        int64  `json:"min_ram_mb"`
	ContextLength   int    `json:"context_length,omitempty"`
	Bundled         bool   `json:"bundled,omitempty"`
	FallbackModelID string `json:"fallback_model_id,omitempty"`
	// State is one of not_downloaded, downloading, download_failed,
	// downloaded, loading, ready, load_failed.
	State string `json:"state"`
	// Download progress in [0,1] while downloading.
	Progress float64 `json:"progress,omitempty"`
	// Failure reason for download_failed and load_failed.
	Reason string `json:"reason,omitempty"`
	Active bool   `json:"active"`
	// CanRun is false when the device has less RAM than the model needs.
	CanRun bool `json:"can_run"`
}

// ModelsResponse wraps the list returned by GET /models.
type ModelsResponse struct {
	Models []Model `json:"models"`
}

// LoadResponse reports which model ended up loaded; it differs from the
// requested one when a fallback was used.
type LoadResponse struct {
	Requested string `json:"requested"`
	Loaded    string `json:"loaded"`
}

// MemoryStatus is a memory snapshot.
type MemoryStatus struct {
	TotalMB              int64   `json:"total_mb"`
	AvailableMB          int64   `json:"available_mb"`
	SwapTotalMB          int64   `json:"swap_total_mb"`
	SwapFreeMB           int64   `json:"swap_free_mb"`
	EffectiveAvailableMB int64   `json:"effective_available_mb"`
	UsedPercent          float64 `json:"used_percent"`
	Pressure             string  `json:"pressure"`
	LowMemory            bool    `json:"low_memory"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	ActiveInferenceModel string       `json:"active_inference_model,omitempty"`
	ActiveEmbeddingModel string       `json:"active_embedding_model,omitempty"`
	Memory               MemoryStatus `json:"memory"`
	PendingTasks         int          `json:"pending_tasks"`
	RunningTasks         int          `json:"running_tasks"`
	// Uptime of the server in seconds.
	UptimeSeconds  int64 `json:"uptime_seconds"`
	ServerTimeUnix int64 `json:"server_time_unix"`
}
