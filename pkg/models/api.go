package models

// OutputInfo represents output metadata returned by the API
type OutputInfo struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Sink         string      `json:"sink"`
	State        OutputState `json:"state"`
	Active       bool        `json:"active"`
	Reconnecting bool        `json:"reconnecting"`
	DelaySec     uint32      `json:"delaySec,omitempty"`
	DelayActive  bool        `json:"delayActive"`
	Stats        OutputStats `json:"stats"`
}

// OutputListResponse represents a list of outputs
type OutputListResponse struct {
	Outputs []OutputInfo `json:"outputs"`
	Total   int          `json:"total"`
}

// StopRequest represents a request to stop an output
type StopRequest struct {
	TimeoutMs uint64 `json:"timeoutMs"` // Coordinated stop deadline, 0 stops at the next frame
}

// DelayRequest represents a request to configure the broadcast delay
type DelayRequest struct {
	DelaySec uint32 `json:"delaySec"`
	Preserve bool   `json:"preserve"`
}

// ReconnectRequest represents a request to configure reconnection
type ReconnectRequest struct {
	RetrySec   int `json:"retrySec" binding:"min=0"`
	MaxRetries int `json:"maxRetries" binding:"min=0"`
}
