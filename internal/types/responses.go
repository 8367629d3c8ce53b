package types

// WSCommandResult is the standard response for websocket command execution.
type WSCommandResult struct {
	Type    string           `json:"type"`            // "<command>_result"
	Success bool             `json:"success"`         // true if command succeeded
	Error   *ValidationError `json:"error,omitempty"` // Validation errors if failed
	Data    any              `json:"data,omitempty"`  // Optional response data
}

// APIError is the JSON body of a failed REST request.
type APIError struct {
	Error string `json:"error"`
}

// ThresholdResponse is returned after a threshold read or update.
type ThresholdResponse struct {
	Threshold float64 `json:"threshold"`
	Persisted bool    `json:"persisted,omitempty"`
}
