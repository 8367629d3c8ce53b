package server

// Request bodies of the WebSocket commands, validated with
// go-playground/validator tags.

// ThresholdUpdateRequest is the request body for threshold/update.
type ThresholdUpdateRequest struct {
	Threshold *float64 `json:"threshold" validate:"required,gte=0"`
	// Persist writes the value to the config file as well.
	Persist bool `json:"persist"`
}

// WebhookUpdateRequest is the request body for notifications/webhook/update.
type WebhookUpdateRequest struct {
	URL string `json:"url" validate:"omitempty,max=2048,http_url"`
}

// LogUpdateRequest is the request body for notifications/log/update.
type LogUpdateRequest struct {
	Path string `json:"path" validate:"omitempty,max=4096"`
}

// PlaybackUpdateRequest is the request body for trigger/playback.
type PlaybackUpdateRequest struct {
	Seconds *int `json:"seconds" validate:"required,gte=0,lte=3600"`
}
