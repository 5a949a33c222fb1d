package server

// Request types for the REST API with validation tags.

// CalibrateRequest is the request body for /api/calibrate. The reference
// level must sit inside the meter's displayable range.
type CalibrateRequest struct {
	ReferenceDB *float64 `json:"reference_db" validate:"required,gte=20,lte=140"`
}

// AudioUpdateRequest is the request body for /api/settings/audio.
type AudioUpdateRequest struct {
	Input string `json:"input" validate:"omitempty,max=256"`
}

// AlertUpdateRequest is the request body for /api/settings/alert.
type AlertUpdateRequest struct {
	ThresholdDB *float64 `json:"threshold_db" validate:"omitempty,gte=20,lte=140"`
	TriggerMs   *int64   `json:"trigger_ms" validate:"omitempty,gte=500,lte=300000"`
	RecoveryMs  *int64   `json:"recovery_ms" validate:"omitempty,gte=500,lte=60000"`
	WebhookURL  *string  `json:"webhook_url" validate:"omitempty,max=2048"`
}

// SessionTierRequest is the request body for /api/settings/session.
type SessionTierRequest struct {
	Extended *bool `json:"extended" validate:"required"`
}
