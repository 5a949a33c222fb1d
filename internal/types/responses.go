package types

// APIResponse is the standard envelope for REST command results.
type APIResponse struct {
	Success bool             `json:"success"`
	Error   *ValidationError `json:"error,omitempty"`
	Data    any              `json:"data,omitempty"`
}

// VersionInfo reports the running build and the latest published release.
type VersionInfo struct {
	Current     string `json:"current"`
	Latest      string `json:"latest,omitempty"`
	Commit      string `json:"commit,omitempty"`
	BuildTime   string `json:"build_time,omitempty"`
	UpdateAvail bool   `json:"update_available"`
}
