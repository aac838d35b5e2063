package main

// OptOutResponse reports a player's current opt-out state.
type OptOutResponse struct {
	PlayerID string `json:"playerId"`
	Excluded bool   `json:"excluded"`
	Message  string `json:"message,omitempty"`
}

// SetOptOutRequest is the body of PUT .../optout.
type SetOptOutRequest struct {
	Excluded *bool `json:"excluded"`
}

// HealthResponse is returned by /healthz.
type HealthResponse struct {
	Status     string `json:"status"`
	Backend    string `json:"backend"`
	StoreReady bool   `json:"storeReady"`
	Cached     int    `json:"cached"`
	Records    int    `json:"records"`
}
