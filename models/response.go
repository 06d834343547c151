package models

import "time"

// ResultsResponse is the response for GET /api/v1/results.
type ResultsResponse struct {
	Success bool          `json:"success"`
	Results []ParseResult `json:"results"`
	Error   *ErrorDetail  `json:"error,omitempty"`
}

// ResultResponse is the response for GET /api/v1/results/:site.
type ResultResponse struct {
	Success bool         `json:"success"`
	Result  *ParseResult `json:"result,omitempty"`
	Error   *ErrorDetail `json:"error,omitempty"`
}

// RunRequest is the optional body of POST /api/v1/runs. An empty Sites list
// means every configured site.
type RunRequest struct {
	Sites []string `json:"sites"`
	// Wait runs the batch inside the request and returns its results.
	Wait bool `json:"wait"`
}

// RunResponse is the response for POST /api/v1/runs.
type RunResponse struct {
	Success bool          `json:"success"`
	Status  string        `json:"status,omitempty"` // "started" or "completed"
	Results []ParseResult `json:"results,omitempty"`
	Error   *ErrorDetail  `json:"error,omitempty"`
}

// ErrorResponse is returned by middleware and handlers that fail before
// producing a typed response.
type ErrorResponse struct {
	Success bool         `json:"success"`
	Error   *ErrorDetail `json:"error"`
}

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status       string     `json:"status"` // "healthy" or "degraded"
	Uptime       string     `json:"uptime"`
	RunInFlight  bool       `json:"run_in_flight"`
	LastRunAt    *time.Time `json:"last_run_at,omitempty"`
	LastRunSites int        `json:"last_run_sites"`
	LastRunFails int        `json:"last_run_failures"`
	Version      string     `json:"version"`
}
