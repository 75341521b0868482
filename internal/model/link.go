package model

import "time"

// Link represents a shortened URL and its click counter
type Link struct {
	ID          int64      `json:"id"`
	Code        string     `json:"code"`
	OriginalURL string     `json:"original_url"`
	Clicks      int64      `json:"clicks"`
	LastClicked *time.Time `json:"last_clicked"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Target is the immutable part of a link needed to serve a redirect.
type Target struct {
	ID          int64  `json:"id"`
	OriginalURL string `json:"original_url"`
}

// CreateLinkRequest represents the request body for creating a short link
type CreateLinkRequest struct {
	URL        string `json:"url" binding:"required"`
	CustomCode string `json:"customCode,omitempty"`
}

// LinkResponse is the API representation of a link
type LinkResponse struct {
	ID          int64      `json:"id"`
	Code        string     `json:"code"`
	OriginalURL string     `json:"original_url"`
	ShortURL    string     `json:"short_url"`
	Clicks      int64      `json:"clicks"`
	LastClicked *time.Time `json:"last_clicked"`
	CreatedAt   time.Time  `json:"created_at"`
}

// LinkEnvelope wraps a single link (create and fetch responses)
type LinkEnvelope struct {
	Success bool          `json:"success"`
	Link    *LinkResponse `json:"link"`
}

// LinkListResponse wraps the list endpoint payload
type LinkListResponse struct {
	Success bool           `json:"success"`
	Links   []LinkResponse `json:"links"`
}

// MessageResponse is returned by operations without a payload
type MessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// RedirectErrorResponse is the only body the public redirect route ever returns
type RedirectErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is the liveness payload consumed by the dashboard
type HealthzResponse struct {
	OK        bool    `json:"ok"`
	Version   string  `json:"version"`
	Timestamp string  `json:"timestamp"`
	Uptime    float64 `json:"uptime"` // seconds
}

// DBTimeResponse reports the store clock for connectivity checks
type DBTimeResponse struct {
	Success     bool      `json:"success"`
	CurrentTime time.Time `json:"currentTime"`
}
