package models

import "time"

// Announcement is the storefront banner operators switch on and off.
type Announcement struct {
	Message   string    `json:"announcement"`
	IsActive  bool      `json:"isActive"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}
