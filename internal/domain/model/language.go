package model

import "time"

type Language struct {
	ID        string    `json:"id"`
	Key       string    `json:"key"` // short identifier sent to judges, e.g. PY3
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}
