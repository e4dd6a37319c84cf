package models

import "time"

// UserValue is a key life value extracted from a conversation and kept for a user
type UserValue struct {
	UserID    int64     `json:"user_id"`
	Value     string    `json:"value"`
	CreatedAt time.Time `json:"created_at"`
}
