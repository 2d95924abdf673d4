package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Document is an uploaded file whose raw content is kept for ingestion.
// Deleting a document cascades deletion of its passages.
type Document struct {
	ID        string
	OwnerID   string
	Name      string
	Type      string // MIME type, e.g. "application/pdf"
	Content   []byte // raw bytes; nil in listings
	CreatedAt time.Time
}

// Chat groups an ordered message sequence.
type Chat struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id,omitempty"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one persisted conversation turn. SequenceNumber is strictly
// increasing per chat so retrieval order is deterministic.
type Message struct {
	ID             string    `json:"id"`
	ChatID         string    `json:"chat_id"`
	OwnerID        string    `json:"owner_id,omitempty"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	Model          string    `json:"model,omitempty"`
	SequenceNumber int       `json:"sequence_number"`
	CreatedAt      time.Time `json:"created_at"`
}
