// Package domain contains core concepts of the chat relay.
// This file defines persisted messages.
// A Message is immutable once the store has assigned its ID and CreatedAt.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Message is a text and/or file exchanged between two users.
type Message struct {
	ID          uuid.UUID `json:"id"`
	SenderID    string    `json:"sender"`
	RecipientID string    `json:"recipient"`
	Text        *string   `json:"text"`
	FileRef     *string   `json:"file"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Involves reports whether both ends of the message belong to {a, b}.
func (m Message) Involves(a, b string) bool {
	in := func(id string) bool { return id == a || id == b }
	return in(m.SenderID) && in(m.RecipientID)
}
