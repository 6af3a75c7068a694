package models

import "time"

// Attachment media kinds accepted by the service.
const (
	FileTypeImage    = "image"
	FileTypeDocument = "document"
)

// Attachment is a persisted file reference. Before send, files exist
// only as locally staged candidates (see internal/attach); they become
// Attachments once the REST API returns persisted references.
type Attachment struct {
	FileName string `json:"fileName"`
	FileType string `json:"fileType"` // image or document
	Size     int64  `json:"size,omitempty"`
	FileURL  string `json:"fileUrl"`
}

// Message is immutable once created and belongs to exactly one room for
// its lifetime. ReplyTo references another message by id and may point
// outside the currently loaded history.
type Message struct {
	ID          string       `json:"id"`
	RoomID      string       `json:"roomId"`
	Sender      User         `json:"sender"`
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments,omitempty"`
	ReplyTo     *string      `json:"replyTo,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
}
