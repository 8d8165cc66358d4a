package models

import "time"

// Message is an inbound chat message or email kept for context and de-duplication.
type Message struct {
	ID        uint      `gorm:"primarykey" json:"-"`
	Source    Source    `gorm:"size:16;index" json:"source"`
	MessageID string    `gorm:"size:64;index" json:"message_id,omitempty"`
	EmailID   string    `gorm:"size:128;index" json:"email_id,omitempty"`
	Sender    string    `gorm:"size:64;index" json:"sender"`
	Subject   string    `gorm:"size:500" json:"subject,omitempty"`
	Body      string    `json:"body"`
	Timestamp time.Time `gorm:"index" json:"timestamp"`
	Processed bool      `json:"processed"`
}

// TableName returns the table name for the Message model.
func (Message) TableName() string {
	return "messages"
}

// Identifier returns the task identifier derived from the message.
func (m *Message) Identifier() Identifier {
	return Identifier{
		Source:    m.Source,
		Sender:    m.Sender,
		MessageID: m.MessageID,
		EmailID:   m.EmailID,
		Timestamp: m.Timestamp,
	}
}
