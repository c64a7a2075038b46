package model

import "time"

type SessionStatus string

const (
	SessionActive   SessionStatus = "active"
	SessionArchived SessionStatus = "archived"
	SessionDeleted  SessionStatus = "deleted"
)

// Session is a stateful dialogue thread between one user and one robot.
type Session struct {
	SessionID     string        `json:"sessionId"`
	UserID        string        `json:"userId"`
	RobotID       string        `json:"robotId"`
	Title         string        `json:"title"`
	MessageCount  int           `json:"messageCount"`
	Status        SessionStatus `json:"status"`
	IsPinned      bool          `json:"isPinned"`
	LastMessageAt *time.Time    `json:"lastMessageAt,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}
