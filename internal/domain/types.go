package domain

import "time"

type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

type RecipientType string

const (
	RecipientEmail    RecipientType = "email"
	RecipientSMS      RecipientType = "sms"
	RecipientPush     RecipientType = "push"
	RecipientInternal RecipientType = "internal"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

const (
	MaxContentLength = 1000
	MaxRetries       = 3
	DateLayout       = "2006-01-02"
)

// Message is the durable record of one scheduled delivery.
type Message struct {
	ID            string        `json:"id"`
	Content       string        `json:"content"`
	ScheduledDate string        `json:"scheduledDate"` // YYYY-MM-DD
	ScheduledTime string        `json:"scheduledTime"` // HH:MM, 24h
	FireAt        time.Time     `json:"fireAt"`
	Status        Status        `json:"status"`
	Recipient     string        `json:"recipient,omitempty"`
	RecipientType RecipientType `json:"recipientType"`
	Priority      Priority      `json:"priority"`
	RetryCount    int           `json:"retryCount"`
	SentAt        *time.Time    `json:"sentAt,omitempty"`
	ErrorMessage  string        `json:"errorMessage,omitempty"`
	Metadata      Metadata      `json:"metadata"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

type Metadata struct {
	Source     string   `json:"source,omitempty"`
	CampaignID string   `json:"campaignId,omitempty"`
	Tags       []string `json:"tags,omitempty"`
}

// Delivery is what a channel receives at fire time.
type Delivery struct {
	MessageID     string
	Content       string
	Recipient     string
	RecipientType RecipientType
	Priority      Priority
}

func (m Message) Delivery() Delivery {
	return Delivery{
		MessageID:     m.ID,
		Content:       m.Content,
		Recipient:     m.Recipient,
		RecipientType: m.RecipientType,
		Priority:      m.Priority,
	}
}

// Patch carries the optional fields of an update; nil means unchanged.
type Patch struct {
	Content       *string        `json:"content"`
	ScheduledDate *string        `json:"scheduledDate"`
	ScheduledTime *string        `json:"scheduledTime"`
	Status        *Status        `json:"status"`
	Recipient     *string        `json:"recipient"`
	RecipientType *RecipientType `json:"recipientType"`
	Priority      *Priority      `json:"priority"`
	Metadata      *Metadata      `json:"metadata"`
}

// ReschedulesFire reports whether the patch touches the fire instant.
func (p Patch) ReschedulesFire() bool {
	return p.ScheduledDate != nil || p.ScheduledTime != nil
}

type Filter struct {
	Status        Status
	Priority      Priority
	RecipientType RecipientType
	Offset        int
	Limit         int
}
