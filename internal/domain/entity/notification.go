package entity

import (
	"time"
)

// Channel represents the transport a notification is delivered over
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
)

// Channels lists every supported channel
var Channels = []Channel{ChannelEmail, ChannelSMS, ChannelPush}

// Valid reports whether c is a known channel
func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelPush:
		return true
	}
	return false
}

// NotificationStatus represents the status of a notification
type NotificationStatus string

const (
	NotificationStatusPending   NotificationStatus = "pending"
	NotificationStatusSent      NotificationStatus = "sent"
	NotificationStatusDelivered NotificationStatus = "delivered"
	NotificationStatusFailed    NotificationStatus = "failed"
	NotificationStatusRead      NotificationStatus = "read"
)

// Statuses lists every status in lifecycle order
var Statuses = []NotificationStatus{
	NotificationStatusPending,
	NotificationStatusSent,
	NotificationStatusDelivered,
	NotificationStatusFailed,
	NotificationStatusRead,
}

// Valid reports whether s is a known status
func (s NotificationStatus) Valid() bool {
	switch s {
	case NotificationStatusPending, NotificationStatusSent, NotificationStatusDelivered,
		NotificationStatusFailed, NotificationStatusRead:
		return true
	}
	return false
}

// Reserved metadata keys. Everything else in Metadata is opaque.
const (
	MetadataMessageID      = "messageId"
	MetadataMessageIDs     = "messageIds"
	MetadataRecipient      = "recipient"
	MetadataProviderStatus = "providerStatus"
	MetadataTemplate       = "template"
	MetadataTokens         = "tokens"
	MetadataTopic          = "topic"
	MetadataSuccessCount   = "successCount"
	MetadataFailureCount   = "failureCount"
	MetadataInvalidTokens  = "invalidTokens"
	MetadataErrorKind      = "errorKind"
	MetadataProviderError  = "providerError"
)

// Notification represents a status-tracked notification record
type Notification struct {
	ID            string             `json:"id" bson:"_id"`
	OwnerID       string             `json:"owner_id,omitempty" bson:"owner_id"`
	Channel       Channel            `json:"channel" bson:"channel"`
	Title         string             `json:"title" bson:"title"`
	Body          string             `json:"body" bson:"body"`
	Status        NotificationStatus `json:"status" bson:"status"`
	CreatedAt     time.Time          `json:"created_at" bson:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at" bson:"updated_at"`
	DeliveredAt   *time.Time         `json:"delivered_at,omitempty" bson:"delivered_at,omitempty"`
	ReadAt        *time.Time         `json:"read_at,omitempty" bson:"read_at,omitempty"`
	FailureReason *string            `json:"failure_reason,omitempty" bson:"failure_reason,omitempty"`
	Metadata      map[string]any     `json:"metadata,omitempty" bson:"metadata,omitempty"`
}

// ProviderMessageID returns the reserved messageId metadata value, if any
func (n *Notification) ProviderMessageID() string {
	if n.Metadata == nil {
		return ""
	}
	id, _ := n.Metadata[MetadataMessageID].(string)
	return id
}

// Clone returns a deep-enough copy for handing records across store boundaries
func (n *Notification) Clone() *Notification {
	c := *n
	if n.DeliveredAt != nil {
		t := *n.DeliveredAt
		c.DeliveredAt = &t
	}
	if n.ReadAt != nil {
		t := *n.ReadAt
		c.ReadAt = &t
	}
	if n.FailureReason != nil {
		r := *n.FailureReason
		c.FailureReason = &r
	}
	if n.Metadata != nil {
		c.Metadata = make(map[string]any, len(n.Metadata))
		for k, v := range n.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// StatusUpdate describes a status transition and the fields that travel with it
type StatusUpdate struct {
	Status        NotificationStatus
	FailureReason string
	Metadata      map[string]any
	At            time.Time
}

// ListFilter narrows ListByOwner results
type ListFilter struct {
	Channel Channel
	Status  NotificationStatus
}

// Page is a 1-indexed page of notifications
type Page struct {
	Items []*Notification `json:"items"`
	Total int64           `json:"total"`
	Page  int             `json:"page"`
	Pages int             `json:"pages"`
	Limit int             `json:"limit"`
}

// Stats aggregates an owner's notifications
type Stats struct {
	ByStatus  map[NotificationStatus]int64 `json:"by_status"`
	ByChannel map[Channel]int64            `json:"by_type"`
	ByDay     map[string]int64             `json:"-"`
}

// DayCount is one bucket of the per-day histogram
type DayCount struct {
	Date  string `json:"date"`
	Count int64  `json:"count"`
}

// StatsReport is Stats with ByDay flattened into ordered, zero-filled buckets
type StatsReport struct {
	ByStatus  map[NotificationStatus]int64 `json:"by_status"`
	ByChannel map[Channel]int64            `json:"by_type"`
	ByDay     []DayCount                   `json:"by_day"`
}

// DayKey formats t as the per-day bucket key used by AggregateStats
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
