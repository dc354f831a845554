package entity

import "time"

// Destination addresses a single send. Address carries an email address or
// phone number; push uses Tokens or Topic.
type Destination struct {
	Address     string
	CountryCode string
	Tokens      []string
	Topic       string
}

// TargetResult is the per-token outcome of a push broadcast
type TargetResult struct {
	Token     string    `json:"token"`
	Success   bool      `json:"success"`
	MessageID string    `json:"message_id,omitempty"`
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// SendResult is what every channel adapter returns. Expected provider
// failures are reported here, never as Go errors.
type SendResult struct {
	Success           bool
	ProviderMessageID string
	ProviderStatus    string
	// Delivered is set when the provider confirmed delivery synchronously
	Delivered      bool
	ErrorKind      ErrorKind
	ErrorDetail    string
	InvalidTargets []string
	Targets        []TargetResult
	Metadata       map[string]any
}

// Failure builds a failed SendResult
func Failure(kind ErrorKind, detail string) SendResult {
	return SendResult{ErrorKind: kind, ErrorDetail: detail}
}

// SendRequest is the logical send request accepted by the dispatch engine
type SendRequest struct {
	Channel  Channel
	OwnerID  string
	Title    string
	Body     string
	Template string
	// Variables feed the template renderer when Template is set
	Variables   map[string]any
	Recipient   string
	CountryCode string
	Token       string
	Topic       string
	Data        map[string]string
}

// DispatchResult is the uniform answer returned to callers
type DispatchResult struct {
	Success           bool      `json:"success"`
	NotificationID    string    `json:"notification_id,omitempty"`
	ProviderMessageID string    `json:"provider_message_id,omitempty"`
	ErrorKind         ErrorKind `json:"error_kind,omitempty"`
	ErrorDetail       string    `json:"error,omitempty"`
}

// DeliveryCallback is an asynchronous provider status report
type DeliveryCallback struct {
	ProviderMessageID string  `json:"providerMessageId"`
	Channel           Channel `json:"channel"`
	ProviderStatus    string  `json:"providerStatus"`
	ErrorCode         string  `json:"errorCode,omitempty"`
	ErrorMessage      string  `json:"errorMessage,omitempty"`
}

// ReconcileOutcome reports what a delivery callback did
type ReconcileOutcome string

const (
	OutcomeApplied  ReconcileOutcome = "applied"
	OutcomeIgnored  ReconcileOutcome = "ignored"
	OutcomeNotFound ReconcileOutcome = "not_found"
)

// StatusChangedEvent is published after every persisted status change
type StatusChangedEvent struct {
	NotificationID    string             `json:"notification_id"`
	OwnerID           string             `json:"owner_id,omitempty"`
	Channel           Channel            `json:"channel"`
	From              NotificationStatus `json:"from"`
	To                NotificationStatus `json:"to"`
	ProviderMessageID string             `json:"provider_message_id,omitempty"`
	OccurredAt        time.Time          `json:"occurred_at"`
}

// User is the subset of the user directory record the engine relies on
type User struct {
	ID          string          `json:"_id"`
	Email       string          `json:"email"`
	Phone       string          `json:"phone"`
	PushTargets []string        `json:"fcmTokens"`
	Preferences UserPreferences `json:"notificationPreferences"`
}

// UserPreferences are the per-channel opt-ins of a user. A nil value means
// the directory did not say, which counts as enabled.
type UserPreferences struct {
	Email *bool `json:"email,omitempty"`
	SMS   *bool `json:"sms,omitempty"`
	Push  *bool `json:"push,omitempty"`
}

// Allows reports whether the user accepts notifications on c
func (p UserPreferences) Allows(c Channel) bool {
	var v *bool
	switch c {
	case ChannelEmail:
		v = p.Email
	case ChannelSMS:
		v = p.SMS
	case ChannelPush:
		v = p.Push
	}
	return v == nil || *v
}
