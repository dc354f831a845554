package validation

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	MaxEmailLength     = 255
	MinPushTokenLength = 21
	MaxTitleLength     = 200
)

var (
	// Email regex pattern (basic validation)
	emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

	// E.164: '+' then up to 15 digits, no leading zero
	e164Regex = regexp.MustCompile(`^\+[1-9][0-9]{6,14}$`)

	// Characters a phone number may carry besides digits and '+'
	phoneSeparators = regexp.MustCompile(`[^0-9+]`)

	countryCodeRegex = regexp.MustCompile(`^[1-9][0-9]{0,3}$`)

	// FCM topic names
	topicRegex = regexp.MustCompile(`^[a-zA-Z0-9\-_.~%]{1,900}$`)
)

// ValidateEmail validates email format
func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)

	if email == "" {
		return fmt.Errorf("email is required")
	}

	if len(email) > MaxEmailLength {
		return fmt.Errorf("email is too long (max %d characters)", MaxEmailLength)
	}

	if !emailRegex.MatchString(email) {
		return fmt.Errorf("invalid email format")
	}

	return nil
}

// NormalizePhone converts a loosely formatted phone number into E.164.
// Separators are stripped, an international "00" prefix becomes '+',
// a leading national '0' is replaced with '+' and countryCode, and a
// number without '+' is prefixed with one.
func NormalizePhone(raw, countryCode string) (string, error) {
	cleaned := phoneSeparators.ReplaceAllString(strings.TrimSpace(raw), "")
	if cleaned == "" {
		return "", fmt.Errorf("phone number is required")
	}
	if strings.Count(cleaned, "+") > 1 || strings.LastIndex(cleaned, "+") > 0 {
		return "", fmt.Errorf("invalid phone number format")
	}

	countryCode = strings.TrimPrefix(strings.TrimSpace(countryCode), "+")

	switch {
	case strings.HasPrefix(cleaned, "+"):
	case strings.HasPrefix(cleaned, "00"):
		cleaned = "+" + cleaned[2:]
	case strings.HasPrefix(cleaned, "0"):
		if !countryCodeRegex.MatchString(countryCode) {
			return "", fmt.Errorf("country code is required for national number")
		}
		cleaned = "+" + countryCode + cleaned[1:]
	default:
		cleaned = "+" + cleaned
	}

	if !e164Regex.MatchString(cleaned) {
		return "", fmt.Errorf("invalid phone number format")
	}

	return cleaned, nil
}

// ValidatePushToken validates the shape of a device token
func ValidatePushToken(token string) error {
	token = strings.TrimSpace(token)

	if token == "" {
		return fmt.Errorf("push token is required")
	}

	if len(token) < MinPushTokenLength {
		return fmt.Errorf("push token is too short")
	}

	if strings.ContainsAny(token, " \t\r\n") {
		return fmt.Errorf("push token must not contain whitespace")
	}

	return nil
}

// ValidateTopic validates a push topic name
func ValidateTopic(topic string) error {
	topic = strings.TrimPrefix(strings.TrimSpace(topic), "/topics/")

	if topic == "" {
		return fmt.Errorf("topic is required")
	}

	if !topicRegex.MatchString(topic) {
		return fmt.Errorf("invalid topic name")
	}

	return nil
}

// ValidateTitle validates a notification title
func ValidateTitle(title string) error {
	title = strings.TrimSpace(title)

	if title == "" {
		return fmt.Errorf("title is required")
	}

	if len(title) > MaxTitleLength {
		return fmt.Errorf("title is too long (max %d characters)", MaxTitleLength)
	}

	return nil
}
