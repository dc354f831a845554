package twilio

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/url"
	"sort"
	"strings"

	"notify-service/internal/domain/entity"
)

// SignatureHeader carries the request signature on status callbacks
const SignatureHeader = "X-Twilio-Signature"

// Signature computes the X-Twilio-Signature of a form POST to fullURL
func Signature(authToken, fullURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		for _, v := range params[k] {
			b.WriteString(k)
			b.WriteString(v)
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// ValidSignature reports whether signature matches the request. An empty
// auth token never validates.
func ValidSignature(authToken, fullURL string, params url.Values, signature string) bool {
	if authToken == "" || signature == "" {
		return false
	}
	expected := Signature(authToken, fullURL, params)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// ParseCallback converts a status callback form into a delivery callback
func ParseCallback(form url.Values) (entity.DeliveryCallback, error) {
	sid := form.Get("MessageSid")
	if sid == "" {
		sid = form.Get("SmsSid")
	}
	status := form.Get("MessageStatus")
	if status == "" {
		status = form.Get("SmsStatus")
	}
	if sid == "" {
		return entity.DeliveryCallback{}, entity.NewValidationError("MessageSid", "message sid is required")
	}
	if status == "" {
		return entity.DeliveryCallback{}, entity.NewValidationError("MessageStatus", "message status is required")
	}

	return entity.DeliveryCallback{
		ProviderMessageID: sid,
		Channel:           entity.ChannelSMS,
		ProviderStatus:    status,
		ErrorCode:         form.Get("ErrorCode"),
		ErrorMessage:      form.Get("ErrorMessage"),
	}, nil
}
