package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// NoSubject replaces an absent subject.
const NoSubject = "(No subject)"

// Direction is relative to the firm: inbound mail comes from a client address,
// outbound mail is sent to one.
type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// Address is a mailbox with an optional display name.
type Address struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

// Body is a message body as supplied by the mail source. It decodes from
// either a plain JSON string or an object carrying a content field.
type Body struct {
	Content     string `json:"content"`
	ContentType string `json:"contentType,omitempty"`
}

func (b *Body) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*b = Body{}
		return nil
	}
	if data[0] == '"' {
		var content string
		if err := json.Unmarshal(data, &content); err != nil {
			return fmt.Errorf("decode body string: %w", err)
		}
		*b = Body{Content: content}
		return nil
	}
	type plain Body
	var decoded plain
	if err := json.Unmarshal(data, &decoded); err != nil {
		return fmt.Errorf("decode body object: %w", err)
	}
	*b = Body(decoded)
	return nil
}

// RawMessage is one mail item as handed over by the mail-fetch collaborator.
// Timestamps stay strings until the message is built.
type RawMessage struct {
	ID         string    `json:"id,omitempty"`
	Subject    string    `json:"subject,omitempty"`
	Body       Body      `json:"body"`
	From       *Address  `json:"from,omitempty"`
	To         []Address `json:"to,omitempty"`
	SentAt     string    `json:"sentAt,omitempty"`
	ReceivedAt string    `json:"receivedAt,omitempty"`
}

// SenderAddress returns the trimmed sender address or "".
func (r RawMessage) SenderAddress() string {
	if r.From == nil {
		return ""
	}
	return strings.TrimSpace(r.From.Address)
}

// Message is the normalized, immutable view of one mail item.
type Message struct {
	ID            string    `json:"id"`
	Direction     Direction `json:"direction"`
	Subject       string    `json:"subject"`
	SenderAddress string    `json:"senderAddress"`
	SenderName    string    `json:"senderName,omitempty"`
	Recipients    []Address `json:"recipients"`
	BodyRaw       string    `json:"-"`
	Text          string    `json:"text"`
	SentAt        time.Time `json:"sentAt,omitzero"`
	ReceivedAt    time.Time `json:"receivedAt,omitzero"`
}

// Timestamp is the sent time when known, otherwise the received time.
func (m *Message) Timestamp() time.Time {
	if !m.SentAt.IsZero() {
		return m.SentAt
	}
	return m.ReceivedAt
}

// RecipientAddresses returns the recipient addresses in order.
func (m *Message) RecipientAddresses() []string {
	out := make([]string, 0, len(m.Recipients))
	for _, r := range m.Recipients {
		out = append(out, r.Address)
	}
	return out
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseTimestamp accepts the ISO 8601 forms mail APIs emit, including minute
// precision and zone-less values (read as UTC).
func ParseTimestamp(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
