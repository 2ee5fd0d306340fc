package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/dhcgn/clientmail/model"
)

// wireMessage accepts both the plain shape ({from: {address}, to: [...],
// sentAt}) and the Graph shape ({from: {emailAddress: {...}}, toRecipients,
// sentDateTime, receivedDateTime}).
type wireMessage struct {
	ID               string        `json:"id"`
	Subject          string        `json:"subject"`
	Body             model.Body    `json:"body"`
	From             *wireAddress  `json:"from"`
	To               []wireAddress `json:"to"`
	ToRecipients     []wireAddress `json:"toRecipients"`
	SentAt           string        `json:"sentAt"`
	SentDateTime     string        `json:"sentDateTime"`
	ReceivedAt       string        `json:"receivedAt"`
	ReceivedDateTime string        `json:"receivedDateTime"`
}

type wireAddress struct {
	Address      string         `json:"address"`
	Name         string         `json:"name"`
	EmailAddress *model.Address `json:"emailAddress"`
}

func (w wireAddress) address() model.Address {
	if w.EmailAddress != nil {
		return model.Address{
			Address: strings.TrimSpace(w.EmailAddress.Address),
			Name:    strings.TrimSpace(w.EmailAddress.Name),
		}
	}
	return model.Address{Address: strings.TrimSpace(w.Address), Name: strings.TrimSpace(w.Name)}
}

func (w wireMessage) raw() model.RawMessage {
	raw := model.RawMessage{
		ID:         w.ID,
		Subject:    w.Subject,
		Body:       w.Body,
		SentAt:     firstNonEmpty(w.SentAt, w.SentDateTime),
		ReceivedAt: firstNonEmpty(w.ReceivedAt, w.ReceivedDateTime),
	}
	if w.From != nil {
		from := w.From.address()
		raw.From = &from
	}
	recipients := w.To
	if len(recipients) == 0 {
		recipients = w.ToRecipients
	}
	for _, r := range recipients {
		raw.To = append(raw.To, r.address())
	}
	return raw
}

// DecodeJSON reads a message list. The document is either a JSON array of
// messages or an object carrying the array under "value" (a Graph page) or
// "messages".
func DecodeJSON(r io.Reader) ([]model.RawMessage, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read json: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	var wire []wireMessage
	switch data[0] {
	case '[':
		if err := json.Unmarshal(data, &wire); err != nil {
			return nil, fmt.Errorf("decode message array: %w", err)
		}
	case '{':
		var page struct {
			Value    []wireMessage `json:"value"`
			Messages []wireMessage `json:"messages"`
		}
		if err := json.Unmarshal(data, &page); err != nil {
			return nil, fmt.Errorf("decode message page: %w", err)
		}
		wire = append(page.Value, page.Messages...)
	default:
		return nil, fmt.Errorf("decode messages: unexpected %q at start of document", data[0])
	}

	out := make([]model.RawMessage, 0, len(wire))
	for _, w := range wire {
		out = append(out, w.raw())
	}
	return out, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
