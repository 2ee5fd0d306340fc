package ingest

import (
	"bytes"
	"fmt"
	"io"
	netmail "net/mail"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/dhcgn/clientmail/model"
)

// ParseMIME converts one RFC 5322 message into a RawMessage. The text/plain
// part wins over text/html; attachments are ignored.
func ParseMIME(raw []byte) (model.RawMessage, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return model.RawMessage{}, fmt.Errorf("read message: %w", err)
	}
	defer mr.Close()

	header := mr.Header
	msg := model.RawMessage{}

	if id, err := header.MessageID(); err == nil {
		msg.ID = id
	}
	if subject, err := header.Subject(); err == nil {
		msg.Subject = subject
	} else {
		msg.Subject = header.Get("Subject")
	}
	if from, err := header.AddressList("From"); err == nil && len(from) > 0 {
		msg.From = &model.Address{Address: from[0].Address, Name: from[0].Name}
	}
	for _, key := range []string{"To", "Cc"} {
		list, err := header.AddressList(key)
		if err != nil {
			continue
		}
		for _, a := range list {
			msg.To = append(msg.To, model.Address{Address: a.Address, Name: a.Name})
		}
	}
	if date, err := header.Date(); err == nil && !date.IsZero() {
		msg.SentAt = date.UTC().Format(time.RFC3339)
	}
	if received, ok := receivedDate(header.Values("Received")); ok {
		msg.ReceivedAt = received.UTC().Format(time.RFC3339)
	}

	msg.Body = readBody(mr)
	return msg, nil
}

func readBody(mr *mail.Reader) model.Body {
	var plain, html string
	for {
		p, err := mr.NextPart()
		if err != nil {
			// io.EOF or a broken part; keep what was read so far
			break
		}

		h, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, err := h.ContentType()
		if err != nil {
			contentType = "text/plain"
		}
		switch contentType {
		case "text/plain":
			if plain != "" {
				continue
			}
			if body, err := io.ReadAll(p.Body); err == nil {
				plain = string(body)
			}
		case "text/html":
			if html != "" {
				continue
			}
			if body, err := io.ReadAll(p.Body); err == nil {
				html = string(body)
			}
		}
	}
	if strings.TrimSpace(plain) != "" {
		return model.Body{Content: plain, ContentType: "text"}
	}
	if html != "" {
		return model.Body{Content: html, ContentType: "html"}
	}
	return model.Body{Content: plain, ContentType: "text"}
}

// receivedDate takes the date after the last ';' of the topmost Received
// header, which is the one added by the final receiving server.
func receivedDate(values []string) (time.Time, bool) {
	for _, v := range values {
		idx := strings.LastIndex(v, ";")
		if idx < 0 {
			continue
		}
		if t, err := netmail.ParseDate(strings.TrimSpace(v[idx+1:])); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
