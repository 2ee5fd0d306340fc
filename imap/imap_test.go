package imap

import (
	"context"
	"errors"
	"testing"
	"time"

	imapv2 "github.com/emersion/go-imap/v2"
)

func TestNewFetcher_Validation(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{"ok", Options{Host: "mail.example.com", Port: 993}, false},
		{"missing host", Options{Port: 993}, true},
		{"bad port", Options{Host: "mail.example.com"}, true},
		{"negative limit", Options{Host: "mail.example.com", Port: 993, Limit: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFetcher(tt.opts, nil)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewFetcher() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFetchFolder_EmptyName(t *testing.T) {
	f, err := NewFetcher(Options{Host: "mail.example.com", Port: 993}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.FetchFolder(context.Background(), " "); !errors.Is(err, ErrEmptyFolder) {
		t.Errorf("FetchFolder() error = %v, want ErrEmptyFolder", err)
	}
}

func TestFetchRange(t *testing.T) {
	tests := []struct {
		num       uint32
		limit     int
		start     uint32
		stop      uint32
		wantFetch bool
	}{
		{0, 0, 0, 0, false},
		{10, 0, 1, 10, true},
		{10, 3, 8, 10, true},
		{10, 10, 1, 10, true},
		{10, 50, 1, 10, true},
	}
	for _, tt := range tests {
		start, stop, ok := fetchRange(tt.num, tt.limit)
		if start != tt.start || stop != tt.stop || ok != tt.wantFetch {
			t.Errorf("fetchRange(%d, %d) = %d, %d, %v", tt.num, tt.limit, start, stop, ok)
		}
	}
}

func TestToRawMessage_EnvelopeFallback(t *testing.T) {
	date := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	env := &imapv2.Envelope{
		Date:      date,
		Subject:   "Status",
		MessageID: "abc@example.com",
		From:      []imapv2.Address{{Name: "Client", Mailbox: "c", Host: "x.com"}},
		To:        []imapv2.Address{{Mailbox: "me", Host: "firm.com"}},
		Cc:        []imapv2.Address{{Mailbox: "boss", Host: "firm.com"}},
	}
	msg, err := toRawMessage(nil, env, date.Add(time.Minute))
	if err != nil {
		t.Fatalf("toRawMessage() error = %v", err)
	}
	if msg.ID != "abc@example.com" || msg.Subject != "Status" || msg.SenderAddress() != "c@x.com" {
		t.Errorf("msg = %+v", msg)
	}
	if len(msg.To) != 2 || msg.To[1].Address != "boss@firm.com" {
		t.Errorf("to = %+v", msg.To)
	}
	if msg.SentAt != "2024-06-01T12:00:00Z" || msg.ReceivedAt != "2024-06-01T12:01:00Z" {
		t.Errorf("timestamps = %q / %q", msg.SentAt, msg.ReceivedAt)
	}

	if _, err := toRawMessage(nil, nil, time.Time{}); err == nil {
		t.Error("toRawMessage() without body and envelope expected error")
	}
}

func TestToRawMessage_BodyWins(t *testing.T) {
	body := []byte("Message-ID: <body@x.com>\r\nFrom: a@x.com\r\nTo: me@firm.com\r\nSubject: From body\r\nDate: Sat, 1 Jun 2024 10:00:00 +0000\r\n\r\nhello\r\n")
	env := &imapv2.Envelope{Subject: "From envelope", MessageID: "env@x.com"}
	msg, err := toRawMessage(body, env, time.Time{})
	if err != nil {
		t.Fatalf("toRawMessage() error = %v", err)
	}
	if msg.ID != "body@x.com" || msg.Subject != "From body" || msg.SentAt != "2024-06-01T10:00:00Z" {
		t.Errorf("msg = %+v", msg)
	}
}
