package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dhcgn/clientmail/model"
)

func TestDecodeJSON_PlainShape(t *testing.T) {
	doc := `[
		{"id": "1", "subject": "Hi", "body": "plain body", "from": {"address": "a@x.com", "name": "A"},
		 "to": [{"address": "me@firm.com"}], "sentAt": "2024-01-01T00:00Z"},
		{"body": {"content": "<p>x</p>", "contentType": "html"}, "to": [{"address": "b@y.com"}], "receivedAt": "2024-01-02"}
	]`
	msgs, err := DecodeJSON(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("DecodeJSON() error = %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].SenderAddress() != "a@x.com" || msgs[0].Body.Content != "plain body" || msgs[0].SentAt != "2024-01-01T00:00Z" {
		t.Errorf("first message = %+v", msgs[0])
	}
	if msgs[1].From != nil || msgs[1].Body.ContentType != "html" || msgs[1].To[0].Address != "b@y.com" {
		t.Errorf("second message = %+v", msgs[1])
	}
}

func TestDecodeJSON_GraphShape(t *testing.T) {
	doc := `{"value": [{
		"id": "AAMk",
		"subject": "Invoice",
		"body": {"contentType": "html", "content": "<div>Pay</div>"},
		"from": {"emailAddress": {"address": "Client@X.com", "name": "Client"}},
		"toRecipients": [{"emailAddress": {"address": "me@firm.com"}}],
		"sentDateTime": "2024-05-01T08:00:00Z",
		"receivedDateTime": "2024-05-01T08:00:02Z"
	}]}`
	msgs, err := DecodeJSON(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("DecodeJSON() error = %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	m := msgs[0]
	if m.SenderAddress() != "Client@X.com" || m.From.Name != "Client" {
		t.Errorf("from = %+v", m.From)
	}
	if len(m.To) != 1 || m.To[0].Address != "me@firm.com" {
		t.Errorf("to = %+v", m.To)
	}
	if m.SentAt != "2024-05-01T08:00:00Z" || m.ReceivedAt != "2024-05-01T08:00:02Z" {
		t.Errorf("timestamps = %q / %q", m.SentAt, m.ReceivedAt)
	}
}

func TestDecodeJSON_Errors(t *testing.T) {
	for _, doc := range []string{`"nope"`, `[{"body": 42}]`, `{"value": 1}`} {
		if _, err := DecodeJSON(strings.NewReader(doc)); err == nil {
			t.Errorf("DecodeJSON(%s) expected error", doc)
		}
	}
	msgs, err := DecodeJSON(strings.NewReader("  "))
	if err != nil || len(msgs) != 0 {
		t.Errorf("DecodeJSON(empty) = %v, %v", msgs, err)
	}
}

func TestLoadMbox(t *testing.T) {
	msgs, err := LoadMbox(context.Background(), filepath.Join("testdata", "sample.mbox"), nil)
	if err != nil {
		t.Fatalf("LoadMbox() error = %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}

	first := msgs[0]
	if first.ID != "m1@client.com" || first.Subject != "Contract draft" {
		t.Errorf("first = %+v", first)
	}
	if first.SenderAddress() != "alice@client.com" || first.From.Name != "Alice Client" {
		t.Errorf("first.From = %+v", first.From)
	}
	if first.SentAt != "2024-01-01T09:00:00Z" || first.ReceivedAt != "2024-01-01T09:00:05Z" {
		t.Errorf("first timestamps = %q / %q", first.SentAt, first.ReceivedAt)
	}
	if !strings.Contains(first.Body.Content, "please find the draft") {
		t.Errorf("first body = %q", first.Body.Content)
	}

	second := msgs[1]
	if second.Subject != "Re: Contract dräft" {
		t.Errorf("second subject = %q", second.Subject)
	}
	var rcpts []string
	for _, a := range second.To {
		rcpts = append(rcpts, a.Address)
	}
	if got := strings.Join(rcpts, ","); got != "alice@client.com,carol@other.org,dave@client.com" {
		t.Errorf("second recipients = %s", got)
	}
	if second.SentAt != "2024-01-02T09:00:00Z" {
		t.Errorf("second sentAt = %q", second.SentAt)
	}
	if second.Body.ContentType != "html" || !strings.Contains(second.Body.Content, "<b>Alice</b>") {
		t.Errorf("second body = %+v", second.Body)
	}
}

func TestReadMbox_StopsOnCallbackError(t *testing.T) {
	file, err := os.Open(filepath.Join("testdata", "sample.mbox"))
	if err != nil {
		t.Fatal(err)
	}
	defer file.Close()

	stop := errors.New("stop")
	calls := 0
	err = ReadMbox(context.Background(), file, nil, func(model.RawMessage) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) || calls != 1 {
		t.Errorf("ReadMbox() = %v after %d calls", err, calls)
	}
}

func TestReadMbox_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := ReadMbox(ctx, strings.NewReader(""), nil, func(model.RawMessage) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("ReadMbox() error = %v, want context.Canceled", err)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "inbound.JSON")
	if err := os.WriteFile(path, []byte(`[{"subject":"x","from":{"address":"a@x.com"}}]`), 0o600); err != nil {
		t.Fatal(err)
	}
	msgs, err := LoadFile(context.Background(), path, nil)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("LoadFile(json) = %v, %v", msgs, err)
	}

	msgs, err = LoadFile(context.Background(), filepath.Join("testdata", "sample.mbox"), nil)
	if err != nil || len(msgs) != 2 {
		t.Fatalf("LoadFile(mbox) = %d messages, %v", len(msgs), err)
	}

	if _, err := LoadFile(context.Background(), " ", nil); !errors.Is(err, ErrEmptyPath) {
		t.Errorf("LoadFile(blank) error = %v, want ErrEmptyPath", err)
	}
	if _, err := LoadFile(context.Background(), filepath.Join(dir, "missing.json"), nil); err == nil {
		t.Error("LoadFile(missing) expected error")
	}
}

func TestReceivedDate(t *testing.T) {
	got, ok := receivedDate([]string{"by mx; no date here", "from a by b; Tue, 2 Jan 2024 10:00:00 +0000"})
	if !ok || got.Day() != 2 {
		t.Errorf("receivedDate() = %v, %v", got, ok)
	}
	if _, ok := receivedDate(nil); ok {
		t.Error("receivedDate(nil) should fail")
	}
}
