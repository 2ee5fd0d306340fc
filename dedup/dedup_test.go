package dedup

import (
	"fmt"
	"strings"
	"testing"

	"github.com/dhcgn/clientmail/model"
)

const meetingBody = "Please review the attached quarterly numbers before Thursday meeting, " +
	"especially revenue figures and staffing projections for planning."

func msg(id, subject, body string) *model.Message {
	return &model.Message{ID: id, Subject: subject, BodyRaw: body}
}

func ids(msgs []*model.Message) string {
	parts := make([]string, len(msgs))
	for i, m := range msgs {
		parts[i] = m.ID
	}
	return strings.Join(parts, ",")
}

func TestFingerprint(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		want   string
		wantOK bool
	}{
		{name: "too short", body: "ok thanks", wantOK: false},
		{name: "no significant words", body: "a bb ccc dddd a bb ccc dddd", want: "", wantOK: true},
		{name: "lowercased significant words", body: "<p>Hello THERE, quick update on the Contract</p>", want: "hello there, quick update contract", wantOK: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Fingerprint(tt.body)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("Fingerprint() = %q, %v; want %q, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestFingerprint_CapsWords(t *testing.T) {
	var words []string
	for i := 0; i < 30; i++ {
		words = append(words, fmt.Sprintf("word%02d", i))
	}
	fp, ok := Fingerprint(strings.Join(words, " "))
	if !ok {
		t.Fatal("expected fingerprint")
	}
	if n := len(strings.Fields(fp)); n != FingerprintWords {
		t.Errorf("fingerprint has %d words, want %d", n, FingerprintWords)
	}
}

func TestDeduplicate_KeepsLongerSubject(t *testing.T) {
	msgs := []*model.Message{
		msg("short", "Re: Meeting", meetingBody),
		msg("long", "Meeting Notes and Action Items", "<div>"+meetingBody+"</div>"),
	}
	got := Deduplicate(msgs)
	if ids(got) != "long" {
		t.Errorf("Deduplicate() = %s, want long", ids(got))
	}

	// Reversed order gives the same survivor.
	got = Deduplicate([]*model.Message{msgs[1], msgs[0]})
	if ids(got) != "long" {
		t.Errorf("Deduplicate(reversed) = %s, want long", ids(got))
	}
}

func TestDeduplicate_Cases(t *testing.T) {
	other := "Completely different content regarding invoice payment schedules and overdue balances."
	tests := []struct {
		name string
		in   []*model.Message
		want string
	}{
		{
			name: "distinct content kept",
			in:   []*model.Message{msg("a", "A", meetingBody), msg("b", "B", other)},
			want: "a,b",
		},
		{
			name: "tie keeps later",
			in:   []*model.Message{msg("a", "Contract", meetingBody), msg("b", "Contrakt", meetingBody)},
			want: "b",
		},
		{
			name: "only short words share the empty fingerprint",
			in:   []*model.Message{msg("x", "Hi", "a b c d e f g h i j k l m n o"), msg("y", "Hello", "a b c d e f g h i j k l m n o")},
			want: "y",
		},
		{
			name: "short-word texts collapse even when different",
			in:   []*model.Message{msg("x", "Hello", "a b c d e f g h i j k l m n o"), msg("y", "Hi", "p q r s t u v w x y z a b c d")},
			want: "x",
		},
		{
			name: "short bodies never collapse",
			in:   []*model.Message{msg("a", "x", "thanks!"), msg("b", "xyz", "thanks!")},
			want: "a,b",
		},
		{
			name: "chain keeps the longest subject",
			in: []*model.Message{
				msg("a", "Re: Q", meetingBody),
				msg("b", "Re: Quarterly", meetingBody),
				msg("c", "Fwd", meetingBody),
				msg("d", "Quarterly numbers review", meetingBody),
			},
			want: "d",
		},
		{
			name: "quoted reply header ignored",
			in: []*model.Message{
				msg("a", "Re: Numbers", "On Tue, Bob <bob@x.com> wrote:\n> earlier\n"+meetingBody),
				msg("b", "Numbers", meetingBody+"\n---\nBob Smith\nAcme"),
			},
			want: "a",
		},
		{
			name: "nil dropped",
			in:   []*model.Message{nil, msg("a", "A", meetingBody)},
			want: "a",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ids(Deduplicate(tt.in)); got != tt.want {
				t.Errorf("Deduplicate() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDeduplicate_Idempotent(t *testing.T) {
	other := "Completely different content regarding invoice payment schedules and overdue balances."
	in := []*model.Message{
		msg("a", "Re: Q", meetingBody),
		msg("b", "Invoice", other),
		msg("c", "Quarterly review", meetingBody),
		msg("d", "Re: Invoice", other),
		msg("e", "hi", "short"),
		msg("f", "Quarterly review", meetingBody),
	}
	once := Deduplicate(in)
	twice := Deduplicate(once)
	if ids(once) != ids(twice) {
		t.Errorf("not idempotent: %s then %s", ids(once), ids(twice))
	}
	if ids(once) != "d,e,f" {
		t.Errorf("Deduplicate() = %s, want d,e,f", ids(once))
	}
	if len(in) != 6 || in[0].ID != "a" {
		t.Error("input slice modified")
	}
}

func TestDuplicates(t *testing.T) {
	in := []*model.Message{
		msg("a", "Re: Q", meetingBody),
		msg("b", "Re: Quarterly", meetingBody),
		msg("c", "Quarterly numbers review", meetingBody),
	}
	dups := Duplicates(in)
	if len(dups) != 2 {
		t.Fatalf("Duplicates() = %d entries, want 2", len(dups))
	}
	for _, d := range dups {
		if d.KeptBy != 2 {
			t.Errorf("duplicate %s kept by %d, want 2", d.Message.ID, d.KeptBy)
		}
	}
}
