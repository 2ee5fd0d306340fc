package dedup

import (
	"fmt"
	"testing"

	"github.com/dhcgn/clientmail/model"
)

func benchMessages(n int) []*model.Message {
	msgs := make([]*model.Message, n)
	for i := range msgs {
		// every fourth message repeats an earlier body
		body := fmt.Sprintf("<p>Regarding contract number %d, please confirm the revised payment schedule before the deadline.</p>", i/4*4+i%3)
		msgs[i] = &model.Message{ID: fmt.Sprint(i), Subject: fmt.Sprintf("Re: contract %d", i), BodyRaw: body}
	}
	return msgs
}

// BenchmarkFingerprint benchmarks fingerprinting of one HTML body
func BenchmarkFingerprint(b *testing.B) {
	body := "<div>Hello,<br>please find attached the signed agreement and the updated invoice for March.</div>"

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Fingerprint(body)
	}
}

// BenchmarkDeduplicate_1000 benchmarks a pass over 1000 messages
func BenchmarkDeduplicate_1000(b *testing.B) {
	msgs := benchMessages(1000)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Deduplicate(msgs)
	}
}
