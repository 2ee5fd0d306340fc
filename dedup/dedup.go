// Package dedup collapses near-duplicate messages, such as the copies of one
// text that pile up in a reply or forward chain.
package dedup

import (
	"strings"
	"unicode/utf8"

	"github.com/dhcgn/clientmail/model"
	"github.com/dhcgn/clientmail/normalize"
)

const (
	// MinContentLength is the shortest normalized body that gets a fingerprint.
	MinContentLength = 20
	// MinWordLength is exclusive: only words longer than this are significant.
	MinWordLength = 4
	// FingerprintWords caps the number of significant words in a fingerprint.
	FingerprintWords = 20
)

// Duplicate pairs a dropped message with the one that replaced it.
type Duplicate struct {
	Index   int
	KeptBy  int
	Message *model.Message
	Kept    *model.Message
}

// Fingerprint returns the significant-word fingerprint of a raw body. ok is
// false only when the content is too short. Content without a significant
// word has the empty fingerprint.
func Fingerprint(body string) (fingerprint string, ok bool) {
	content := strings.ToLower(normalize.Normalize(body))
	if utf8.RuneCountInString(content) < MinContentLength {
		return "", false
	}

	words := make([]string, 0, FingerprintWords)
	for _, w := range strings.Fields(content) {
		if utf8.RuneCountInString(w) <= MinWordLength {
			continue
		}
		words = append(words, w)
		if len(words) == FingerprintWords {
			break
		}
	}
	return strings.Join(words, " "), true
}

// Deduplicate returns msgs without near-duplicates, order preserved. Of two
// messages sharing a fingerprint, the one with the shorter subject is dropped;
// on a tie the later one stays. nil entries are dropped. The input slice is
// not modified, and running the result through again returns it unchanged.
func Deduplicate(msgs []*model.Message) []*model.Message {
	droppedBy := mark(msgs)
	out := make([]*model.Message, 0, len(msgs))
	for i, m := range msgs {
		if m == nil || droppedBy[i] >= 0 {
			continue
		}
		out = append(out, m)
	}
	return out
}

// Duplicates lists the messages Deduplicate would drop.
func Duplicates(msgs []*model.Message) []Duplicate {
	var dups []Duplicate
	for i, by := range mark(msgs) {
		if by >= 0 {
			dups = append(dups, Duplicate{Index: i, KeptBy: by, Message: msgs[i], Kept: msgs[by]})
		}
	}
	return dups
}

// mark returns, per index, the index of the message that replaced it, or -1.
func mark(msgs []*model.Message) []int {
	droppedBy := make([]int, len(msgs))
	for i := range droppedBy {
		droppedBy[i] = -1
	}

	seen := make(map[string]int)
	for i, m := range msgs {
		if m == nil || droppedBy[i] >= 0 {
			continue
		}
		fp, ok := Fingerprint(m.BodyRaw)
		if !ok {
			continue
		}
		j, found := seen[fp]
		if !found {
			seen[fp] = i
			continue
		}
		if subjectLen(m) >= subjectLen(msgs[j]) {
			droppedBy[j] = i
			seen[fp] = i
			for k := range droppedBy {
				if droppedBy[k] == j {
					droppedBy[k] = i
				}
			}
			continue
		}
		droppedBy[i] = j
	}
	return droppedBy
}

func subjectLen(m *model.Message) int {
	return utf8.RuneCountInString(m.Subject)
}
