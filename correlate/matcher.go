package correlate

import (
	"fmt"
	"strings"

	"github.com/dhcgn/clientmail/directory"
)

// Policy selects how message addresses are resolved to clients.
type Policy string

const (
	// PolicyExact only accepts addresses present in the address index.
	PolicyExact Policy = "exact"
	// PolicyFallback tries the index first and scans for related addresses on a miss.
	PolicyFallback Policy = "fallback"
	// PolicyBroad always uses the related-address scan.
	PolicyBroad Policy = "broad"
)

// ParsePolicy parses a policy name. The empty string selects PolicyExact.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyExact, nil
	case PolicyExact, PolicyFallback, PolicyBroad:
		return p, nil
	default:
		return "", fmt.Errorf("unknown match policy %q (want exact, fallback or broad)", s)
	}
}

// MatchKind tells which path resolved an address.
type MatchKind int

const (
	NoMatch MatchKind = iota
	ExactMatch
	RelatedMatch
)

func (k MatchKind) String() string {
	switch k {
	case ExactMatch:
		return "exact"
	case RelatedMatch:
		return "related"
	default:
		return "none"
	}
}

// Match is the outcome of resolving one address.
type Match struct {
	UID  string
	Kind MatchKind
	// Others lists further clients the related scan would also have accepted.
	Others []string
}

// Matcher resolves message addresses against one directory snapshot. It is
// read-only after construction and safe for concurrent use.
type Matcher struct {
	policy  Policy
	index   *directory.AddressIndex
	clients []scanEntry
}

type scanEntry struct {
	uid       string
	addresses []string
}

// NewMatcher prepares a matcher. The scan table is only built for policies
// that use it.
func NewMatcher(dir *directory.Snapshot, index *directory.AddressIndex, policy Policy) *Matcher {
	m := &Matcher{policy: policy, index: index}
	if policy == PolicyExact {
		return m
	}
	m.clients = make([]scanEntry, 0, dir.Len())
	for i := 0; i < dir.Len(); i++ {
		client := dir.At(i)
		entry := scanEntry{uid: client.UID}
		for _, address := range client.EmailAddresses {
			if key := directory.NormalizeAddress(address); key != "" {
				entry.addresses = append(entry.addresses, key)
			}
		}
		if len(entry.addresses) > 0 {
			m.clients = append(m.clients, entry)
		}
	}
	return m
}

// Match resolves address under the matcher's policy.
func (m *Matcher) Match(address string) Match {
	key := directory.NormalizeAddress(address)
	if key == "" {
		return Match{}
	}
	if m.policy != PolicyBroad {
		if uid, ok := m.index.Lookup(key); ok {
			return Match{UID: uid, Kind: ExactMatch}
		}
		if m.policy == PolicyExact {
			return Match{}
		}
	}
	return m.scan(key)
}

// scan accepts the first client, in directory order, owning an address that
// contains key or is contained in it.
func (m *Matcher) scan(key string) Match {
	var match Match
	for _, client := range m.clients {
		if !client.related(key) {
			continue
		}
		if match.Kind == NoMatch {
			match = Match{UID: client.uid, Kind: RelatedMatch}
			continue
		}
		match.Others = append(match.Others, client.uid)
	}
	return match
}

func (e scanEntry) related(key string) bool {
	for _, address := range e.addresses {
		if strings.Contains(key, address) || strings.Contains(address, key) {
			return true
		}
	}
	return false
}
