package directory

import "log/slog"

// Conflict records an address claimed by more than one client. The first
// owner in directory order keeps it.
type Conflict struct {
	Address  string
	OwnerUID string
	OtherUID string
}

// AddressIndex maps lowercased addresses to the owning client uid.
type AddressIndex struct {
	owners    map[string]string
	conflicts []Conflict
}

// BuildIndex indexes every address of every client. Clients without
// addresses and blank addresses contribute nothing.
func BuildIndex(s *Snapshot, logger *slog.Logger) *AddressIndex {
	idx := &AddressIndex{owners: make(map[string]string)}
	if s == nil {
		return idx
	}
	for _, client := range s.clients {
		for _, address := range client.EmailAddresses {
			key := NormalizeAddress(address)
			if key == "" {
				continue
			}
			owner, exists := idx.owners[key]
			if !exists {
				idx.owners[key] = client.UID
				continue
			}
			if owner == client.UID {
				continue
			}
			idx.conflicts = append(idx.conflicts, Conflict{Address: key, OwnerUID: owner, OtherUID: client.UID})
			if logger != nil {
				logger.Warn("address owned by several clients", "address", key, "owner", owner, "other", client.UID)
			}
		}
	}
	return idx
}

// Lookup returns the owner of address. The address is normalized first.
func (idx *AddressIndex) Lookup(address string) (string, bool) {
	uid, ok := idx.owners[NormalizeAddress(address)]
	return uid, ok
}

// Len returns the number of indexed addresses.
func (idx *AddressIndex) Len() int {
	return len(idx.owners)
}

// Conflicts returns the ambiguous ownerships seen while building.
func (idx *AddressIndex) Conflicts() []Conflict {
	return append([]Conflict(nil), idx.conflicts...)
}
