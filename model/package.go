package model

import "strings"

// ClientPackage is the correlated correspondence of one client.
type ClientPackage struct {
	ClientUID        string     `json:"clientUid"`
	ClientName       string     `json:"clientName,omitempty"`
	FileAs           string     `json:"fileAs,omitempty"`
	PrincipalAddress string     `json:"principalAddress"`
	RelatedAddresses []string   `json:"relatedAddresses,omitempty"`
	Inbound          []*Message `json:"inbound"`
	Outbound         []*Message `json:"outbound"`
}

// NewClientPackage creates an empty package for client.
func NewClientPackage(client ClientRecord) *ClientPackage {
	return &ClientPackage{
		ClientUID:        client.UID,
		ClientName:       client.Name,
		FileAs:           client.FileAs,
		PrincipalAddress: strings.ToLower(strings.TrimSpace(client.PrincipalAddress())),
		RelatedAddresses: lowerAll(client.RelatedAddresses()),
		Inbound:          []*Message{},
		Outbound:         []*Message{},
	}
}

// Empty reports whether the package holds no message in either direction.
func (p *ClientPackage) Empty() bool {
	return len(p.Inbound) == 0 && len(p.Outbound) == 0
}

// All returns inbound followed by outbound messages.
func (p *ClientPackage) All() []*Message {
	all := make([]*Message, 0, len(p.Inbound)+len(p.Outbound))
	all = append(all, p.Inbound...)
	return append(all, p.Outbound...)
}

// HasAddress reports whether address is the principal or a related address.
func (p *ClientPackage) HasAddress(address string) bool {
	address = strings.ToLower(strings.TrimSpace(address))
	if address == "" {
		return false
	}
	if p.PrincipalAddress == address {
		return true
	}
	for _, related := range p.RelatedAddresses {
		if related == address {
			return true
		}
	}
	return false
}

// FindByUID returns the package of the client with uid.
func FindByUID(packages []*ClientPackage, uid string) *ClientPackage {
	for _, p := range packages {
		if p.ClientUID == uid {
			return p
		}
	}
	return nil
}

// FindByAddress returns the first package owning address.
func FindByAddress(packages []*ClientPackage, address string) *ClientPackage {
	for _, p := range packages {
		if p.HasAddress(address) {
			return p
		}
	}
	return nil
}

func lowerAll(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
