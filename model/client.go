package model

import (
	"strings"
	"time"
)

// ClientRecord is one entry of the client directory.
type ClientRecord struct {
	UID            string    `json:"uid" yaml:"uid"`
	Name           string    `json:"name" yaml:"name"`
	FileAs         string    `json:"fileAs" yaml:"fileAs"`
	Status         string    `json:"status,omitempty" yaml:"status,omitempty"`
	EmailAddresses []string  `json:"emails" yaml:"emails"`
	Phone          string    `json:"phone,omitempty" yaml:"phone,omitempty"`
	Description    string    `json:"description,omitempty" yaml:"description,omitempty"`
	ReferralSource string    `json:"referralSource,omitempty" yaml:"referralSource,omitempty"`
	CreatedAt      time.Time `json:"createdAt,omitempty" yaml:"createdAt,omitempty"`
	UpdatedAt      time.Time `json:"updatedAt,omitempty" yaml:"updatedAt,omitempty"`
}

// PrincipalAddress returns the first address of the client, or "" when it has none.
func (c ClientRecord) PrincipalAddress() string {
	if len(c.EmailAddresses) == 0 {
		return ""
	}
	return c.EmailAddresses[0]
}

// RelatedAddresses returns every address after the principal one.
func (c ClientRecord) RelatedAddresses() []string {
	if len(c.EmailAddresses) < 2 {
		return nil
	}
	related := make([]string, len(c.EmailAddresses)-1)
	copy(related, c.EmailAddresses[1:])
	return related
}

// SetPrimaryAddress moves address to the front of the list, inserting it when missing.
func (c *ClientRecord) SetPrimaryAddress(address string) {
	address = strings.TrimSpace(address)
	if address == "" {
		return
	}
	for i, existing := range c.EmailAddresses {
		if existing != address {
			continue
		}
		if i == 0 {
			return
		}
		copy(c.EmailAddresses[1:i+1], c.EmailAddresses[:i])
		c.EmailAddresses[0] = address
		return
	}
	c.EmailAddresses = append([]string{address}, c.EmailAddresses...)
}

// AddressesText renders the address list one per line.
func (c ClientRecord) AddressesText() string {
	return strings.Join(c.EmailAddresses, "\n")
}

// SetAddressesFromText replaces the address list with the non-blank lines of text.
func (c *ClientRecord) SetAddressesFromText(text string) {
	var addresses []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			addresses = append(addresses, line)
		}
	}
	c.EmailAddresses = addresses
}

// Clone returns a deep copy of the record.
func (c ClientRecord) Clone() ClientRecord {
	clone := c
	if c.EmailAddresses != nil {
		clone.EmailAddresses = append([]string(nil), c.EmailAddresses...)
	}
	return clone
}
