package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Whitelist is a static set of addresses exempt from alerting and blocking.
// Loaded once at startup and read-only afterwards, so lookups need no locking.
type Whitelist struct {
	addresses map[string]struct{}
}

type whitelistFile struct {
	Addresses []string `yaml:"addresses"`
}

// DefaultWhitelist covers loopback and the gateway infrastructure that must
// never be blocked even under sustained alert volume.
func DefaultWhitelist() *Whitelist {
	return NewWhitelist([]string{"127.0.0.1", "::1"})
}

// NewWhitelist creates a whitelist from a list of addresses
func NewWhitelist(addresses []string) *Whitelist {
	wl := &Whitelist{addresses: make(map[string]struct{}, len(addresses))}
	for _, addr := range addresses {
		wl.addresses[addr] = struct{}{}
	}
	return wl
}

// LoadWhitelist loads a whitelist from a YAML file. Loopback addresses are
// always included regardless of file content.
func LoadWhitelist(path string) (*Whitelist, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read whitelist file: %w", err)
	}

	var wf whitelistFile
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("failed to parse whitelist file: %w", err)
	}

	wl := NewWhitelist(wf.Addresses)
	wl.addresses["127.0.0.1"] = struct{}{}
	wl.addresses["::1"] = struct{}{}
	return wl, nil
}

// Contains reports whether the address is whitelisted
func (wl *Whitelist) Contains(address string) bool {
	if wl == nil {
		return false
	}
	_, ok := wl.addresses[address]
	return ok
}

// Size returns the number of whitelisted addresses
func (wl *Whitelist) Size() int {
	if wl == nil {
		return 0
	}
	return len(wl.addresses)
}
