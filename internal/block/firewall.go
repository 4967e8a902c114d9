package block

import (
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
)

// Firewall is the enforcement capability the watcher drives. Implementations
// must tolerate being called for an already-blocked address.
type Firewall interface {
	Block(address string) error
	IsBlocked(address string) (bool, error)
}

// IPTables enforces blocks by inserting DROP rules into an iptables chain
type IPTables struct {
	chain  string
	logger *slog.Logger
	runner func(args ...string) ([]byte, error)
}

// NewIPTables creates an iptables enforcer for the given chain
// (conventionally INPUT)
func NewIPTables(chain string, logger *slog.Logger) *IPTables {
	return &IPTables{
		chain:  chain,
		logger: logger,
		runner: func(args ...string) ([]byte, error) {
			return exec.Command("iptables", args...).CombinedOutput()
		},
	}
}

// Block inserts a DROP rule at the top of the chain. Inserting for an
// address that already has a rule is harmless; the registry keeps it from
// happening in normal operation.
func (f *IPTables) Block(address string) error {
	out, err := f.runner("-I", f.chain, "-s", address, "-j", "DROP")
	if err != nil {
		return fmt.Errorf("iptables insert failed for %s: %w (%s)",
			address, err, strings.TrimSpace(string(out)))
	}

	f.logger.Info("Address blocked via iptables", "address", address, "chain", f.chain)
	return nil
}

// IsBlocked probes for an existing DROP rule with iptables -C
func (f *IPTables) IsBlocked(address string) (bool, error) {
	out, err := f.runner("-C", f.chain, "-s", address, "-j", "DROP")
	if err == nil {
		return true, nil
	}

	// -C exits non-zero when the rule does not exist; only treat other
	// failures (missing binary, no privilege) as errors.
	if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
		return false, nil
	}
	return false, fmt.Errorf("iptables check failed for %s: %w (%s)",
		address, err, strings.TrimSpace(string(out)))
}

// DryRun is a firewall that records blocks without touching the host.
// Used when running unprivileged.
type DryRun struct {
	mu      sync.Mutex
	blocked map[string]struct{}
	logger  *slog.Logger
}

// NewDryRun creates a no-op firewall
func NewDryRun(logger *slog.Logger) *DryRun {
	return &DryRun{
		blocked: make(map[string]struct{}),
		logger:  logger,
	}
}

// Block records the address without enforcement
func (f *DryRun) Block(address string) error {
	f.mu.Lock()
	f.blocked[address] = struct{}{}
	f.mu.Unlock()

	f.logger.Info("Dry run: would block address", "address", address)
	return nil
}

// IsBlocked reports whether a dry-run block was recorded
func (f *DryRun) IsBlocked(address string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.blocked[address]
	return ok, nil
}
