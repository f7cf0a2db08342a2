/*
Package validate implements netevd's input whitelists (C1).

Every externally-sourced string that ends up in a child-process environment,
a message-bus argument, or a kernel routing request is passed through one of
these functions before use — including strings the caller believes it
constructed itself. Validators are pure and side-effect-free; a rejected
string never reaches the caller's map, only an error.
*/
package validate

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/cuemby/netevd/pkg/errs"
)

const maxInterfaceName = 15
const maxHostname = 253
const maxLabel = 63

// InterfaceName validates a Linux interface name: non-empty, at most 15
// characters, each character in [A-Za-z0-9._-].
func InterfaceName(s string) error {
	if s == "" {
		return errs.Invalid("validate.InterfaceName", fmt.Errorf("empty interface name"))
	}
	if len(s) > maxInterfaceName {
		return errs.Invalid("validate.InterfaceName", fmt.Errorf("interface name %q exceeds %d characters", s, maxInterfaceName))
	}
	for _, r := range s {
		if !isInterfaceChar(r) {
			return errs.Invalid("validate.InterfaceName", fmt.Errorf("interface name %q contains illegal character %q", s, r))
		}
	}
	return nil
}

func isInterfaceChar(r rune) bool {
	switch {
	case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		return true
	case r == '.' || r == '_' || r == '-':
		return true
	default:
		return false
	}
}

// Address parses s as a strict IPv4 or IPv6 address; non-parseable strings
// are rejected.
func Address(s string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return netip.Addr{}, errs.Invalid("validate.Address", fmt.Errorf("invalid address %q: %w", s, err))
	}
	return addr, nil
}

// AddressList validates a whitespace-delimited list of addresses.
func AddressList(s string) ([]netip.Addr, error) {
	fields := strings.Fields(s)
	out := make([]netip.Addr, 0, len(fields))
	for _, f := range fields {
		a, err := Address(f)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// Hostname validates a DNS hostname: non-empty, at most 253 characters,
// labels of at most 63 characters matching [A-Za-z0-9-]+ with no leading or
// trailing hyphen, labels separated by ".".
func Hostname(s string) error {
	if s == "" {
		return errs.Invalid("validate.Hostname", fmt.Errorf("empty hostname"))
	}
	if len(s) > maxHostname {
		return errs.Invalid("validate.Hostname", fmt.Errorf("hostname %q exceeds %d characters", s, maxHostname))
	}
	for _, label := range strings.Split(s, ".") {
		if err := validateLabel(label); err != nil {
			return errs.Invalid("validate.Hostname", fmt.Errorf("hostname %q: %w", s, err))
		}
	}
	return nil
}

// DomainName has identical syntax to Hostname (spec.md §4.1).
func DomainName(s string) error { return Hostname(s) }

func validateLabel(label string) error {
	if label == "" {
		return fmt.Errorf("empty label")
	}
	if len(label) > maxLabel {
		return fmt.Errorf("label %q exceeds %d characters", label, maxLabel)
	}
	if label[0] == '-' || label[len(label)-1] == '-' {
		return fmt.Errorf("label %q has a leading or trailing hyphen", label)
	}
	for _, r := range label {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
		default:
			return fmt.Errorf("label %q contains illegal character %q", label, r)
		}
	}
	return nil
}

// StateTag is one of the nine closed hook state tags (spec.md §4.7).
type StateTag string

const (
	StateCarrier      StateTag = "carrier"
	StateNoCarrier    StateTag = "no-carrier"
	StateConfigured   StateTag = "configured"
	StateDegraded     StateTag = "degraded"
	StateRoutable     StateTag = "routable"
	StateActivated    StateTag = "activated"
	StateDisconnected StateTag = "disconnected"
	StateManager      StateTag = "manager"
	StateRoutes       StateTag = "routes"
)

var validStateTags = map[StateTag]bool{
	StateCarrier: true, StateNoCarrier: true, StateConfigured: true,
	StateDegraded: true, StateRoutable: true, StateActivated: true,
	StateDisconnected: true, StateManager: true, StateRoutes: true,
}

// State validates s against the closed enumeration of state tags and returns
// the typed tag.
func State(s string) (StateTag, error) {
	tag := StateTag(s)
	if !validStateTags[tag] {
		return "", errs.Invalid("validate.State", fmt.Errorf("unknown state tag %q", s))
	}
	return tag, nil
}

// illegalEnvRunes are forbidden anywhere in a hook environment value.
const illegalEnvRunes = ";$`&|<>()\n"

// EnvValue rejects strings containing any of `; $ \` & | < > ( )` or a
// newline, per spec.md §4.1.
func EnvValue(s string) error {
	if strings.ContainsAny(s, illegalEnvRunes) {
		return errs.Invalid("validate.EnvValue", fmt.Errorf("value %q contains a forbidden character", s))
	}
	return nil
}
