package dhclient

import (
	"bufio"
	"strings"
)

// Lease is one parsed lease block for a single interface. Later blocks for
// the same interface override earlier ones (spec.md §4.7 variant c).
type Lease struct {
	Interface string
	Address   string
	Gateway   string
	DNS       []string
	Domain    string
	Hostname  string
}

// ParseLeases parses an ISC dhclient lease file: line-oriented,
// whitespace-separated statements terminated by ";", comments starting
// with "#", blocks delimited by "lease {" / "}". A block missing its
// interface key is invalid and discarded.
func ParseLeases(r *bufio.Scanner) map[string]Lease {
	leases := make(map[string]Lease)

	var cur *Lease
	for r.Scan() {
		line := stripComment(r.Text())
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		switch {
		case line == "lease {" || strings.HasPrefix(line, "lease "):
			cur = &Lease{}
			continue
		case line == "}":
			if cur != nil && cur.Interface != "" {
				leases[cur.Interface] = *cur
			}
			cur = nil
			continue
		}

		if cur == nil {
			continue
		}
		applyStatement(cur, line)
	}

	return leases
}

func stripComment(line string) string {
	if i := strings.IndexByte(line, '#'); i >= 0 {
		return line[:i]
	}
	return line
}

// applyStatement parses one semicolon-terminated statement from inside a
// lease block, e.g. `fixed-address 10.0.0.5;` or `option routers 10.0.0.1;`.
func applyStatement(l *Lease, line string) {
	line = strings.TrimSuffix(strings.TrimSpace(line), ";")
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}

	switch fields[0] {
	case "interface":
		l.Interface = unquote(fields[len(fields)-1])
	case "fixed-address":
		if len(fields) > 1 {
			l.Address = strings.TrimSuffix(fields[1], ",")
		}
	case "option":
		applyOption(l, fields[1:])
	}
}

func applyOption(l *Lease, fields []string) {
	if len(fields) == 0 {
		return
	}
	switch fields[0] {
	case "routers":
		if len(fields) > 1 {
			l.Gateway = strings.TrimSuffix(fields[1], ",")
		}
	case "domain-name-servers":
		joined := strings.Join(fields[1:], " ")
		for _, f := range strings.Split(joined, ",") {
			if f = strings.TrimSpace(f); f != "" {
				l.DNS = append(l.DNS, f)
			}
		}
	case "domain-name":
		if len(fields) > 1 {
			l.Domain = unquote(fields[1])
		}
	case "host-name":
		if len(fields) > 1 {
			l.Hostname = unquote(fields[1])
		}
	}
}

func unquote(s string) string {
	return strings.Trim(s, `"`)
}
