package netlinkx

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cuemby/netevd/pkg/state"
)

func TestClassifyScope(t *testing.T) {
	tests := []struct {
		prefix string
		want   state.AddrScope
	}{
		{"127.0.0.1/8", state.ScopeLinkLocal},
		{"::1/128", state.ScopeLinkLocal},
		{"fe80::1/64", state.ScopeLinkLocal},
		{"fc00::1/7", state.ScopeUniqueLocal},
		{"fd12:3456::1/64", state.ScopeUniqueLocal},
		{"192.168.1.100/24", state.ScopeGlobal},
		{"2001:db8::1/64", state.ScopeGlobal},
	}
	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			got := ClassifyScope(netip.MustParsePrefix(tt.prefix))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFakeImplementsClient(t *testing.T) {
	var _ Client = NewFake()
}
