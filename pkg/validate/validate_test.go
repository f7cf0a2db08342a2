package validate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInterfaceName(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{"simple", "eth0", false},
		{"with dots and dashes", "eth0.100-vlan", false},
		{"empty", "", true},
		{"exactly 15 chars", strings.Repeat("a", 15), false},
		{"16 chars", strings.Repeat("a", 16), true},
		{"semicolon injection", "eth0; rm -rf /", true},
		{"space", "eth 0", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := InterfaceName(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAddress(t *testing.T) {
	valid := []string{"0.0.0.0", "127.0.0.1", "192.168.1.100", "::1", "fe80::1", "fc00::1"}
	for _, s := range valid {
		_, err := Address(s)
		assert.NoError(t, err, "address %q should be accepted", s)
	}

	invalid := []string{"", "not-an-address", "999.999.999.999", "eth0; rm -rf /"}
	for _, s := range invalid {
		_, err := Address(s)
		assert.Error(t, err, "address %q should be rejected", s)
	}
}

func TestAddressList(t *testing.T) {
	addrs, err := AddressList(" 192.168.1.1  10.0.0.1\t2001:db8::1 ")
	assert.NoError(t, err)
	assert.Len(t, addrs, 3)

	_, err = AddressList("192.168.1.1 garbage")
	assert.Error(t, err)
}

func TestHostname(t *testing.T) {
	assert.NoError(t, Hostname("example.com"))
	assert.NoError(t, Hostname("a-b-c.example-1.com"))
	assert.Error(t, Hostname(""))
	assert.Error(t, Hostname("-leading-hyphen.com"))
	assert.Error(t, Hostname("trailing-hyphen-.com"))
	assert.Error(t, Hostname(strings.Repeat("a", 254)))
	assert.Error(t, Hostname(strings.Repeat("a", 64)+".com"))
}

func TestState(t *testing.T) {
	tag, err := State("routable")
	assert.NoError(t, err)
	assert.Equal(t, StateRoutable, tag)

	_, err = State("bogus")
	assert.Error(t, err)
}

func TestEnvValue(t *testing.T) {
	assert.NoError(t, EnvValue("10.0.0.1"))
	assert.NoError(t, EnvValue("eth0"))

	for _, bad := range []string{"a;b", "a$b", "a`b", "a&b", "a|b", "a<b", "a>b", "a(b", "a)b", "a\nb"} {
		assert.Error(t, EnvValue(bad), "expected %q to be rejected", bad)
	}
}
