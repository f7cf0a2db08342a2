package privilege

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func TestBootstrapSkippedWhenNotRoot(t *testing.T) {
	if unix.Geteuid() == 0 {
		t.Skip("test runs as root; the skip path under test does not apply")
	}
	err := Bootstrap(Config{RunAsUser: "netevd"})
	assert.NoError(t, err, "non-root invocation must not attempt the drop sequence")
}
