package audio

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"babaphone/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDevicePermission(t *testing.T) {
	dir := t.TempDir()
	p := DevicePermission{Dir: dir}

	assert.ErrorIs(t, p.CheckRecordPermission(), domain.ErrCaptureUnavailable)

	node := filepath.Join(dir, "pcmC0D0c")
	require.NoError(t, os.WriteFile(node, nil, 0o644))
	assert.NoError(t, p.CheckRecordPermission())

	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced")
	}
	require.NoError(t, os.Chmod(node, 0o200))
	assert.ErrorIs(t, p.CheckRecordPermission(), domain.ErrPermissionDenied)
}
