package audio

import (
	"fmt"
	"os"
	"path/filepath"

	"babaphone/internal/core/domain"
)

// DefaultSoundDir holds the ALSA device nodes.
const DefaultSoundDir = "/dev/snd"

// PermissionChecker reports whether this process may record audio.
type PermissionChecker interface {
	CheckRecordPermission() error
}

// DevicePermission checks that at least one capture node under Dir is
// readable by this process.
type DevicePermission struct {
	Dir string
}

func (p DevicePermission) CheckRecordPermission() error {
	dir := p.Dir
	if dir == "" {
		dir = DefaultSoundDir
	}
	nodes, err := filepath.Glob(filepath.Join(dir, "pcmC*D*c"))
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrCaptureUnavailable, err)
	}
	if len(nodes) == 0 {
		if _, err := os.Stat(dir); os.IsPermission(err) {
			return fmt.Errorf("%w: %s", domain.ErrPermissionDenied, dir)
		}
		return fmt.Errorf("%w: no capture device in %s", domain.ErrCaptureUnavailable, dir)
	}
	for _, n := range nodes {
		if canRead(n) {
			return nil
		}
	}
	return fmt.Errorf("%w: cannot read %s", domain.ErrPermissionDenied, nodes[0])
}

// PermissionFunc adapts a function to PermissionChecker.
type PermissionFunc func() error

func (f PermissionFunc) CheckRecordPermission() error { return f() }
