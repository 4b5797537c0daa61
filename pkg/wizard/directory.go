package wizard

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/noxsuite/noxinstall/pkg/engine"
	"github.com/noxsuite/noxinstall/pkg/probe"
)

// MinFreeSpaceGB is the free space an install directory must offer.
const MinFreeSpaceGB = 2.0

// SystemInstallDirectory is the default target for elevated Unix installs.
const SystemInstallDirectory = "/opt/noxsuite"

// HomeInstallDirectory returns the install directory inside the user's home.
func HomeInstallDirectory(info engine.SystemInfo) string {
	name := "noxsuite"
	if info.OSType == engine.OSWindows {
		name = "NoxSuite"
	}
	home := info.HomeDir
	if home == "" {
		if h, err := os.UserHomeDir(); err == nil {
			home = h
		}
	}
	return filepath.Join(home, name)
}

// DefaultInstallDirectory picks the default target: the system-wide path for
// elevated Unix users, the home directory otherwise. Windows always uses the
// home directory to stay clear of Program Files.
func DefaultInstallDirectory(info engine.SystemInfo) string {
	if info.OSType != engine.OSWindows && info.Permissions.Elevated {
		return SystemInstallDirectory
	}
	return HomeInstallDirectory(info)
}

// ValidateDirectory checks that dir can be used as an install target.
// freeSpace may be nil to use the real filesystem.
func ValidateDirectory(dir string, info engine.SystemInfo, freeSpace func(string) (float64, error)) error {
	if strings.TrimSpace(dir) == "" {
		return engine.NewValidationError("install directory is empty", nil)
	}
	if info.OSType == engine.OSWindows && strings.Contains(dir, " ") {
		return engine.NewValidationError("Avoid spaces in path on Windows (causes Docker issues)", nil).
			WithDetail("directory", dir)
	}

	parent := filepath.Dir(dir)
	if fi, err := os.Stat(parent); err != nil || !fi.IsDir() {
		return engine.NewValidationError("Parent directory doesn't exist: "+parent, err).
			WithDetail("directory", dir)
	}

	target := parent
	if fi, err := os.Stat(dir); err == nil {
		if !fi.IsDir() {
			return engine.NewValidationError("Install path exists and is not a directory: "+dir, nil)
		}
		target = dir
	}
	if !probe.CanWrite(target, fmt.Sprintf(".nox_test_%d", time.Now().UnixNano())) {
		return engine.NewValidationError("No write permission in "+target, nil).
			WithCode(engine.ErrCodePermissionDenied).
			WithDetail("directory", dir)
	}

	if freeSpace == nil {
		freeSpace = probe.FreeSpaceGB
	}
	if free, err := freeSpace(target); err == nil && free < MinFreeSpaceGB {
		return engine.NewValidationError(fmt.Sprintf("Insufficient disk space: %.1fGB free (need %.0fGB)", free, MinFreeSpaceGB), nil).
			WithCode(engine.ErrCodeDiskSpace).
			WithDetail("free_gb", free)
	}

	return nil
}
