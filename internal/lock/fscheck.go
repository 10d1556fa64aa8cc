package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNetworkFilesystem is returned when a lock path sits on a network mount
// where flock(2) cannot be relied on.
var ErrNetworkFilesystem = errors.New("lock path is on a network filesystem")

var networkFilesystems = map[string]struct{}{
	"afpfs":  {},
	"cifs":   {},
	"nfs":    {},
	"smbfs":  {},
	"smb2":   {},
	"webdav": {},
}

// CheckLocalFilesystem reports whether lockPath, or its nearest existing
// parent, lives on a local filesystem.
func CheckLocalFilesystem(lockPath string) error {
	return checkLocalFilesystem(lockPath, detectFilesystemType)
}

func checkLocalFilesystem(lockPath string, detect func(string) (string, error)) error {
	if lockPath == "" {
		return fmt.Errorf("lock path is empty")
	}

	inspectPath, err := nearestExistingPath(lockPath)
	if err != nil {
		return fmt.Errorf("resolve lock path %q: %w", lockPath, err)
	}

	fsType, err := detect(inspectPath)
	if err != nil {
		return fmt.Errorf("detect filesystem for %q: %w", inspectPath, err)
	}

	if isNetworkFilesystem(fsType) {
		return fmt.Errorf("%w: %q is on %s; set service.pid_file to a local path", ErrNetworkFilesystem, lockPath, fsType)
	}
	return nil
}

func nearestExistingPath(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("absolute path: %w", err)
	}

	candidate := absPath
	for {
		_, err := os.Stat(candidate)
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat %q: %w", candidate, err)
		}

		parent := filepath.Dir(candidate)
		if parent == candidate {
			return "", fmt.Errorf("no existing parent for %q", absPath)
		}
		candidate = parent
	}
}

func isNetworkFilesystem(fsType string) bool {
	_, found := networkFilesystems[strings.TrimSpace(strings.ToLower(fsType))]
	return found
}
