//go:build !darwin && !linux

package lock

import "fmt"

func detectFilesystemType(string) (string, error) {
	return "", fmt.Errorf("filesystem detection is unsupported on this platform")
}
