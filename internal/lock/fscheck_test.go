package lock

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestCheckLocalFilesystem(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		fsType  string
		wantErr bool
	}{
		{name: "ext4 magic", fsType: "0xef53"},
		{name: "apfs", fsType: "apfs"},
		{name: "nfs", fsType: "nfs", wantErr: true},
		{name: "smbfs uppercase", fsType: "SMBFS", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			pidPath := filepath.Join(t.TempDir(), "bridge.pid")
			err := checkLocalFilesystem(pidPath, func(string) (string, error) { return tc.fsType, nil })
			if tc.wantErr {
				if !errors.Is(err, ErrNetworkFilesystem) {
					t.Fatalf("error = %v, want ErrNetworkFilesystem", err)
				}
				if !strings.Contains(err.Error(), "service.pid_file") {
					t.Fatalf("error should point at service.pid_file: %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestCheckLocalFilesystem_UsesNearestExistingPath(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	pidPath := filepath.Join(root, "data", "run", "bridge.pid")

	var inspected string
	err := checkLocalFilesystem(pidPath, func(path string) (string, error) {
		inspected = path
		return "0xef53", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inspected != root {
		t.Fatalf("inspected %q, want nearest existing parent %q", inspected, root)
	}
}

func TestCheckLocalFilesystem_EmptyPath(t *testing.T) {
	if err := CheckLocalFilesystem(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}
