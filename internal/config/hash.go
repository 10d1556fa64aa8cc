package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

// ChecksumFile is the manifest name written next to a config file.
const ChecksumFile = ".checksums"

// ChecksumManifest records the expected BLAKE3 hash of config files in a
// directory, keyed by base name.
type ChecksumManifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}

// ComputeBlake3Hash computes the BLAKE3 hash of a file.
func ComputeBlake3Hash(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// VerifyFileHash verifies a file against an expected BLAKE3 hash.
func VerifyFileHash(filePath, expectedHash string) error {
	actualHash, err := ComputeBlake3Hash(filePath)
	if err != nil {
		return fmt.Errorf("failed to compute hash: %w", err)
	}

	if actualHash != expectedHash {
		return fmt.Errorf("hash mismatch for %s: expected %s, got %s",
			filepath.Base(filePath), expectedHash, actualHash)
	}
	return nil
}

// LockConfig hashes configFile and records it in the directory's
// .checksums manifest, keeping entries for other files. It returns the
// manifest path and the new hash.
func LockConfig(configFile string) (string, string, error) {
	absPath, err := filepath.Abs(configFile)
	if err != nil {
		return "", "", fmt.Errorf("failed to resolve %s: %w", configFile, err)
	}

	hash, err := ComputeBlake3Hash(absPath)
	if err != nil {
		return "", "", err
	}

	dir := filepath.Dir(absPath)
	manifest, err := LoadChecksums(dir)
	if err != nil {
		return "", "", err
	}
	if manifest == nil {
		manifest = &ChecksumManifest{Version: 1, Hashes: make(map[string]string)}
	}
	manifest.GeneratedAt = time.Now().UTC().Format(time.RFC3339)
	manifest.Hashes[filepath.Base(absPath)] = hash

	data, err := yaml.Marshal(manifest)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal checksums: %w", err)
	}

	checksumPath := filepath.Join(dir, ChecksumFile)
	// Restrictive permissions; the manifest is a trust anchor.
	if err := os.WriteFile(checksumPath, data, 0600); err != nil {
		return "", "", fmt.Errorf("failed to write checksums: %w", err)
	}
	return checksumPath, hash, nil
}

// LoadChecksums reads the .checksums file from a config directory.
// A missing manifest returns (nil, nil).
func LoadChecksums(configDir string) (*ChecksumManifest, error) {
	checksumPath := filepath.Join(configDir, ChecksumFile)

	data, err := os.ReadFile(checksumPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read checksums: %w", err)
	}

	var manifest ChecksumManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse checksums: %w", err)
	}

	if manifest.Version != 1 {
		return nil, fmt.Errorf("unsupported checksums version: %d", manifest.Version)
	}
	if manifest.Hashes == nil {
		manifest.Hashes = make(map[string]string)
	}
	return &manifest, nil
}

// verifyConfigHash checks configFile against its directory manifest.
// Without a manifest there is nothing to verify. With one, the file must
// be listed and match.
func verifyConfigHash(configFile string) error {
	manifest, err := LoadChecksums(filepath.Dir(configFile))
	if err != nil {
		return err
	}
	if manifest == nil {
		return nil
	}

	name := filepath.Base(configFile)
	expected, ok := manifest.Hashes[name]
	if !ok {
		return fmt.Errorf("%s has no hash in %s (run 'wecom-bridge config lock')", name, ChecksumFile)
	}

	if err := VerifyFileHash(configFile, expected); err != nil {
		return fmt.Errorf("config verification failed: %w\n"+
			"If you edited this file intentionally, run: wecom-bridge config lock", err)
	}
	return nil
}
