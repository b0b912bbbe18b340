package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

// ManifestName is the integrity manifest written next to a config file.
const ManifestName = ".checksums"

const manifestVersion = 1

// ErrNoManifest means the config directory has never been locked.
var ErrNoManifest = errors.New("no " + ManifestName + " manifest")

// Manifest maps config file names to their BLAKE3 digests.
type Manifest struct {
	Version  int               `yaml:"version"`
	LockedAt time.Time         `yaml:"locked_at"`
	BLAKE3   map[string]string `yaml:"blake3"`
}

// LockReport describes one `config lock`.
type LockReport struct {
	ConfigPath   string
	ManifestPath string
	Hash         string
	Written      bool
}

// HashFile returns the hex BLAKE3-256 digest of the file at path.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ReadManifest loads dir/.checksums, or returns ErrNoManifest.
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoManifest
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", ManifestName, err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", ManifestName, err)
	}
	if m.Version != manifestVersion {
		return nil, fmt.Errorf("unsupported %s version %d", ManifestName, m.Version)
	}
	return &m, nil
}

// Lock records the digest of configPath in the manifest beside it. Entries
// for other files in the same directory are kept.
func Lock(configPath string, dryRun bool) (*LockReport, error) {
	abs, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("resolve config path %q: %w", configPath, err)
	}
	dir := filepath.Dir(abs)

	sum, err := HashFile(abs)
	if err != nil {
		return nil, err
	}
	rep := &LockReport{
		ConfigPath:   abs,
		ManifestPath: filepath.Join(dir, ManifestName),
		Hash:         sum,
	}
	if dryRun {
		return rep, nil
	}

	m, err := ReadManifest(dir)
	switch {
	case errors.Is(err, ErrNoManifest):
		m = &Manifest{Version: manifestVersion, BLAKE3: map[string]string{}}
	case err != nil:
		return nil, err
	case m.BLAKE3 == nil:
		m.BLAKE3 = map[string]string{}
	}
	m.LockedAt = time.Now().UTC().Truncate(time.Second)
	m.BLAKE3[filepath.Base(abs)] = sum

	data, err := yaml.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", ManifestName, err)
	}
	if err := os.WriteFile(rep.ManifestPath, data, 0o600); err != nil {
		return nil, fmt.Errorf("write %s: %w", ManifestName, err)
	}
	rep.Written = true
	return rep, nil
}

// Verify checks path against the manifest in its directory. An unlocked
// directory passes.
func Verify(path string) error {
	dir := filepath.Dir(path)
	m, err := ReadManifest(dir)
	if errors.Is(err, ErrNoManifest) {
		return nil
	}
	if err != nil {
		return err
	}

	name := filepath.Base(path)
	want, ok := m.BLAKE3[name]
	if !ok {
		return fmt.Errorf("config file %s has no hash in %s\n"+
			"Run: ckptkeep config lock --config %s", name, filepath.Join(dir, ManifestName), path)
	}
	got, err := HashFile(path)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("config verification failed for %s: hash mismatch (locked %.12s, now %.12s)\n"+
			"If you edited this file intentionally, run: ckptkeep config lock --config %s", path, want, got, path)
	}
	return nil
}
