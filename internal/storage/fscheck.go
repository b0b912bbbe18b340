package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var networkFilesystems = map[string]bool{
	"9p":     true,
	"afpfs":  true,
	"afs":    true,
	"ceph":   true,
	"cifs":   true,
	"lustre": true,
	"nfs":    true,
	"smb2":   true,
	"smbfs":  true,
	"webdav": true,
}

// ErrNetworkFilesystem reports a ledger path on a network mount.
var ErrNetworkFilesystem = errors.New("history database on network filesystem")

// CheckLocal ensures the ledger database path sits on a local filesystem.
// Paths that do not exist yet are checked via their nearest existing parent.
func CheckLocal(path string) error {
	return checkLocalWithDetector(path, detectFilesystemType)
}

func checkLocalWithDetector(path string, detector func(string) (string, error)) error {
	if path == "" {
		return fmt.Errorf("history database path is empty")
	}

	inspectPath, err := nearestExistingPath(path)
	if err != nil {
		return fmt.Errorf("resolve database path %q: %w", path, err)
	}

	fsType, err := detector(inspectPath)
	if err != nil {
		return fmt.Errorf("detect filesystem for %q: %w", inspectPath, err)
	}

	if isNetworkFilesystem(fsType) {
		return fmt.Errorf("%q is on %s; point state.path at local disk or set state.record_history: false: %w",
			path, fsType, ErrNetworkFilesystem)
	}
	return nil
}

// nearestExistingPath walks up from path until it finds something that
// exists; a ledger that is not created yet lives on its parent's mount.
func nearestExistingPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("absolute path: %w", err)
	}
	for p := abs; ; p = filepath.Dir(p) {
		_, err := os.Stat(p)
		switch {
		case err == nil:
			return p, nil
		case !errors.Is(err, os.ErrNotExist):
			return "", fmt.Errorf("stat %q: %w", p, err)
		case filepath.Dir(p) == p:
			return "", fmt.Errorf("no existing parent for %q", abs)
		}
	}
}

func isNetworkFilesystem(fsType string) bool {
	return networkFilesystems[strings.ToLower(strings.TrimSpace(fsType))]
}
