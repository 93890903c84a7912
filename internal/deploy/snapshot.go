// Package deploy writes validated candidates into the live tree with a
// restorable snapshot taken first.
package deploy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// manifestEntry records one file's pre-deployment state. Absent files are
// recorded so a restore can delete what the deployment created.
type manifestEntry struct {
	Path   string `json:"path"`
	Blob   string `json:"blob,omitempty"`
	Absent bool   `json:"absent,omitempty"`
}

// SnapshotStore is a content-addressed archive of pre-deployment file
// states. Blobs are keyed by SHA-256 of their content; a snapshot ref is
// the SHA-256 over the sorted (path, content hash) pairs, so identical
// trees share one ref.
type SnapshotStore struct {
	root string
	dir  string
}

// NewSnapshotStore archives files under root into dir.
func NewSnapshotStore(root, dir string) *SnapshotStore {
	return &SnapshotStore{root: root, dir: dir}
}

// Capture snapshots the current content of the given relative paths and
// returns the snapshot ref. No file under root is modified.
func (s *SnapshotStore) Capture(paths []string) (string, error) {
	if err := os.MkdirAll(filepath.Join(s.dir, "blobs"), 0o755); err != nil {
		return "", fmt.Errorf("creating snapshot dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(s.dir, "manifests"), 0o755); err != nil {
		return "", fmt.Errorf("creating snapshot dir: %w", err)
	}

	sorted := make([]string, len(paths))
	copy(sorted, paths)
	sort.Strings(sorted)

	entries := make([]manifestEntry, 0, len(sorted))
	refHash := sha256.New()

	for _, rel := range sorted {
		abs, err := securePath(s.root, rel)
		if err != nil {
			return "", err
		}

		content, err := os.ReadFile(abs)
		if err != nil {
			if os.IsNotExist(err) {
				entries = append(entries, manifestEntry{Path: rel, Absent: true})
				fmt.Fprintf(refHash, "%s\x00absent\x00", rel)
				continue
			}
			return "", fmt.Errorf("reading %s for snapshot: %w", rel, err)
		}

		blobSum := sha256.Sum256(content)
		blob := hex.EncodeToString(blobSum[:])
		blobPath := filepath.Join(s.dir, "blobs", blob)
		if _, err := os.Stat(blobPath); os.IsNotExist(err) {
			if err := os.WriteFile(blobPath, content, 0o644); err != nil {
				return "", fmt.Errorf("writing blob for %s: %w", rel, err)
			}
		}

		entries = append(entries, manifestEntry{Path: rel, Blob: blob})
		fmt.Fprintf(refHash, "%s\x00%s\x00", rel, blob)
	}

	ref := hex.EncodeToString(refHash.Sum(nil))
	manifest, err := json.Marshal(entries)
	if err != nil {
		return "", fmt.Errorf("encoding manifest: %w", err)
	}
	if err := os.WriteFile(s.manifestPath(ref), manifest, 0o644); err != nil {
		return "", fmt.Errorf("writing manifest: %w", err)
	}
	return ref, nil
}

// Restore writes every file in the snapshot back byte for byte. Files that
// were absent at capture time are removed.
func (s *SnapshotStore) Restore(ref string) error {
	raw, err := os.ReadFile(s.manifestPath(ref))
	if err != nil {
		return fmt.Errorf("reading manifest %s: %w", ref, err)
	}
	var entries []manifestEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return fmt.Errorf("decoding manifest %s: %w", ref, err)
	}

	for _, entry := range entries {
		abs, err := securePath(s.root, entry.Path)
		if err != nil {
			return err
		}
		if entry.Absent {
			if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("removing %s: %w", entry.Path, err)
			}
			continue
		}
		content, err := os.ReadFile(filepath.Join(s.dir, "blobs", entry.Blob))
		if err != nil {
			return fmt.Errorf("reading blob for %s: %w", entry.Path, err)
		}
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return fmt.Errorf("recreating directories for %s: %w", entry.Path, err)
		}
		if err := os.WriteFile(abs, content, 0o644); err != nil {
			return fmt.Errorf("restoring %s: %w", entry.Path, err)
		}
	}
	return nil
}

// Release drops the manifest once the monitoring window has finalized.
// Blobs stay for dedup across snapshots.
func (s *SnapshotStore) Release(ref string) error {
	if err := os.Remove(s.manifestPath(ref)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("releasing snapshot %s: %w", ref, err)
	}
	return nil
}

func (s *SnapshotStore) manifestPath(ref string) string {
	return filepath.Join(s.dir, "manifests", ref+".json")
}

// HashFiles computes the content address of a candidate's file set, the
// same shape as a snapshot ref.
func HashFiles(files map[string]string) string {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	h := sha256.New()
	for _, p := range paths {
		blobSum := sha256.Sum256([]byte(files[p]))
		fmt.Fprintf(h, "%s\x00%s\x00", p, hex.EncodeToString(blobSum[:]))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// securePath joins rel onto root and rejects any escape above it.
func securePath(root, rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("absolute path not allowed: %s", rel)
	}
	cleanRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolving root: %w", err)
	}
	abs := filepath.Join(cleanRoot, rel)
	if abs != cleanRoot && !strings.HasPrefix(abs, cleanRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes deployment root: %s", rel)
	}
	return abs, nil
}
