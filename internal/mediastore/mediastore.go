// Package mediastore maps remote media URLs to deterministic local cache
// paths under a single cache root, and answers existence checks for them.
//
// Layout under the root:
//
//	models/<artifactID>_<mediaID>.<ext>   downloaded 3D model files
//	previews/<artifactID>.<ext>           artifact preview images
//	artifact_records.db                   record store (sqlite backend)
package mediastore

import (
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

const (
	modelsDir   = "models"
	previewsDir = "previews"
	recordsFile = "artifact_records.db"

	defaultModelExt   = ".glb"
	defaultPreviewExt = ".jpg"
)

// Store resolves cache paths under a fixed root directory.
type Store struct {
	root string
}

// New creates a store rooted at the given directory. The directory is not
// created until EnsureDirs is called.
func New(root string) *Store {
	return &Store{root: root}
}

// Root returns the cache root directory.
func (s *Store) Root() string {
	return s.root
}

// EnsureDirs creates the cache directory tree if missing.
func (s *Store) EnsureDirs() error {
	for _, d := range []string{s.root, filepath.Join(s.root, modelsDir), filepath.Join(s.root, previewsDir)} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("failed to create cache dir %s: %w", d, err)
		}
	}
	return nil
}

// ModelPath returns the deterministic local path for a model media file,
// keyed by (artifactID, mediaID). The extension is taken from the remote URL
// when it has one.
func (s *Store) ModelPath(artifactID, mediaID, remoteURL string) string {
	name := sanitize(artifactID) + "_" + sanitize(mediaID) + extFromURL(remoteURL, defaultModelExt)
	return filepath.Join(s.root, modelsDir, name)
}

// PreviewPath returns the deterministic local path for an artifact's preview
// image, keyed by artifactID.
func (s *Store) PreviewPath(artifactID, remoteURL string) string {
	name := sanitize(artifactID) + extFromURL(remoteURL, defaultPreviewExt)
	return filepath.Join(s.root, previewsDir, name)
}

// RecordsPath returns the path of the record store file.
func (s *Store) RecordsPath() string {
	return filepath.Join(s.root, recordsFile)
}

// Contains reports whether p lies under the cache root.
func (s *Store) Contains(p string) bool {
	rel, err := filepath.Rel(s.root, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Clear removes all cached media files, keeping the record store file.
func (s *Store) Clear() error {
	for _, d := range []string{modelsDir, previewsDir} {
		if err := os.RemoveAll(filepath.Join(s.root, d)); err != nil {
			return fmt.Errorf("failed to clear %s: %w", d, err)
		}
	}
	return s.EnsureDirs()
}

// Exists reports whether a non-empty file exists at the given path.
func Exists(p string) bool {
	if p == "" {
		return false
	}
	info, err := os.Stat(p)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular() && info.Size() > 0
}

// sanitize strips anything that could escape the cache layout from an
// identifier used as a filename component.
func sanitize(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	if b.Len() == 0 {
		return "unknown"
	}
	return b.String()
}

// extFromURL extracts a plausible file extension from a remote URL,
// falling back to def.
func extFromURL(remoteURL, def string) string {
	u, err := url.Parse(remoteURL)
	if err != nil {
		return def
	}
	ext := strings.ToLower(path.Ext(u.Path))
	if len(ext) < 2 || len(ext) > 6 {
		return def
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return def
		}
	}
	return ext
}
