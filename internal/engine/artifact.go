package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"sync"
	"time"
)

// ArtifactInfo is the last observed filesystem state of one artifact.
type ArtifactInfo struct {
	Exists  bool
	ModTime time.Time
}

// Artifacts caches filesystem state per artifact path. Stats are lazy:
// a path is only touched when some task's staleness check asks for it.
// Lookups are read-shared; invalidation takes the write lock so a task
// that just rewrote its targets forces a fresh stat on the next query.
type Artifacts struct {
	mu    sync.RWMutex
	cache map[string]ArtifactInfo
}

func NewArtifacts() *Artifacts {
	return &Artifacts{cache: make(map[string]ArtifactInfo)}
}

// Stat returns the cached state for path, querying the filesystem on a
// cache miss.
func (a *Artifacts) Stat(path string) ArtifactInfo {
	a.mu.RLock()
	info, ok := a.cache[path]
	a.mu.RUnlock()
	if ok {
		return info
	}

	st, err := os.Stat(path)
	if err != nil {
		info = ArtifactInfo{Exists: false}
	} else {
		info = ArtifactInfo{Exists: true, ModTime: st.ModTime()}
	}

	a.mu.Lock()
	a.cache[path] = info
	a.mu.Unlock()
	return info
}

// Invalidate drops the cached state for the given paths.
func (a *Artifacts) Invalidate(paths ...string) {
	a.mu.Lock()
	for _, p := range paths {
		delete(a.cache, p)
	}
	a.mu.Unlock()
}

// FileFingerprint returns the hex sha256 of the file contents, or an
// empty string when the file cannot be read.
func FileFingerprint(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return ""
	}
	return hex.EncodeToString(h.Sum(nil))
}
