// Package dedup detects exact duplicate and changed content by URL.
package dedup

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Result is the outcome of CheckAndRecord.
type Result struct {
	// IsNew is false only when the content matches the last hash seen for
	// the URL.
	IsNew bool
	// Changed is set when a different hash was previously recorded.
	Changed  bool
	Hash     string
	Previous string
}

// Detector maps URLs to the hash of their latest content. It is safe for
// concurrent use.
type Detector struct {
	mu     sync.Mutex
	hashes map[string]string
}

// New returns an empty Detector.
func New() *Detector {
	return &Detector{hashes: make(map[string]string)}
}

// Hash is the hex SHA-256 of content.
func Hash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// CheckAndRecord compares content against the last hash recorded for url
// and records the new hash, duplicate or not.
func (d *Detector) CheckAndRecord(url string, content []byte) Result {
	hash := Hash(content)

	d.mu.Lock()
	defer d.mu.Unlock()

	prev, seen := d.hashes[url]
	d.hashes[url] = hash
	switch {
	case !seen:
		return Result{IsNew: true, Hash: hash}
	case prev != hash:
		return Result{IsNew: true, Changed: true, Hash: hash, Previous: prev}
	default:
		return Result{Hash: hash, Previous: prev}
	}
}

// Lookup returns the recorded hash for url.
func (d *Detector) Lookup(url string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h, ok := d.hashes[url]
	return h, ok
}

// Len is the number of recorded URLs.
func (d *Detector) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.hashes)
}

// Save writes the URL to hash map as tab-separated lines. The file is
// replaced atomically.
func (d *Detector) Save(path string) error {
	d.mu.Lock()
	urls := make([]string, 0, len(d.hashes))
	for u := range d.hashes {
		urls = append(urls, u)
	}
	sort.Strings(urls)
	lines := make([]string, len(urls))
	for i, u := range urls {
		lines[i] = u + "\t" + d.hashes[u]
	}
	d.mu.Unlock()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create visited dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".visited-*")
	if err != nil {
		return fmt.Errorf("create visited temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	for _, l := range lines {
		if _, err := w.WriteString(l + "\n"); err != nil {
			tmp.Close()
			return fmt.Errorf("write visited: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush visited: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close visited: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace visited: %w", err)
	}
	return nil
}

// Load merges a file written by Save into d. A missing file is not an
// error. It returns the number of entries read.
func (d *Detector) Load(path string) (int, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("open visited: %w", err)
	}
	defer f.Close()

	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for line := 1; sc.Scan(); line++ {
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		u, h, ok := strings.Cut(text, "\t")
		if !ok || u == "" || len(h) != sha256.Size*2 {
			return n, fmt.Errorf("visited %s:%d: malformed entry", path, line)
		}
		d.hashes[u] = h
		n++
	}
	if err := sc.Err(); err != nil {
		return n, fmt.Errorf("read visited: %w", err)
	}
	return n, nil
}
