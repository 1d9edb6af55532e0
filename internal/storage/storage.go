// Package storage provides file-based storage for session records,
// checkpoints, transcripts and file snapshot blobs.
//
// Keys are path slices under a base directory. JSON documents live at
// <key>.json, transcripts at <key>.jsonl, and blobs are content-addressed by
// their SHA-256 under blobs/.
package storage

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

var (
	ErrNotFound = errors.New("not found")
)

const (
	docExt   = ".json"
	linesExt = ".jsonl"
	blobDir  = "blobs"
)

// Storage provides file-based storage rooted at a base directory.
type Storage struct {
	basePath string
	mu       sync.Mutex
	locks    map[string]*pathLock
}

// New creates a new Storage instance.
func New(basePath string) *Storage {
	return &Storage{
		basePath: basePath,
		locks:    make(map[string]*pathLock),
	}
}

// BasePath returns the storage root.
func (s *Storage) BasePath() string {
	return s.basePath
}

func (s *Storage) pathTo(key []string, ext string) string {
	parts := append([]string{s.basePath}, key...)
	return filepath.Join(parts...) + ext
}

func (s *Storage) dirOf(key []string) string {
	parts := append([]string{s.basePath}, key...)
	return filepath.Join(parts...)
}

// Get decodes the JSON document at key into v.
func (s *Storage) Get(ctx context.Context, key []string, v any) error {
	data, err := os.ReadFile(s.pathTo(key, docExt))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s: %w", strings.Join(key, "/"), ErrNotFound)
		}
		return fmt.Errorf("failed to read file: %w", err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", strings.Join(key, "/"), err)
	}
	return nil
}

// Put stores v as a JSON document at key.
func (s *Storage) Put(ctx context.Context, key []string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal: %w", err)
	}
	return s.writeAtomic(ctx, s.pathTo(key, docExt), data)
}

// writeAtomic writes data to a temp file under the file lock, then renames it into place.
func (s *Storage) writeAtomic(ctx context.Context, filePath string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	lock := s.getLock(filePath)
	if err := lock.acquire(ctx); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer lock.release()

	tmpPath := filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tmpPath, filePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}

// Delete removes the document and transcript at key. Missing files are ignored.
func (s *Storage) Delete(ctx context.Context, key []string) error {
	for _, ext := range []string{docExt, linesExt} {
		filePath := s.pathTo(key, ext)
		if _, err := os.Stat(filePath); os.IsNotExist(err) {
			continue
		}

		lock := s.getLock(filePath)
		if err := lock.acquire(ctx); err != nil {
			return fmt.Errorf("failed to acquire lock: %w", err)
		}
		err := os.Remove(filePath)
		lock.release()

		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete file: %w", err)
		}
	}
	return nil
}

// DeleteTree removes everything stored under key.
func (s *Storage) DeleteTree(ctx context.Context, key []string) error {
	if len(key) == 0 {
		return errors.New("refusing to delete storage root")
	}
	if err := os.RemoveAll(s.dirOf(key)); err != nil {
		return fmt.Errorf("failed to delete %s: %w", strings.Join(key, "/"), err)
	}
	return s.Delete(ctx, key)
}

// List returns the child keys at key, sorted. Subdirectories and documents
// are both listed; blobs and transcripts are not.
func (s *Storage) List(ctx context.Context, key []string) ([]string, error) {
	entries, err := os.ReadDir(s.dirOf(key))
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	seen := make(map[string]bool)
	items := []string{}
	for _, entry := range entries {
		name := entry.Name()
		var item string
		switch {
		case entry.IsDir():
			item = name
		case strings.HasSuffix(name, docExt):
			item = strings.TrimSuffix(name, docExt)
		default:
			continue
		}
		if !seen[item] {
			seen[item] = true
			items = append(items, item)
		}
	}
	sort.Strings(items)
	return items, nil
}

// Scan calls fn for every JSON document directly under key, in key order.
func (s *Storage) Scan(ctx context.Context, key []string, fn func(key string, data json.RawMessage) error) error {
	dirPath := s.dirOf(key)

	entries, err := os.ReadDir(dirPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read directory: %w", err)
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, docExt) {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dirPath, name))
		if err != nil {
			continue // Skip files that can't be read
		}

		if err := fn(strings.TrimSuffix(name, docExt), json.RawMessage(data)); err != nil {
			return err
		}
	}
	return nil
}

// Exists reports whether a document exists at key.
func (s *Storage) Exists(ctx context.Context, key []string) bool {
	_, err := os.Stat(s.pathTo(key, docExt))
	return err == nil
}

// AppendLines appends newline-delimited records to the transcript at key.
// Records must not contain newlines.
func (s *Storage) AppendLines(ctx context.Context, key []string, lines ...[]byte) error {
	if len(lines) == 0 {
		return nil
	}
	filePath := s.pathTo(key, linesExt)
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	var buf bytes.Buffer
	for _, line := range lines {
		if bytes.ContainsRune(line, '\n') {
			return fmt.Errorf("record contains newline")
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}

	lock := s.getLock(filePath)
	if err := lock.acquire(ctx); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer lock.release()

	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open transcript: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to append transcript: %w", err)
	}
	return nil
}

// WriteLines replaces the transcript at key.
func (s *Storage) WriteLines(ctx context.Context, key []string, lines [][]byte) error {
	var buf bytes.Buffer
	for _, line := range lines {
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return s.writeAtomic(ctx, s.pathTo(key, linesExt), buf.Bytes())
}

// ReadLines returns the non-empty records of the transcript at key.
func (s *Storage) ReadLines(ctx context.Context, key []string) ([][]byte, error) {
	f, err := os.Open(s.pathTo(key, linesExt))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", strings.Join(key, "/"), ErrNotFound)
		}
		return nil, fmt.Errorf("failed to open transcript: %w", err)
	}
	defer f.Close()

	return ScanLines(f)
}

// ScanLines reads non-empty lines from r. Lines may be up to 16MiB.
func ScanLines(r io.Reader) ([][]byte, error) {
	var lines [][]byte
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		lines = append(lines, append([]byte(nil), line...))
	}
	if err := scanner.Err(); err != nil {
		return lines, fmt.Errorf("failed to read lines: %w", err)
	}
	return lines, nil
}

// PutBlob stores content under its SHA-256 hash and returns the hash.
// Storing the same content twice is a no-op.
func (s *Storage) PutBlob(ctx context.Context, content []byte) (string, error) {
	sum := sha256.Sum256(content)
	hash := hex.EncodeToString(sum[:])

	filePath := s.blobPath(hash)
	if _, err := os.Stat(filePath); err == nil {
		return hash, nil
	}
	if err := s.writeAtomic(ctx, filePath, content); err != nil {
		return "", err
	}
	return hash, nil
}

// GetBlob returns the content stored under hash.
func (s *Storage) GetBlob(ctx context.Context, hash string) ([]byte, error) {
	if len(hash) < 2 {
		return nil, fmt.Errorf("blob %q: %w", hash, ErrNotFound)
	}
	data, err := os.ReadFile(s.blobPath(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("blob %s: %w", hash, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}
	return data, nil
}

func (s *Storage) blobPath(hash string) string {
	return filepath.Join(s.basePath, blobDir, hash[:2], hash)
}

// getLock returns the lock guarding filePath.
func (s *Storage) getLock(filePath string) *pathLock {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[filePath]
	if !ok {
		lock = newPathLock(filePath)
		s.locks[filePath] = lock
	}
	return lock
}
