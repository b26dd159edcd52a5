// Package hostops performs the privileged host operations requested by the
// owner: filesystem edits, process control and power actions.
//
// Errors carry OS detail for local logs; callers must not forward them.
package hostops

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

var ErrNotFound = errors.New("path does not exist")

// Entry is one directory listing item.
type Entry struct {
	Name  string
	IsDir bool
	Path  string
}

// Files operates on the host filesystem. Paths are cleaned before use; this
// resolves "." and ".." but is not a sandbox.
type Files struct {
	home string
}

// NewFiles creates a Files rooted (for defaults only) at home.
func NewFiles(home string) *Files {
	return &Files{home: home}
}

// Home returns the default directory used for an empty listing path.
func (f *Files) Home() string {
	return f.home
}

// Normalize cleans p. On Windows a bare drive letter such as "C:" gets a
// trailing separator so it names the drive root.
func Normalize(p string) string {
	return normalize(runtime.GOOS, p)
}

func normalize(goos, p string) string {
	if goos == "windows" && isDriveLetter(p) {
		p += `\`
	}
	return filepath.Clean(p)
}

func isDriveLetter(p string) bool {
	if len(p) != 2 || p[1] != ':' {
		return false
	}
	c := p[0] | 0x20
	return c >= 'a' && c <= 'z'
}

// List returns the entries of dir, or of the home directory when dir is empty.
func (f *Files) List(dir string) ([]Entry, error) {
	if dir == "" {
		dir = f.home
	}
	dir = Normalize(dir)

	items, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	entries := make([]Entry, 0, len(items))
	for _, item := range items {
		entries = append(entries, Entry{
			Name:  item.Name(),
			IsDir: item.IsDir(),
			Path:  filepath.Join(dir, item.Name()),
		})
	}
	return entries, nil
}

// Read returns the content of the file at p and its normalized path.
func (f *Files) Read(p string) (string, string, error) {
	p = Normalize(p)
	if _, err := os.Stat(p); err != nil {
		if os.IsNotExist(err) {
			return "", p, ErrNotFound
		}
		return "", p, fmt.Errorf("stat %s: %w", p, err)
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return "", p, fmt.Errorf("read %s: %w", p, err)
	}
	return string(data), p, nil
}

// Write replaces the content of the file at p, creating it if needed.
func (f *Files) Write(p, content string) error {
	p = Normalize(p)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", p, err)
	}
	return nil
}

// Create makes an empty file when file is set and a directory otherwise.
// An existing file is truncated.
func (f *Files) Create(p string, file bool) error {
	p = Normalize(p)
	if file {
		if err := os.WriteFile(p, nil, 0o644); err != nil {
			return fmt.Errorf("create file %s: %w", p, err)
		}
		return nil
	}
	if err := os.Mkdir(p, 0o755); err != nil {
		return fmt.Errorf("create folder %s: %w", p, err)
	}
	return nil
}

// Delete removes p and everything below it. A missing path is not an error.
func (f *Files) Delete(p string) error {
	p = Normalize(p)
	if err := os.RemoveAll(p); err != nil {
		return fmt.Errorf("delete %s: %w", p, err)
	}
	return nil
}
