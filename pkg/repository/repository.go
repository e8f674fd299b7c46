// Package repository stores sessions as JSON files: one current save per
// session name plus timestamped backups.
package repository

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"strat/pkg/protocol"
	"strat/pkg/session"
)

const (
	dirMode         = 0o755
	fileMode        = 0o644
	ext             = ".json"
	tempFilePattern = ".save-*.tmp"
	stampLayout     = "20060102_150405"
)

// ErrNotFound is returned when a requested save or backup does not exist.
var ErrNotFound = errors.New("save not found")

// Entry describes one stored file.
type Entry struct {
	Name    string
	Path    string
	ModTime time.Time
	Size    int64
}

// Repository reads and writes sessions below Dir:
//
//	<Dir>/saves/<name>.json
//	<Dir>/backups/<name>/<name>_YYYYMMDD_HHMMSS.json
type Repository struct {
	Dir string
	now func() time.Time
}

// New returns a repository rooted at dir.
func New(dir string) *Repository {
	return &Repository{Dir: dir, now: time.Now}
}

// SavesDir is where current saves live.
func (r *Repository) SavesDir() string { return filepath.Join(r.Dir, protocol.SavesDir) }

// BackupsDir is where backups for name live.
func (r *Repository) BackupsDir(name string) string {
	return filepath.Join(r.Dir, protocol.BackupsDir, FileName(name))
}

// SavePath returns the save file for name.
func (r *Repository) SavePath(name string) string {
	return filepath.Join(r.SavesDir(), FileName(name)+ext)
}

// Save writes s to its save file, replacing the previous one atomically.
func (r *Repository) Save(s *session.Session) error {
	data, err := session.EncodeSnapshot(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	return writeAtomic(r.SavePath(s.Name), data)
}

// Backup writes a timestamped copy of s. Two backups within the same second
// overwrite each other.
func (r *Repository) Backup(s *session.Session) error {
	data, err := session.EncodeSnapshot(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	name := FileName(s.Name)
	path := filepath.Join(r.BackupsDir(s.Name), name+"_"+r.now().Format(stampLayout)+ext)
	return writeAtomic(path, data)
}

// Load reads the save for name.
func (r *Repository) Load(name string) (*session.Session, error) {
	return readSession(r.SavePath(name))
}

// LoadBackup reads a backup by file name (as listed by ListBackups) or path.
func (r *Repository) LoadBackup(name, backup string) (*session.Session, error) {
	path := backup
	if !filepath.IsAbs(backup) {
		path = filepath.Join(r.BackupsDir(name), filepath.Base(backup))
	}
	return readSession(path)
}

// ListSaves returns the current saves sorted by name.
func (r *Repository) ListSaves() ([]Entry, error) {
	entries, err := list(r.SavesDir())
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// ListBackups returns the backups of name, newest first.
func (r *Repository) ListBackups(name string) ([]Entry, error) {
	entries, err := list(r.BackupsDir(name))
	if err != nil {
		return nil, err
	}
	// The timestamp suffix sorts lexically.
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name > entries[j].Name })
	return entries, nil
}

// FileName maps a session name onto a safe file base name.
func FileName(name string) string {
	name = strings.TrimSpace(name)
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		case r == ' ':
			b.WriteByte('_')
		default:
			b.WriteByte('-')
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		return "session"
	}
	return out
}

func readSession(path string) (*session.Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	s, err := session.DecodeSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return s, nil
}

func list(dir string) ([]Entry, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	var out []Entry
	for _, de := range dirEntries {
		if de.IsDir() || filepath.Ext(de.Name()) != ext {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		out = append(out, Entry{
			Name:    strings.TrimSuffix(de.Name(), ext),
			Path:    filepath.Join(dir, de.Name()),
			ModTime: info.ModTime(),
			Size:    info.Size(),
		})
	}
	return out, nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, tempFilePattern)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(fileMode); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	cleanup = false
	return nil
}
