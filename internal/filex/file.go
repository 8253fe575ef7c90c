// Package filex holds the on-disk layout of an installation and the file
// helpers shared by capture, the search index and the sync schedulers.
package filex

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Layout resolves the per-install directory tree.
type Layout struct {
	Root string
}

func (l Layout) DataDir() string      { return filepath.Join(l.Root, "data") }
func (l Layout) ResourcesDir() string { return filepath.Join(l.Root, "resources") }
func (l Layout) FilesDir() string     { return filepath.Join(l.Root, "resources", "files") }
func (l Layout) ConfigDir() string    { return filepath.Join(l.Root, "config") }
func (l Layout) LogsDir() string      { return filepath.Join(l.Root, "logs") }

// Ensure creates every directory of the layout.
func (l Layout) Ensure() error {
	for _, dir := range []string{l.DataDir(), l.ResourcesDir(), l.FilesDir(), l.ConfigDir(), l.LogsDir()} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	return nil
}

// Rel returns path relative to the root, slash-separated, for storage in
// the content column.
func (l Layout) Rel(path string) string {
	rel, err := filepath.Rel(l.Root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

// Abs resolves a content-column relative path against the root.
func (l Layout) Abs(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(l.Root, filepath.FromSlash(rel))
}

// IsManaged reports whether path lies inside the resources tree.
func (l Layout) IsManaged(path string) bool {
	rel, err := filepath.Rel(l.ResourcesDir(), path)
	if err != nil {
		return false
	}
	return rel != "." && !strings.HasPrefix(rel, "..")
}

var compoundExts = []string{".tar.gz", ".tar.bz2", ".tar.xz", ".tar.zst", ".tar.lz4"}

// Ext returns the extension of name including compound archive suffixes,
// e.g. ".tar.gz" for "backup.tar.gz". Dotfiles have no extension.
func Ext(name string) string {
	base := filepath.Base(name)
	for _, ce := range compoundExts {
		if len(base) > len(ce) && strings.EqualFold(base[len(base)-len(ce):], ce) {
			return base[len(base)-len(ce):]
		}
	}
	if strings.HasPrefix(base, ".") && strings.Count(base, ".") == 1 {
		return ""
	}
	return filepath.Ext(base)
}

// GenerateName returns a collision-resistant file name built from the
// current time, a random uuid and the extension of original.
func GenerateName(now time.Time, original string) string {
	return fmt.Sprintf("%s_%s%s", now.Format("20060102150405"), uuid.NewString(), Ext(original))
}

// CopyFile copies src to dst, creating dst exclusively. A partial dst is
// removed on failure.
func CopyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(dst)
		}
	}()

	_, err = io.Copy(out, in)
	return err
}

// WriteFileAtomic writes data to a temporary sibling and renames it over path.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}

// RemoveIfExists deletes path, ignoring a missing file.
func RemoveIfExists(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
