// Package queue implements the filesystem work queue of photos awaiting
// conversion: the directory itself and the scanner that drains it.
package queue

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"

	"tiedye/internal/models"
)

// Dir is the queue directory. Entries are named "<photo-id>-<basename>";
// files are staged next to it and renamed in so readers never see partial
// writes.
type Dir struct {
	fs         afero.Fs
	root       string
	staging    string
	quarantine string
}

func NewDir(fs afero.Fs, cfg models.QueueConfig) (*Dir, error) {
	const op = "queue.NewDir"

	d := &Dir{fs: fs, root: cfg.Dir, staging: cfg.StagingDir, quarantine: cfg.QuarantineDir}
	if d.staging == "" {
		d.staging = filepath.Join(d.root, ".incoming")
	}
	if d.quarantine == "" {
		d.quarantine = filepath.Join(d.root, ".quarantine")
	}
	for _, dir := range []string{d.root, d.staging, d.quarantine} {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	return d, nil
}

func (d *Dir) Fs() afero.Fs { return d.fs }
func (d *Dir) Root() string { return d.root }
func (d *Dir) Path(name string) string {
	return filepath.Join(d.root, name)
}

// List returns the queued entry names. A missing directory holds nothing.
func (d *Dir) List() ([]string, error) {
	const op = "queue.Dir.List"

	infos, err := afero.ReadDir(d.fs, d.root)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		if !info.Mode().IsRegular() || strings.HasPrefix(info.Name(), ".") {
			continue
		}
		names = append(names, info.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Place writes data under a unique temporary name and renames it into the
// queue as EntryName(photoID, basename).
func (d *Dir) Place(photoID int64, basename string, data []byte) (string, error) {
	const op = "queue.Dir.Place"

	name := EntryName(photoID, basename)
	tmp, err := afero.TempFile(d.fs, d.staging, strconv.FormatInt(photoID, 10)+"-*")
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		d.fs.Remove(tmpName)
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if err := tmp.Close(); err != nil {
		d.fs.Remove(tmpName)
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if err := d.fs.Rename(tmpName, d.Path(name)); err != nil {
		d.fs.Remove(tmpName)
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return name, nil
}

// SweepStaging removes staged files last modified at or before cutoff. Such
// files belong to placements that never reached the rename.
func (d *Dir) SweepStaging(cutoff time.Time) (int, error) {
	const op = "queue.Dir.SweepStaging"

	infos, err := afero.ReadDir(d.fs, d.staging)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	removed := 0
	var errs []error
	for _, info := range infos {
		if !info.Mode().IsRegular() || info.ModTime().After(cutoff) {
			continue
		}
		if err := d.fs.Remove(filepath.Join(d.staging, info.Name())); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	if len(errs) > 0 {
		return removed, fmt.Errorf("%s: %w", op, errors.Join(errs...))
	}
	return removed, nil
}

func (d *Dir) Remove(name string) error {
	if err := d.fs.Remove(d.Path(name)); err != nil {
		return fmt.Errorf("queue.Dir.Remove: %w", err)
	}
	return nil
}

// Quarantine moves an entry that cannot be processed out of the scan path.
func (d *Dir) Quarantine(name string) error {
	if err := d.fs.Rename(d.Path(name), filepath.Join(d.quarantine, name)); err != nil {
		return fmt.Errorf("queue.Dir.Quarantine: %w", err)
	}
	return nil
}

func EntryName(photoID int64, basename string) string {
	return strconv.FormatInt(photoID, 10) + "-" + basename
}

// ParseEntryName recovers the photo id from the text before the first "-".
func ParseEntryName(name string) (int64, error) {
	prefix, _, ok := strings.Cut(name, "-")
	if !ok {
		return 0, fmt.Errorf("%q: %w", name, models.ErrMalformedEntry)
	}
	id, err := strconv.ParseInt(prefix, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%q: %w", name, models.ErrMalformedEntry)
	}
	return id, nil
}
