package syncer

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
)

// FileEntry is one regular file scheduled for upload.
type FileEntry struct {
	Rel     string
	Size    int64
	Mode    fs.FileMode
	ModTime time.Time
}

// Plan is the deterministic result of walking the local root: parent
// directories before children, files sorted by the walk order.
type Plan struct {
	Root  string
	Dirs  []string
	Files []FileEntry
}

// TotalBytes sums the size of every planned file.
func (p Plan) TotalBytes() int64 {
	var total int64
	for _, entry := range p.Files {
		total += entry.Size
	}
	return total
}

// BuildPlan walks root and collects everything the rules do not
// exclude. Symlinks are skipped: the deployed tree must be
// self-contained on the remote side.
func BuildPlan(root string, rules Rules) (Plan, error) {
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return Plan{}, err
	}
	info, err := os.Stat(rootAbs)
	if err != nil {
		return Plan{}, fmt.Errorf("%w: %v", ErrInvalidRoot, err)
	}
	if !info.IsDir() {
		return Plan{}, fmt.Errorf("%w: %s is not a directory", ErrInvalidRoot, root)
	}

	plan := Plan{Root: rootAbs}
	err = filepath.WalkDir(rootAbs, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		rel, err := filepath.Rel(rootAbs, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		if rules.Excluded(rel) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		if d.Type()&os.ModeSymlink != 0 {
			log.Warn().Str("path", rel).Msg("syncer.plan skipping symlink")
			return nil
		}

		if d.IsDir() {
			plan.Dirs = append(plan.Dirs, filepath.ToSlash(rel))
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		plan.Files = append(plan.Files, FileEntry{
			Rel:     filepath.ToSlash(rel),
			Size:    info.Size(),
			Mode:    info.Mode().Perm(),
			ModTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return Plan{}, err
	}

	return plan, nil
}
