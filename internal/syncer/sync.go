package syncer

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Syncer applies a plan onto a remote directory. Uploads run through a
// bounded pool; a failed file is recorded and the rest still upload, so
// one bad file cannot hide the state of the others.
type Syncer struct {
	Transfer Transfer
	Parallel int
}

// Stats summarizes one apply.
type Stats struct {
	Dirs  int
	Files int
	Bytes int64
}

func (s Syncer) Apply(ctx context.Context, plan Plan, remoteDir string) (Stats, error) {
	if remoteDir == "" {
		return Stats{}, fmt.Errorf("syncer: remote dir is required")
	}
	if s.Transfer == nil {
		return Stats{}, fmt.Errorf("syncer: transfer is required")
	}

	if err := s.Transfer.MkdirAll(remoteDir); err != nil {
		return Stats{}, fmt.Errorf("syncer: ensure remote dir %s: %w", remoteDir, err)
	}
	for _, dir := range plan.Dirs {
		target := path.Join(remoteDir, dir)
		if err := s.Transfer.MkdirAll(target); err != nil {
			return Stats{}, fmt.Errorf("syncer: mkdir %s: %w", target, err)
		}
	}

	limit := s.Parallel
	if limit < 1 {
		limit = 1
	}

	var group errgroup.Group
	group.SetLimit(limit)

	var mu sync.Mutex
	var failed []string
	var firstErr error
	var uploaded int64

	for _, entry := range plan.Files {
		entry := entry
		group.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			local := filepath.Join(plan.Root, filepath.FromSlash(entry.Rel))
			target := path.Join(remoteDir, entry.Rel)
			if err := s.Transfer.Upload(local, target, entry.Mode, entry.ModTime); err != nil {
				log.Warn().Str("file", entry.Rel).Err(err).Msg("syncer.apply upload failed")
				mu.Lock()
				failed = append(failed, entry.Rel)
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return nil
			}
			log.Debug().Str("file", entry.Rel).Int64("bytes", entry.Size).Msg("syncer.apply uploaded")
			mu.Lock()
			uploaded += entry.Size
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return Stats{}, err
	}

	stats := Stats{
		Dirs:  len(plan.Dirs),
		Files: len(plan.Files) - len(failed),
		Bytes: uploaded,
	}
	if len(failed) > 0 {
		return stats, fmt.Errorf("%w: %d of %d files failed, first %s: %v",
			ErrPartialSync, len(failed), len(plan.Files), failed[0], firstErr)
	}
	return stats, nil
}
