package materialize

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/cortex-mind/cortex/internal/cortexerr"
	"github.com/cortex-mind/cortex/internal/domain"
)

const defaultMaxWorkers = 4

// Flush materializes scope's resolved files to outputDir per opts.
func (e *Engine) Flush(ctx context.Context, workspaceID domain.WorkspaceID, outputDir string, scope domain.FlushScope, opts domain.FlushOptions) (domain.FlushReport, error) {
	desired, err := e.resolveScope(ctx, workspaceID, scope)
	if err != nil {
		return domain.FlushReport{}, err
	}

	existing, err := walkExisting(outputDir)
	if err != nil {
		return domain.FlushReport{}, cortexerr.IO(err, "failed to walk output directory %s", outputDir)
	}

	fullSync := scope.Kind == domain.ScopeAll
	byPath := make(map[string]desiredFile, len(desired))
	for _, d := range desired {
		byPath[d.path] = d
	}
	plan := buildPlan(outputDir, desired, existing, fullSync)

	var report domain.FlushReport
	if opts.Atomic {
		report, err = e.flushAtomic(outputDir, byPath, plan, opts)
		if err != nil {
			return report, err
		}
	} else {
		report = e.flushDirect(ctx, byPath, plan, opts)
	}

	log.Printf("[MATERIALIZE] workspace=%s output=%s files=%d bytes=%s errors=%d",
		workspaceID, outputDir, report.FilesWritten, humanize.Bytes(uint64(report.BytesWritten)), len(report.Errors))
	return report, nil
}

// walkExisting returns the set of file vpaths (slash-separated, relative
// to outputDir) already present on disk. A missing outputDir is not an
// error — it just means nothing exists yet.
func walkExisting(outputDir string) (map[string]bool, error) {
	out := make(map[string]bool)
	info, err := os.Stat(outputDir)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, err
	}
	if !info.IsDir() {
		return out, nil
	}
	err = filepath.Walk(outputDir, func(path string, fi os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if fi.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(outputDir, path)
		if err != nil {
			return err
		}
		out[filepath.ToSlash(rel)] = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func topLevel(vpath string) string {
	if idx := strings.IndexByte(vpath, '/'); idx >= 0 {
		return vpath[:idx]
	}
	return vpath
}

// flushDirect writes plan entries straight into their final location,
// bounded by MaxWorkers when Parallel is set. Per-file failures are
// aggregated into the report rather than aborting the flush.
func (e *Engine) flushDirect(ctx context.Context, byPath map[string]desiredFile, plan []domain.PlanEntry, opts domain.FlushOptions) domain.FlushReport {
	var (
		mu      sync.Mutex
		report  domain.FlushReport
		dirOnce sync.Map // dir path -> *sync.Once, serializes MkdirAll per directory
	)

	apply := func(entry domain.PlanEntry) error {
		switch entry.Action {
		case domain.ActionDelete:
			if err := os.Remove(entry.FSPath); err != nil && !os.IsNotExist(err) {
				return err
			}
			return nil
		default:
			d := byPath[entry.VPath]
			if err := ensureDir(filepath.Dir(entry.FSPath), &dirOnce); err != nil {
				return err
			}
			perm := os.FileMode(0o644)
			if opts.PreservePermissions && d.perm != 0 {
				perm = os.FileMode(d.perm)
			}
			if err := os.WriteFile(entry.FSPath, d.content, perm); err != nil {
				return err
			}
			if opts.PreserveTimestamps && d.mtime > 0 {
				mt := time.UnixMilli(d.mtime)
				_ = os.Chtimes(entry.FSPath, mt, mt)
			}
			mu.Lock()
			report.FilesWritten++
			report.BytesWritten += int64(len(d.content))
			mu.Unlock()
			return nil
		}
	}

	if !opts.Parallel {
		for _, entry := range plan {
			if err := apply(entry); err != nil {
				mu.Lock()
				report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", entry.VPath, err))
				mu.Unlock()
			}
		}
		return report
	}

	workers := opts.MaxWorkers
	if workers <= 0 {
		workers = defaultMaxWorkers
	}
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, entry := range plan {
		entry := entry
		g.Go(func() error {
			if err := apply(entry); err != nil {
				mu.Lock()
				report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", entry.VPath, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return report
}

func ensureDir(dir string, dirOnce *sync.Map) error {
	onceVal, _ := dirOnce.LoadOrStore(dir, &sync.Once{})
	once := onceVal.(*sync.Once)
	var mkErr error
	once.Do(func() { mkErr = os.MkdirAll(dir, 0o755) })
	if mkErr != nil {
		return mkErr
	}
	if _, err := os.Stat(dir); err != nil {
		return os.MkdirAll(dir, 0o755)
	}
	return nil
}

// flushAtomic stages every desired file under a sibling staging directory,
// grouped by top-level path segment, then swaps each top-level segment
// into outputDir with a single rename. Any staging failure tears down the
// whole staging tree and leaves outputDir untouched.
func (e *Engine) flushAtomic(outputDir string, byPath map[string]desiredFile, plan []domain.PlanEntry, opts domain.FlushOptions) (domain.FlushReport, error) {
	var report domain.FlushReport

	stagingRoot, err := os.MkdirTemp(filepath.Dir(outputDir), ".materialize-staging-*")
	if err != nil {
		return report, cortexerr.IO(err, "failed to create staging directory")
	}
	defer os.RemoveAll(stagingRoot)

	topLevels := make(map[string]bool)
	deleteOnlyTop := make(map[string]bool)
	for _, entry := range plan {
		t := topLevel(entry.VPath)
		topLevels[t] = true
		if entry.Action == domain.ActionDelete {
			if _, ok := byPath[entry.VPath]; !ok {
				deleteOnlyTop[t] = true
			}
		}
	}
	for _, entry := range plan {
		if entry.Action != domain.ActionDelete {
			delete(deleteOnlyTop, topLevel(entry.VPath))
		}
	}

	var dirOnce sync.Map
	stageOne := func(entry domain.PlanEntry) (int64, error) {
		d := byPath[entry.VPath]
		stagedPath := filepath.Join(stagingRoot, filepath.FromSlash(entry.VPath))
		if err := ensureDir(filepath.Dir(stagedPath), &dirOnce); err != nil {
			return 0, cortexerr.IO(err, "staging directory creation failed for %s", entry.VPath)
		}
		perm := os.FileMode(0o644)
		if opts.PreservePermissions && d.perm != 0 {
			perm = os.FileMode(d.perm)
		}
		if err := os.WriteFile(stagedPath, d.content, perm); err != nil {
			return 0, cortexerr.IO(err, "staging write failed for %s", entry.VPath)
		}
		if opts.PreserveTimestamps && d.mtime > 0 {
			mt := time.UnixMilli(d.mtime)
			_ = os.Chtimes(stagedPath, mt, mt)
		}
		return int64(len(d.content)), nil
	}

	toStage := make([]domain.PlanEntry, 0, len(plan))
	for _, entry := range plan {
		if entry.Action != domain.ActionDelete {
			toStage = append(toStage, entry)
		}
	}

	if !opts.Parallel {
		for _, entry := range toStage {
			n, err := stageOne(entry)
			if err != nil {
				return report, err
			}
			report.FilesWritten++
			report.BytesWritten += n
		}
	} else {
		workers := opts.MaxWorkers
		if workers <= 0 {
			workers = defaultMaxWorkers
		}
		var mu sync.Mutex
		g := new(errgroup.Group)
		g.SetLimit(workers)
		for _, entry := range toStage {
			entry := entry
			g.Go(func() error {
				n, err := stageOne(entry)
				if err != nil {
					return err
				}
				mu.Lock()
				report.FilesWritten++
				report.BytesWritten += n
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return report, err
		}
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return domain.FlushReport{}, cortexerr.IO(err, "failed to create output directory %s", outputDir)
	}

	// Every pre-existing top-level entry is always moved aside into an
	// internal backup first, regardless of create_backup: that's what lets
	// a later top-level's failed rename roll every earlier swap back to
	// its exact pre-flush state instead of leaving a partial mix on the
	// target. create_backup only decides whether that backup is kept
	// (renamed to a visible, timestamped path) or discarded once the
	// whole flush has succeeded.
	backupRoot, err := os.MkdirTemp(filepath.Dir(outputDir), ".materialize-backup-*")
	if err != nil {
		return domain.FlushReport{}, cortexerr.IO(err, "failed to create backup staging directory")
	}
	defer os.RemoveAll(backupRoot)

	names := make([]string, 0, len(topLevels))
	for t := range topLevels {
		names = append(names, t)
	}
	sort.Strings(names)

	backedUp := make(map[string]bool, len(names))
	var swapped []string
	for _, name := range names {
		target := filepath.Join(outputDir, filepath.FromSlash(name))
		hadBackup, err := e.swapTopLevel(stagingRoot, backupRoot, target, name, deleteOnlyTop[name])
		if err != nil {
			e.rollbackSwaps(outputDir, backupRoot, swapped, backedUp)
			return domain.FlushReport{}, cortexerr.IO(err, "atomic rename failed for %s", name)
		}
		backedUp[name] = hadBackup
		swapped = append(swapped, name)
	}

	now := time.Now().UnixMilli()
	for name, had := range backedUp {
		if !had {
			continue
		}
		backupPath := filepath.Join(backupRoot, filepath.FromSlash(name))
		if opts.CreateBackup {
			dest := filepath.Join(outputDir, filepath.FromSlash(name)) + ".bak." + strconv.FormatInt(now, 10)
			_ = os.Rename(backupPath, dest)
		}
	}

	return report, nil
}

// swapTopLevel moves any existing target aside into backupRoot, then
// renames the staged content into its place (unless this top-level is
// delete-only, in which case the move-aside is the whole operation).
// Reports whether a pre-existing entry was backed up, so the caller can
// roll back or discard it.
func (e *Engine) swapTopLevel(stagingRoot, backupRoot, target, name string, deleteOnly bool) (hadBackup bool, err error) {
	if _, statErr := os.Lstat(target); statErr == nil {
		backupPath := filepath.Join(backupRoot, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(backupPath), 0o755); err != nil {
			return false, err
		}
		if err := os.Rename(target, backupPath); err != nil {
			return false, err
		}
		hadBackup = true
	}

	if deleteOnly {
		return hadBackup, nil
	}

	staged := filepath.Join(stagingRoot, filepath.FromSlash(name))
	if _, err := os.Stat(staged); err != nil {
		return hadBackup, nil
	}
	if err := os.Rename(staged, target); err != nil {
		if hadBackup {
			backupPath := filepath.Join(backupRoot, filepath.FromSlash(name))
			_ = os.Rename(backupPath, target)
		}
		return hadBackup, err
	}
	return hadBackup, nil
}

// rollbackSwaps restores every top-level entry already swapped (in
// reverse order) back to its pre-flush state from backupRoot.
func (e *Engine) rollbackSwaps(outputDir, backupRoot string, swapped []string, backedUp map[string]bool) {
	for i := len(swapped) - 1; i >= 0; i-- {
		name := swapped[i]
		target := filepath.Join(outputDir, filepath.FromSlash(name))
		_ = os.RemoveAll(target)
		if backedUp[name] {
			backupPath := filepath.Join(backupRoot, filepath.FromSlash(name))
			_ = os.Rename(backupPath, target)
		}
	}
}
