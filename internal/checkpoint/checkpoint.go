// Package checkpoint writes the model to disk with a backup of the previous
// durable copy. The backup is always complete before the primary file is
// replaced, so a crash at any point leaves at least one loadable model.
package checkpoint

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gender-classifier/internal/common"
	"gender-classifier/internal/ml"

	"github.com/rs/zerolog/log"
)

// Saver writes a model to path. ml.Classifier satisfies it.
type Saver interface {
	Save(path string) error
}

// Reason records what triggered a checkpoint.
type Reason string

const (
	ReasonPeriodic Reason = "periodic"
	ReasonManual   Reason = "manual"
	ReasonShutdown Reason = "shutdown"
)

// Result describes a completed checkpoint.
type Result struct {
	Primary string    `json:"primary"`
	Backup  string    `json:"backup,omitempty"`
	At      time.Time `json:"at"`
}

// Options configures a Checkpointer.
type Options struct {
	// KeepBackups limits retained backups; 0 keeps all of them.
	KeepBackups int
	// HistoryFile, when set, receives a JSON log of checkpoints.
	HistoryFile string
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Checkpointer is not safe for concurrent use; callers serialize Save with
// the same lock that guards model mutation.
type Checkpointer struct {
	primary string
	keep    int
	history *History
	now     func() time.Time
}

func New(primary string, opts Options) (*Checkpointer, error) {
	if primary == "" {
		return nil, fmt.Errorf("checkpoint: empty model path")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	c := &Checkpointer{
		primary: primary,
		keep:    opts.KeepBackups,
		now:     now,
	}
	if opts.HistoryFile != "" {
		h, err := LoadHistory(opts.HistoryFile)
		if err != nil {
			return nil, err
		}
		c.history = h
	}
	return c, nil
}

// Primary returns the model path being checkpointed.
func (c *Checkpointer) Primary() string {
	return c.primary
}

// History returns the checkpoint log, or nil when none is kept.
func (c *Checkpointer) History() *History {
	return c.history
}

// Save backs up the current primary file (if any) and then atomically writes
// m over the primary path. trainingCount is recorded in the history.
func (c *Checkpointer) Save(m Saver, reason Reason, trainingCount int) (Result, error) {
	at := c.now()
	res := Result{Primary: c.primary, At: at}

	backup, err := c.backup(at)
	if err != nil {
		return res, fmt.Errorf("%w: backup %s: %v", ml.ErrPersistence, c.primary, err)
	}
	res.Backup = backup

	if err := m.Save(c.primary); err != nil {
		if errors.Is(err, ml.ErrPersistence) {
			return res, err
		}
		return res, fmt.Errorf("%w: %v", ml.ErrPersistence, err)
	}

	log.Info().
		Str("primary", c.primary).
		Str("backup", backup).
		Str("reason", string(reason)).
		Int("online_training_count", trainingCount).
		Msg("Model checkpoint saved")

	if c.keep > 0 {
		if err := c.prune(); err != nil {
			log.Warn().Err(err).Msg("Failed to prune old backups")
		}
	}
	if c.history != nil {
		entry := Entry{At: at, Primary: c.primary, Backup: backup, Reason: reason, OnlineTrainingCount: trainingCount}
		if err := c.history.Add(entry); err != nil {
			log.Warn().Err(err).Msg("Failed to record checkpoint history")
		}
	}
	return res, nil
}

// BackupPath returns <base>_backup_YYYYMMDD_HHMMSS<ext> for primary.
func BackupPath(primary string, at time.Time) string {
	ext := filepath.Ext(primary)
	base := strings.TrimSuffix(primary, ext)
	return base + "_backup_" + at.Format(common.DefaultBackupTimeLayout) + ext
}

// backup copies the primary to a new backup file. It returns "" when there is
// no primary yet.
func (c *Checkpointer) backup(at time.Time) (string, error) {
	src, err := os.Open(c.primary)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return "", err
	}

	dst, path, err := createUnique(BackupPath(c.primary, at))
	if err != nil {
		return "", err
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(path)
		return "", err
	}
	if err := dst.Sync(); err != nil {
		dst.Close()
		os.Remove(path)
		return "", err
	}
	if err := dst.Close(); err != nil {
		os.Remove(path)
		return "", err
	}
	if err := os.Chmod(path, info.Mode().Perm()); err != nil {
		return "", err
	}
	if err := os.Chtimes(path, info.ModTime(), info.ModTime()); err != nil {
		return "", err
	}
	return path, nil
}

// createUnique creates path exclusively, appending _1, _2, ... before the
// extension when a backup with the same second already exists.
func createUnique(path string) (*os.File, string, error) {
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)

	candidate := path
	for n := 1; n < 1000; n++ {
		f, err := os.OpenFile(candidate, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if err == nil {
			return f, candidate, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, "", err
		}
		candidate = fmt.Sprintf("%s_%d%s", base, n, ext)
	}
	return nil, "", fmt.Errorf("too many backups for %s", path)
}

// Backups lists existing backup files of the primary, oldest first.
func (c *Checkpointer) Backups() ([]string, error) {
	dir := filepath.Dir(c.primary)
	ext := filepath.Ext(c.primary)
	prefix := strings.TrimSuffix(filepath.Base(c.primary), ext) + "_backup_"

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ext) {
			continue
		}
		out = append(out, filepath.Join(dir, name))
	}
	sort.Strings(out)
	return out, nil
}

func (c *Checkpointer) prune() error {
	backups, err := c.Backups()
	if err != nil {
		return err
	}
	if len(backups) <= c.keep {
		return nil
	}
	for _, path := range backups[:len(backups)-c.keep] {
		if err := os.Remove(path); err != nil {
			return err
		}
		log.Debug().Str("backup", path).Msg("Removed old backup")
	}
	return nil
}
