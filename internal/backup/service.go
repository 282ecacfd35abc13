// Package backup archives the world directory, pausing autosave while the server runs.
package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/reedfamily/mcwarden/internal/game"
)

var (
	ErrNotFound      = errors.New("backup not found")
	ErrServerRunning = errors.New("server must be stopped to restore")
	ErrNoWorld       = errors.New("world directory not found")
)

const timestampLayout = "20060102-150405"

var filenameRe = regexp.MustCompile(`^(\d{8}-\d{6})-([0-9a-f]{8})\.tar\.gz$`)

type Backup struct {
	ID        string    `json:"id"`
	Filename  string    `json:"filename"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// Console is the running server as far as backups care.
type Console interface {
	Running() bool
	Command(ctx context.Context, line string) error
	// Expect subscribes to eventID before the caller sends the command that triggers it.
	Expect(eventID string) (wait func(context.Context) (*game.Event, error), cancel func())
}

type Recorder interface {
	BackupFinished(err error)
}

type Config struct {
	WorldDir string
	Dir      string
	// Keep is how many archives Prune leaves. Zero keeps everything.
	Keep int
	// SaveTimeout bounds the wait for the server to confirm a flush.
	SaveTimeout time.Duration
	// SavedEvent is the event type the server emits after a flush.
	SavedEvent string
}

type Service struct {
	cfg     Config
	console Console
	log     *zap.SugaredLogger
	rec     Recorder
	now     func() time.Time

	mu sync.Mutex
}

func NewService(cfg Config, console Console, log *zap.SugaredLogger, rec Recorder) *Service {
	if cfg.SaveTimeout <= 0 {
		cfg.SaveTimeout = time.Minute
	}
	if cfg.SavedEvent == "" {
		cfg.SavedEvent = "game_saved"
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Service{cfg: cfg, console: console, log: log.Named("backup"), rec: rec, now: time.Now}
}

// Create archives the world. While the server runs, autosave is turned off and the world
// flushed first, and autosave is turned back on afterwards whatever happens.
func (s *Service) Create(ctx context.Context) (b *Backup, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() {
		if s.rec != nil {
			s.rec.BackupFinished(err)
		}
	}()

	if err := s.CheckWorld(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(s.cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup directory: %w", err)
	}

	if s.console != nil && s.console.Running() {
		if err := s.pauseSaving(ctx); err != nil {
			return nil, err
		}
		defer func() {
			if err := s.console.Command(context.WithoutCancel(ctx), "save-on"); err != nil {
				s.log.Warnw("re-enable autosave", "error", err)
			}
		}()
	}

	created := s.now()
	id := uuid.NewString()[:8]
	filename := fmt.Sprintf("%s-%s.tar.gz", created.Format(timestampLayout), id)
	path := filepath.Join(s.cfg.Dir, filename)

	start := time.Now()
	if err := createTarGz(ctx, path, s.cfg.WorldDir); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("create archive: %w", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat backup: %w", err)
	}
	b = &Backup{ID: id, Filename: filename, SizeBytes: info.Size(), CreatedAt: created.Truncate(time.Second)}
	s.log.Infow("backup created", "file", filename, "bytes", b.SizeBytes, "took", time.Since(start))

	if removed, err := s.prune(); err != nil {
		s.log.Warnw("prune backups", "error", err)
	} else if removed > 0 {
		s.log.Infow("pruned backups", "removed", removed)
	}
	return b, nil
}

// CheckWorld returns ErrNoWorld when there is no world directory to archive.
func (s *Service) CheckWorld() error {
	if _, err := os.Stat(s.cfg.WorldDir); err != nil {
		return fmt.Errorf("%w: %s", ErrNoWorld, s.cfg.WorldDir)
	}
	return nil
}

func (s *Service) pauseSaving(ctx context.Context) error {
	if err := s.console.Command(ctx, "save-off"); err != nil {
		return fmt.Errorf("disable autosave: %w", err)
	}
	wait, cancel := s.console.Expect(s.cfg.SavedEvent)
	defer cancel()
	if err := s.console.Command(ctx, "save-all flush"); err != nil {
		_ = s.console.Command(context.WithoutCancel(ctx), "save-on")
		return fmt.Errorf("flush world: %w", err)
	}
	wctx, wcancel := context.WithTimeout(ctx, s.cfg.SaveTimeout)
	defer wcancel()
	if _, err := wait(wctx); err != nil {
		_ = s.console.Command(context.WithoutCancel(ctx), "save-on")
		return fmt.Errorf("wait for save: %w", err)
	}
	return nil
}

// List returns the archives in the backup directory, newest first.
func (s *Service) List() ([]Backup, error) {
	entries, err := os.ReadDir(s.cfg.Dir)
	if errors.Is(err, os.ErrNotExist) {
		return []Backup{}, nil
	}
	if err != nil {
		return nil, err
	}
	backups := []Backup{}
	for _, e := range entries {
		m := filenameRe.FindStringSubmatch(e.Name())
		if m == nil || !e.Type().IsRegular() {
			continue
		}
		created, err := time.ParseInLocation(timestampLayout, m[1], time.Local)
		if err != nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		backups = append(backups, Backup{ID: m[2], Filename: e.Name(), SizeBytes: info.Size(), CreatedAt: created})
	}
	sort.Slice(backups, func(i, j int) bool { return backups[i].Filename > backups[j].Filename })
	return backups, nil
}

// FilePath returns the full path to a backup file.
func (s *Service) FilePath(id string) (string, error) {
	backups, err := s.List()
	if err != nil {
		return "", err
	}
	for _, b := range backups {
		if b.ID == id {
			return filepath.Join(s.cfg.Dir, b.Filename), nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, id)
}

func (s *Service) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	path, err := s.FilePath(id)
	if err != nil {
		return err
	}
	return os.Remove(path)
}

// Prune removes the oldest archives beyond Keep.
func (s *Service) Prune() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prune()
}

func (s *Service) prune() (int, error) {
	if s.cfg.Keep <= 0 {
		return 0, nil
	}
	backups, err := s.List()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, b := range backups[min(s.cfg.Keep, len(backups)):] {
		if err := os.Remove(filepath.Join(s.cfg.Dir, b.Filename)); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// Restore replaces the world directory with the contents of a backup.
// The server must be stopped.
func (s *Service) Restore(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.console != nil && s.console.Running() {
		return ErrServerRunning
	}
	path, err := s.FilePath(id)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(s.cfg.WorldDir); err != nil {
		return fmt.Errorf("clear world directory: %w", err)
	}
	if err := os.MkdirAll(s.cfg.WorldDir, 0o755); err != nil {
		return fmt.Errorf("recreate world directory: %w", err)
	}
	s.log.Infow("restoring backup", "id", id)
	return extractTarGz(ctx, path, s.cfg.WorldDir)
}

func createTarGz(ctx context.Context, dest, srcDir string) error {
	file, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer file.Close()

	gw := gzip.NewWriter(file)
	tw := tar.NewWriter(gw)

	err = filepath.Walk(srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		// session.lock is held open by a running server.
		if rel == "." || rel == "session.lock" {
			return nil
		}
		if !info.IsDir() && !info.Mode().IsRegular() {
			return nil
		}

		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return err
	}
	if err := tw.Close(); err != nil {
		return err
	}
	if err := gw.Close(); err != nil {
		return err
	}
	return file.Sync()
}

func extractTarGz(ctx context.Context, src, destDir string) error {
	file, err := os.Open(src)
	if err != nil {
		return err
	}
	defer file.Close()

	gr, err := gzip.NewReader(file)
	if err != nil {
		return err
	}
	defer gr.Close()

	root := filepath.Clean(destDir) + string(filepath.Separator)
	tr := tar.NewReader(gr)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		target := filepath.Join(destDir, filepath.FromSlash(header.Name))
		if !strings.HasPrefix(target+string(filepath.Separator), root) {
			return fmt.Errorf("invalid path in archive: %s", header.Name)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := writeFile(target, tr, os.FileMode(header.Mode).Perm()); err != nil {
				return err
			}
		}
	}
}

func writeFile(path string, r io.Reader, mode os.FileMode) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
