package ingest

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

type WatchConfig struct {
	Roots       []string
	AllowedExts map[string]struct{}
	InitialScan bool          // emit files already present
	Debounce    time.Duration // coalesce write bursts from mail clients saving a file
}

// StartWatcher emits paths of created or rewritten files under cfg.Roots until
// ctx is cancelled.
func StartWatcher(ctx context.Context, cfg WatchConfig, logger *slog.Logger) (<-chan string, <-chan error, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(cfg.Roots) == 0 {
		return nil, nil, errors.New("no roots provided")
	}
	if cfg.AllowedExts == nil {
		cfg.AllowedExts = defaultExts
	}
	evCh := make(chan string, 256)
	errCh := make(chan error, 1)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, err
	}

	addDir := func(root string) error {
		return filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if d.IsDir() {
				return w.Add(path)
			}
			if cfg.InitialScan && allowed(path, cfg.AllowedExts) {
				select {
				case evCh <- path:
				default:
				}
			}
			return nil
		})
	}
	for _, r := range cfg.Roots {
		if err := addDir(r); err != nil {
			logger.Error("ingest.watch.add_root_error", "root", r, "error", err)
			_ = w.Close()
			return nil, nil, err
		}
	}

	go func() {
		defer close(evCh)
		defer close(errCh)
		defer func() {
			if err := w.Close(); err != nil {
				logger.Warn("ingest.watch.close_error", "error", err)
			}
		}()

		pending := map[string]struct{}{}
		var timer *time.Timer
		var fire <-chan time.Time

		flush := func() {
			for p := range pending {
				select {
				case evCh <- p:
				default:
					logger.Warn("ingest.watch.dropped", "path", p)
				}
				delete(pending, p)
			}
		}

		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case e, ok := <-w.Events:
				if !ok {
					return
				}
				if e.Op.Has(fsnotify.Create) {
					// new subdirectories are watched too; plain files fail Add and are ignored
					_ = w.Add(e.Name)
				}
				if !allowed(e.Name, cfg.AllowedExts) || !(e.Op.Has(fsnotify.Create) || e.Op.Has(fsnotify.Write) || e.Op.Has(fsnotify.Rename)) {
					continue
				}
				pending[e.Name] = struct{}{}
				if cfg.Debounce <= 0 {
					flush()
					continue
				}
				if timer == nil {
					timer = time.NewTimer(cfg.Debounce)
				} else {
					timer.Reset(cfg.Debounce)
				}
				fire = timer.C
			case <-fire:
				fire = nil
				flush()
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Error("ingest.watch.error", "error", err)
				select {
				case errCh <- err:
				default:
				}
			}
		}
	}()

	return evCh, errCh, nil
}

// IngestFile registers path with src and ingests it.
func (s *Service) IngestFile(ctx context.Context, src *DirectorySource, path string) (*Outcome, error) {
	id, err := src.Register(path)
	if err != nil {
		return nil, err
	}
	exists, err := s.receipts.ExistsByMessageID(ctx, id)
	if err != nil {
		return nil, err
	}
	if exists {
		return &Outcome{OK: true, MessageID: id, Deduped: true}, nil
	}
	msg, err := LoadMessageFile(id, path)
	if err != nil {
		return nil, err
	}
	return s.IngestMessage(ctx, msg)
}

// Watch ingests files dropped under src's root until ctx is cancelled.
func (s *Service) Watch(ctx context.Context, src *DirectorySource, debounce time.Duration) error {
	events, errs, err := StartWatcher(ctx, WatchConfig{
		Roots:       []string{src.Root()},
		AllowedExts: src.exts,
		InitialScan: true,
		Debounce:    debounce,
	}, s.logger)
	if err != nil {
		return err
	}
	s.logger.Info("ingest.watch.start", "root", src.Root())
	for {
		select {
		case <-ctx.Done():
			return nil
		case p, ok := <-events:
			if !ok {
				return nil
			}
			out, err := s.IngestFile(ctx, src, p)
			if err != nil {
				s.logger.Error("ingest.watch.file_error", "path", p, "error", err)
				continue
			}
			s.logger.Info("ingest.watch.file", "path", p, "message_id", out.MessageID, "deduped", out.Deduped, "parse_status", out.ParseStatus)
		case err, ok := <-errs:
			if ok && err != nil {
				s.logger.Warn("ingest.watch.error", "error", err)
			}
		}
	}
}
