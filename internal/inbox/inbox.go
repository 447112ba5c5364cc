// Package inbox ingests reports dropped into a watched directory.
//
// Scanners and the property management system export their departure and
// in-house lists into a shared folder. Files named departure* or inhouse*
// with a .pdf, .xlsx or .txt extension are uploaded once they have stopped
// changing for the settle delay, then moved to processed/ or failed/.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/fyrsmithlabs/roomsync/internal/device"
	"github.com/fyrsmithlabs/roomsync/internal/logging"
	"github.com/fyrsmithlabs/roomsync/internal/roster"
	"go.uber.org/zap"
)

const (
	// ProcessedDir receives reports that were applied.
	ProcessedDir = "processed"
	// FailedDir receives reports that were rejected, each with a .err file.
	FailedDir = "failed"

	// DefaultSettleDelay is how long a file must stay unchanged.
	DefaultSettleDelay = 2 * time.Second
)

var (
	// ErrNoDir is returned when the inbox directory is not configured.
	ErrNoDir = errors.New("inbox directory is required")

	// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
	ErrWatcherFailed = errors.New("failed to initialize inbox watcher")
)

var extensions = map[string]bool{".pdf": true, ".xlsx": true, ".txt": true}

// Uploader applies a report to the shared roster.
type Uploader interface {
	UploadReport(ctx context.Context, u device.Upload) (device.ReportResult, error)
}

// Result is the outcome of one dropped file.
type Result struct {
	File    string
	Kind    roster.ReportKind
	Report  device.ReportResult
	Err     error
	MovedTo string
}

// Config configures an Inbox.
type Config struct {
	Dir         string
	SettleDelay time.Duration
}

// Option configures an Inbox.
type Option func(*Inbox)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(in *Inbox) {
		if l != nil {
			in.logger = l
		}
	}
}

// WithClock sets the clock used to name moved files.
func WithClock(now func() time.Time) Option {
	return func(in *Inbox) { in.now = now }
}

// Inbox watches a directory and uploads the reports dropped into it.
type Inbox struct {
	cfg      Config
	uploader Uploader
	logger   *logging.Logger
	now      func() time.Time
	watcher  *fsnotify.Watcher

	timers  map[string]*time.Timer
	ready   chan string
	results chan Result

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates the inbox directories and a watcher. Call Run to start
// ingesting.
func New(cfg Config, uploader Uploader, opts ...Option) (*Inbox, error) {
	if cfg.Dir == "" {
		return nil, ErrNoDir
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	for _, dir := range []string{cfg.Dir, filepath.Join(cfg.Dir, ProcessedDir), filepath.Join(cfg.Dir, FailedDir)} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("creating inbox directory: %w", err)
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}

	in := &Inbox{
		cfg:      cfg,
		uploader: uploader,
		logger:   logging.Nop(),
		now:      time.Now,
		watcher:  watcher,
		timers:   make(map[string]*time.Timer),
		ready:    make(chan string),
		results:  make(chan Result, 16),
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in, nil
}

// Results delivers the outcome of every file handled. Results are dropped
// when nobody reads them.
func (in *Inbox) Results() <-chan Result {
	return in.results
}

// Classify returns the report kind for a file name, or false when the file
// is not a report.
func Classify(name string) (roster.ReportKind, bool) {
	base := strings.ToLower(filepath.Base(name))
	if strings.HasPrefix(base, ".") || !extensions[filepath.Ext(base)] {
		return "", false
	}
	switch {
	case strings.HasPrefix(base, string(roster.ReportDeparture)):
		return roster.ReportDeparture, true
	case strings.HasPrefix(base, string(roster.ReportInhouse)):
		return roster.ReportInhouse, true
	}
	return "", false
}

// Run watches the directory until ctx is cancelled. Reports already present
// when Run starts are ingested too.
func (in *Inbox) Run(ctx context.Context) error {
	defer func() {
		for _, t := range in.timers {
			t.Stop()
		}
		_ = in.Close()
	}()

	if err := in.watcher.Add(in.cfg.Dir); err != nil {
		select {
		case <-in.stop:
			return nil
		default:
		}
		return fmt.Errorf("watching %s: %w", in.cfg.Dir, err)
	}
	entries, err := os.ReadDir(in.cfg.Dir)
	if err != nil {
		return fmt.Errorf("reading %s: %w", in.cfg.Dir, err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			in.schedule(filepath.Join(in.cfg.Dir, e.Name()))
		}
	}
	in.logger.Info(ctx, "watching report inbox", zap.String("dir", in.cfg.Dir))

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-in.stop:
			return nil
		case event, ok := <-in.watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				in.schedule(event.Name)
			}
		case err, ok := <-in.watcher.Errors:
			if !ok {
				return nil
			}
			in.logger.Warn(ctx, "inbox watcher error", zap.Error(err))
		case path := <-in.ready:
			delete(in.timers, path)
			res, handled := in.process(ctx, path)
			if !handled {
				continue
			}
			select {
			case in.results <- res:
			default:
			}
		}
	}
}

// Close stops the watcher. It is safe to call more than once.
func (in *Inbox) Close() error {
	var err error
	in.stopOnce.Do(func() {
		close(in.stop)
		err = in.watcher.Close()
	})
	return err
}

// schedule (re)starts the settle timer for path.
func (in *Inbox) schedule(path string) {
	if _, ok := Classify(path); !ok {
		return
	}
	if t, ok := in.timers[path]; ok {
		t.Reset(in.cfg.SettleDelay)
		return
	}
	in.timers[path] = time.AfterFunc(in.cfg.SettleDelay, func() {
		select {
		case in.ready <- path:
		case <-in.stop:
		}
	})
}

// process uploads one settled file and moves it out of the inbox. It returns
// false when the file vanished or is not a regular file.
func (in *Inbox) process(ctx context.Context, path string) (Result, bool) {
	kind, _ := Classify(path)
	res := Result{File: filepath.Base(path), Kind: kind}

	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			in.logger.Warn(ctx, "inbox file unreadable", zap.String("file", res.File), zap.Error(err))
		}
		return res, false
	}

	res.Report, res.Err = in.upload(ctx, path, kind)

	sub := ProcessedDir
	if res.Err != nil {
		sub = FailedDir
	}
	moved, err := in.move(path, sub)
	if err != nil {
		in.logger.Error(ctx, "moving inbox file", zap.String("file", res.File), zap.Error(err))
		if res.Err == nil {
			res.Err = err
		}
		return res, true
	}
	res.MovedTo = moved

	if res.Err != nil {
		if err := os.WriteFile(moved+".err", []byte(res.Err.Error()+"\n"), 0o640); err != nil {
			in.logger.Warn(ctx, "writing inbox error file", zap.String("file", res.File), zap.Error(err))
		}
		in.logger.Warn(ctx, "inbox report rejected",
			zap.String("file", res.File),
			zap.String("kind", string(kind)),
			zap.Error(res.Err))
		return res, true
	}
	in.logger.Info(ctx, "inbox report ingested",
		zap.String("file", res.File),
		zap.String("kind", string(kind)),
		zap.Int("matched", len(res.Report.Matched)),
		zap.Int("changed", len(res.Report.Changed)))
	return res, true
}

func (in *Inbox) upload(ctx context.Context, path string, kind roster.ReportKind) (device.ReportResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return device.ReportResult{}, fmt.Errorf("opening report: %w", err)
	}
	defer f.Close()

	return in.uploader.UploadReport(ctx, device.Upload{
		Kind:     kind,
		Filename: filepath.Base(path),
		Body:     f,
	})
}

// move renames path into sub, timestamping the name if it is taken.
func (in *Inbox) move(path, sub string) (string, error) {
	base := filepath.Base(path)
	dest := filepath.Join(in.cfg.Dir, sub, base)
	if _, err := os.Stat(dest); err == nil {
		dest = filepath.Join(in.cfg.Dir, sub, in.now().Format("20060102T150405.000")+"-"+base)
	}
	if err := os.Rename(path, dest); err != nil {
		return "", err
	}
	return dest, nil
}
