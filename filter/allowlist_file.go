package filter

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/TheQuantumPhysicist/HttpRpcRelay/logging"
	"github.com/TheQuantumPhysicist/HttpRpcRelay/observability"
)

// ReadMethodsFile reads an allow-list file: one or more comma-separated
// method names per line, '#' starts a comment.
func ReadMethodsFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open allow-list file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var methods []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		methods = append(methods, ParseMethodList(line)...)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read allow-list file: %w", err)
	}
	return methods, nil
}

// AllowListLoader keeps a JSONRPCFilter's allow-list equal to the configured
// options plus the contents of a file, reloading when the file changes.
type AllowListLoader struct {
	logger  logging.Logger
	filter  *JSONRPCFilter
	path    string
	options []string

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	cancelFn context.CancelFunc
	wg       sync.WaitGroup
}

// NewAllowListLoader creates a loader for path. options are always kept in
// the allow-list regardless of the file contents.
func NewAllowListLoader(logger logging.Logger, f *JSONRPCFilter, path, options string) *AllowListLoader {
	return &AllowListLoader{
		logger:  logging.ForComponent(logger, logging.ComponentAllowListLoader).With().Str(logging.FieldFile, path).Logger(),
		filter:  f,
		path:    path,
		options: ParseMethodList(options),
	}
}

// Load reads the file once and replaces the allow-list. On error the
// allow-list is left untouched.
func (l *AllowListLoader) Load() error {
	timer := observability.NewTimer()

	fromFile, err := ReadMethodsFile(l.path)
	if err != nil {
		allowListReloadsTotal.WithLabelValues(logging.ResultFailure).Inc()
		timer.ObserveOperation(logging.ComponentAllowListLoader, "load", logging.ResultFailure)
		return err
	}

	methods := make([]string, 0, len(l.options)+len(fromFile))
	methods = append(methods, l.options...)
	methods = append(methods, fromFile...)
	l.filter.ReplaceAllowedMethods(methods)

	allowListReloadsTotal.WithLabelValues(logging.ResultSuccess).Inc()
	allowListSize.Set(float64(len(l.filter.AllowedMethods())))
	l.logger.Info().
		Int(logging.FieldCount, len(fromFile)).
		Dur(logging.FieldDuration, timer.ObserveOperation(logging.ComponentAllowListLoader, "load", logging.ResultSuccess)).
		Msg("allow-list file loaded")
	return nil
}

// Start loads the file and watches its directory so that editors replacing
// the file through a rename are picked up too.
func (l *AllowListLoader) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.watcher != nil {
		return fmt.Errorf("allow-list loader already started")
	}

	if err := l.Load(); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(l.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch allow-list directory: %w", err)
	}
	l.watcher = watcher

	ctx, l.cancelFn = context.WithCancel(ctx)
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		logging.RecoverGoRoutine(l.logger, logging.ComponentAllowListLoader, func(ctx context.Context) {
			l.watchLoop(ctx, watcher)
		})(ctx)
	}()
	return nil
}

func (l *AllowListLoader) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	target := filepath.Clean(l.path)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := l.Load(); err != nil {
				l.logger.Warn().Err(err).Msg("failed to reload allow-list file, keeping previous allow-list")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			l.logger.Warn().Err(err).Msg("allow-list file watcher error")
		}
	}
}

// Close stops watching. It is safe to call more than once.
func (l *AllowListLoader) Close() error {
	l.mu.Lock()
	watcher := l.watcher
	cancel := l.cancelFn
	l.watcher = nil
	l.cancelFn = nil
	l.mu.Unlock()

	if watcher == nil {
		return nil
	}
	cancel()
	err := watcher.Close()
	l.wg.Wait()
	return err
}
