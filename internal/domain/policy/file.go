package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/okian/popstats/internal/domain/model"
	"github.com/okian/popstats/pkg/logger"
)

// FilePolicy is a Policy loaded from a YAML file. The active policy can be
// swapped at any time by Reload or Watch; readers never block.
type FilePolicy struct {
	path     string
	current  atomic.Pointer[compiled]
	log      logger.Logger
	onReload func(Policy)
}

// FileOption configures a FilePolicy.
type FileOption func(*FilePolicy)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) FileOption {
	return func(f *FilePolicy) {
		if l != nil {
			f.log = l
		}
	}
}

// WithReloadHook registers a callback invoked after every successful reload.
func WithReloadHook(fn func(Policy)) FileOption {
	return func(f *FilePolicy) { f.onReload = fn }
}

// LoadFile reads path and returns the resulting FilePolicy.
func LoadFile(path string, opts ...FileOption) (*FilePolicy, error) {
	f := &FilePolicy{path: filepath.Clean(path), log: logger.NewNop()}
	for _, opt := range opts {
		opt(f)
	}
	p, err := decodeFile(f.path)
	if err != nil {
		return nil, err
	}
	f.current.Store(compile(p))
	return f, nil
}

func decodeFile(path string) (Policy, error) {
	var p Policy
	b, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("%w: %w", ErrInvalidPolicy, err)
	}
	if err := yaml.Unmarshal(b, &p); err != nil {
		return p, fmt.Errorf("%w: %w", ErrInvalidPolicy, err)
	}
	if p.LookbackDays < 0 || p.Limit < 0 {
		return p, fmt.Errorf("%w: lookback_days and limit must not be negative", ErrInvalidPolicy)
	}
	return p, nil
}

// Current returns the active policy.
func (f *FilePolicy) Current() Policy { return f.current.Load().Policy }

// Params is a ParamsHook overriding non-zero lookback_days and limit.
func (f *FilePolicy) Params(p model.FetchParams) model.FetchParams {
	c := f.current.Load()
	return Defaults(c.LookbackDays, c.Limit)(p)
}

// Eligible is an eligibility override: excluded ids are never eligible,
// included ids always are, others keep the default verdict.
func (f *FilePolicy) Eligible(def bool, itemID string) bool {
	c := f.current.Load()
	if _, ok := c.exclude[itemID]; ok {
		return false
	}
	if _, ok := c.include[itemID]; ok {
		return true
	}
	return def
}

// Kind resolves an item's content kind from the policy catalog.
func (f *FilePolicy) Kind(_ context.Context, itemID string) (string, bool, error) {
	k, ok := f.current.Load().Kinds[itemID]
	return k, ok, nil
}

// Reload re-reads the file. On error the previous policy stays active.
func (f *FilePolicy) Reload() error {
	p, err := decodeFile(f.path)
	if err != nil {
		return err
	}
	f.current.Store(compile(p))
	if f.onReload != nil {
		f.onReload(p)
	}
	return nil
}

// Watch reloads the policy whenever the file is written or recreated.
// It blocks until ctx is cancelled.
func (f *FilePolicy) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	// The directory is watched so that atomic saves (write temp, rename) are seen.
	if err := watcher.Add(filepath.Dir(f.path)); err != nil {
		return err
	}
	f.log.Info(ctx, "watching policy file", logger.String("path", f.path))

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != f.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := f.Reload(); err != nil {
				f.log.Error(ctx, "policy reload failed, keeping previous policy",
					logger.String("path", f.path), logger.Error(err))
				continue
			}
			f.log.Info(ctx, "policy reloaded", logger.String("path", f.path))

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			f.log.Error(ctx, "policy watcher error", logger.Error(err))
		}
	}
}
