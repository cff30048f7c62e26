// Package notify watches a prior corpus directory and reloads the corpus
// when its files change.
package notify

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/scrypster/charles/internal/storage"
)

// DefaultDebounce groups the burst of events an editor save produces.
const DefaultDebounce = 250 * time.Millisecond

// CorpusWatcher reloads the corpus in dir after its files change and hands
// the result to a callback. A corpus that fails to load is logged and skipped.
type CorpusWatcher struct {
	dir      string
	debounce time.Duration
	onChange func(*storage.Corpus)
	logger   *zap.Logger
	watcher  *fsnotify.Watcher
	done     chan struct{}
}

// NewCorpusWatcher creates a watcher for dir. debounce <= 0 uses DefaultDebounce.
func NewCorpusWatcher(dir string, debounce time.Duration, onChange func(*storage.Corpus), logger *zap.Logger) *CorpusWatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &CorpusWatcher{
		dir:      dir,
		debounce: debounce,
		onChange: onChange,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start begins watching. Call Stop to clean up.
func (cw *CorpusWatcher) Start() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(cw.dir); err != nil {
		_ = w.Close()
		return err
	}
	cw.watcher = w

	go cw.loop()
	cw.logger.Info("watching prior corpus", zap.String("dir", cw.dir))
	return nil
}

// Stop shuts down the watcher and waits for its goroutine.
func (cw *CorpusWatcher) Stop() {
	if cw.watcher == nil {
		return
	}
	_ = cw.watcher.Close()
	<-cw.done
}

func (cw *CorpusWatcher) loop() {
	defer close(cw.done)

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case evt, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if !isCorpusFile(evt.Name) || evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(cw.debounce)
			} else {
				timer.Reset(cw.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			cw.reload()

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.logger.Warn("corpus watcher error", zap.Error(err))
		}
	}
}

func (cw *CorpusWatcher) reload() {
	corpus, err := storage.LoadCorpus(cw.dir)
	if err != nil {
		cw.logger.Warn("ignoring invalid prior corpus", zap.String("dir", cw.dir), zap.Error(err))
		return
	}
	cw.logger.Info("prior corpus changed", zap.Int("statements", corpus.Size()))
	if cw.onChange != nil {
		cw.onChange(corpus)
	}
}

func isCorpusFile(path string) bool {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	switch ext {
	case ".yaml", ".yml", ".json":
	default:
		return false
	}
	name := strings.TrimSuffix(base, ext)
	return name == "beliefs" || name == "desires"
}
