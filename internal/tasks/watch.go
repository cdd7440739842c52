package tasks

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// InboxEvent reports an i2d product that has finished arriving in a
// watched inbox directory.
type InboxEvent struct {
	Path string
	Time time.Time
}

// InboxWatcher monitors inbox directories for new *_i2d.fits products.
// Downloads are written incrementally, so an event is only emitted once
// a file has stopped changing for the settle delay.
type InboxWatcher struct {
	watcher *fsnotify.Watcher
	log     *slog.Logger
	settle  time.Duration

	Events chan InboxEvent

	mu      sync.Mutex
	pending map[string]*time.Timer
	done    chan struct{}
}

// DefaultSettleDelay is how long a file must stay quiet before it is
// considered completely downloaded.
const DefaultSettleDelay = 2 * time.Second

// NewInboxWatcher creates a watcher over the given directories. A zero
// settle falls back to DefaultSettleDelay.
func NewInboxWatcher(dirs []string, settle time.Duration, log *slog.Logger) (*InboxWatcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, dir := range dirs {
		if err := fw.Add(dir); err != nil {
			fw.Close()
			return nil, err
		}
		log.Info("watching inbox", "dir", dir)
	}
	if settle <= 0 {
		settle = DefaultSettleDelay
	}
	iw := &InboxWatcher{
		watcher: fw,
		log:     log,
		settle:  settle,
		Events:  make(chan InboxEvent, 64),
		pending: make(map[string]*time.Timer),
		done:    make(chan struct{}),
	}
	go iw.loop()
	return iw, nil
}

// Stop shuts the watcher down. Events already buffered remain readable;
// no further events are produced.
func (iw *InboxWatcher) Stop() error {
	close(iw.done)
	err := iw.watcher.Close()
	iw.mu.Lock()
	for path, t := range iw.pending {
		t.Stop()
		delete(iw.pending, path)
	}
	iw.mu.Unlock()
	return err
}

func (iw *InboxWatcher) loop() {
	for {
		select {
		case ev, ok := <-iw.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !isI2DProduct(ev.Name) {
				continue
			}
			iw.touch(ev.Name)
		case err, ok := <-iw.watcher.Errors:
			if !ok {
				return
			}
			iw.log.Error("inbox watcher error", "error", err)
		case <-iw.done:
			return
		}
	}
}

// touch resets the settle timer for path, creating it on first sight.
func (iw *InboxWatcher) touch(path string) {
	iw.mu.Lock()
	defer iw.mu.Unlock()
	if t, ok := iw.pending[path]; ok {
		t.Reset(iw.settle)
		return
	}
	iw.pending[path] = time.AfterFunc(iw.settle, func() {
		iw.mu.Lock()
		delete(iw.pending, path)
		iw.mu.Unlock()
		select {
		case iw.Events <- InboxEvent{Path: path, Time: time.Now()}:
		case <-iw.done:
		default:
			iw.log.Warn("inbox event buffer full, dropping", "path", path)
		}
	})
}

func isI2DProduct(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), "_i2d.fits")
}
