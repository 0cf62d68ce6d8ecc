package claude

import (
	"hash/fnv"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// watcher tracks transcript changes. When fsnotify is available the version
// is a counter bumped per filesystem event; otherwise each version call
// falls back to hashing (path, mtime, size) across the roots, which is
// slower but always correct.
type watcher struct {
	roots   []string
	fsw     *fsnotify.Watcher
	counter atomic.Int64
	done    chan struct{}
}

func newWatcher(roots []string) *watcher {
	w := &watcher{roots: roots, done: make(chan struct{})}
	w.counter.Store(1)

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("[claude] fsnotify unavailable, using mtime scans: %v", err)
		return w
	}
	for _, root := range roots {
		filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err == nil && d.IsDir() {
				fsw.Add(path)
			}
			return nil
		})
	}
	w.fsw = fsw
	go w.run()
	return w
}

func (w *watcher) run() {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			// New project directories appear when a session starts in a
			// fresh workspace; watch them too.
			if ev.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					w.fsw.Add(ev.Name)
					continue
				}
			}
			if strings.HasSuffix(ev.Name, ".jsonl") {
				w.counter.Add(1)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Printf("[claude] watch error: %v", err)
		}
	}
}

// version returns the current change marker.
func (w *watcher) version() int64 {
	if w.fsw != nil {
		return w.counter.Load()
	}
	return w.scanSignature()
}

// scanSignature folds every transcript's identity and mtime into one value.
func (w *watcher) scanSignature() int64 {
	h := fnv.New64a()
	for _, root := range w.roots {
		filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() || !strings.HasSuffix(path, ".jsonl") {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return nil
			}
			h.Write([]byte(path))
			var buf [16]byte
			mt := info.ModTime().UnixNano()
			size := info.Size()
			for i := 0; i < 8; i++ {
				buf[i] = byte(mt >> (8 * i))
				buf[8+i] = byte(size >> (8 * i))
			}
			h.Write(buf[:])
			return nil
		})
	}
	return int64(h.Sum64())
}

func (w *watcher) stop() {
	close(w.done)
	if w.fsw != nil {
		w.fsw.Close()
	}
}
