package notify

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Feed tails the change-feed directory, delivering events on a channel.
// Backlogged event files are replayed in emission order before live ones;
// every delivered file is consumed (deleted), so at most one feed per
// directory sees each event.
type Feed struct {
	dir     string
	fsw     *fsnotify.Watcher
	events  chan Event
	closing chan struct{}
	done    chan struct{}
}

// OpenFeed starts tailing {dataPath}/events/. Callers range over Events and
// call Close when finished.
func OpenFeed(dataPath string) (*Feed, error) {
	dir := filepath.Join(dataPath, "events")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	f := &Feed{
		dir:     dir,
		fsw:     fsw,
		events:  make(chan Event, 64),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	go f.run()
	return f, nil
}

// Events returns the delivery channel. It is closed when the feed stops.
func (f *Feed) Events() <-chan Event {
	return f.events
}

// Close stops the feed and waits for the delivery loop to exit.
func (f *Feed) Close() error {
	close(f.closing)
	err := f.fsw.Close()
	<-f.done
	return err
}

func (f *Feed) run() {
	defer close(f.done)
	defer close(f.events)

	f.replayBacklog()

	for {
		select {
		case ev, ok := <-f.fsw.Events:
			if !ok {
				return
			}
			// The writer publishes via rename; that surfaces as Create
			// on linux and Rename on some platforms.
			if ev.Op&(fsnotify.Create|fsnotify.Rename) != 0 && strings.HasSuffix(ev.Name, eventSuffix) {
				f.consume(ev.Name)
			}
		case err, ok := <-f.fsw.Errors:
			if !ok {
				return
			}
			log.Printf("notify: feed error: %v", err)
		}
	}
}

// replayBacklog delivers event files that predate the feed. Filenames sort
// in emission order.
func (f *Feed) replayBacklog() {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return
	}
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), eventSuffix) {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		f.consume(filepath.Join(f.dir, name))
	}
}

// consume reads, deletes and delivers one event file. A read failure means
// another feed got there first.
func (f *Feed) consume(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	_ = os.Remove(path)

	var evt Event
	if err := json.Unmarshal(data, &evt); err != nil {
		log.Printf("notify: discarding malformed event %s: %v", filepath.Base(path), err)
		return
	}
	if evt.MemoryID == "" {
		return
	}
	select {
	case f.events <- evt:
	case <-f.closing:
	}
}
