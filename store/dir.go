package store

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const fileExt = ".json"

// Dir stores each recording as <name>.json in a directory.
type Dir struct {
	path string
}

// OpenDir creates path if needed.
func OpenDir(path string) (*Dir, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("create recordings dir: %w", err)
	}
	return &Dir{path: path}, nil
}

func (d *Dir) file(name string) string {
	return filepath.Join(d.path, name+fileExt)
}

func (d *Dir) Scan() ([]Entry, error) {
	des, err := os.ReadDir(d.path)
	if err != nil {
		return nil, err
	}
	var entries []Entry
	for _, de := range des {
		if de.IsDir() || !strings.HasSuffix(de.Name(), fileExt) || strings.HasPrefix(de.Name(), ".") {
			continue
		}
		name := strings.TrimSuffix(de.Name(), fileExt)
		data, err := os.ReadFile(d.file(name))
		entries = append(entries, Entry{Name: name, Data: data, Err: err})
	}
	return entries, nil
}

// Put writes through a temporary file so a failed write never leaves a
// truncated record behind.
func (d *Dir) Put(name string, data []byte) error {
	f, err := os.CreateTemp(d.path, "."+name+"-*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, d.file(name)); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func (d *Dir) Remove(name string) error {
	return os.Remove(d.file(name))
}

func (d *Dir) Close() error {
	return nil
}

const debounce = 100 * time.Millisecond

// Watch reports changes to recording files, coalescing bursts of events.
func (d *Dir) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(d.path); err != nil {
		return fmt.Errorf("watch %s: %w", d.path, err)
	}

	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !strings.HasSuffix(event.Name, fileExt) {
				continue
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(debounce)
		case <-timer.C:
			onChange()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("watching %q: %v", d.path, err)
		}
	}
}
