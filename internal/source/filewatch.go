package source

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// fileEventTypes is checked in order; the first matching op names the event.
var fileEventTypes = []struct {
	op     fsnotify.Op
	change string
	kind   string
}{
	{fsnotify.Create, "created", "FileCreatedEvent"},
	{fsnotify.Write, "modified", "FileModifiedEvent"},
	{fsnotify.Remove, "deleted", "FileDeletedEvent"},
	{fsnotify.Rename, "moved", "FileMovedEvent"},
	{fsnotify.Chmod, "modified", "FileModifiedEvent"},
}

// fileWatchSource emits one event per file system change under path.
//
// Arguments: path (required), recursive (bool; new subdirectories are
// watched as they appear). Events look like
// {"change": "created", "src_path": "...", "root_path": "...", "type": "FileCreatedEvent"}.
func fileWatchSource(ctx context.Context, args map[string]any, emit Emit) error {
	root, _ := args["path"].(string)
	if root == "" {
		return fmt.Errorf("file_watch requires a path")
	}
	recursive, _ := args["recursive"].(bool)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	if err := addWatch(w, root, recursive); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watch %s: %w", root, err)
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if recursive && ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := addWatch(w, ev.Name, true); err != nil {
						return err
					}
				}
			}
			for _, t := range fileEventTypes {
				if !ev.Has(t.op) {
					continue
				}
				err := emit(ctx, map[string]any{
					"change":    t.change,
					"src_path":  ev.Name,
					"root_path": root,
					"type":      t.kind,
				})
				if err != nil {
					return err
				}
				break
			}
		}
	}
}

func addWatch(w *fsnotify.Watcher, root string, recursive bool) error {
	if !recursive {
		if err := w.Add(root); err != nil {
			return fmt.Errorf("watch %s: %w", root, err)
		}
		return nil
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}
