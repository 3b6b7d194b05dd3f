package fs

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/aretw0/lifecycle"
	"github.com/aretw0/lifecycle/pkg/core/supervisor"
	"github.com/aretw0/lifecycle/pkg/core/worker"
	"github.com/fsnotify/fsnotify"
)

// EventType describes what happened to a schema file.
type EventType string

const (
	EventRegistered EventType = "registered"
	EventExisting   EventType = "existing"
	EventRejected   EventType = "rejected"
	EventRemoved    EventType = "removed"
)

// Event reports the outcome of a watched schema file change.
type Event struct {
	Type  EventType `json:"type"`
	ID    string    `json:"id"`
	File  string    `json:"file"`
	Error string    `json:"error,omitempty"`
}

func (e Event) String() string {
	return fmt.Sprintf("%s %s (%s)", e.Type, e.ID, e.File)
}

type watchWorker struct {
	*worker.BaseWorker
	dir       *SchemaDir
	reg       Registrar
	events    chan<- Event
	watcher   *fsnotify.Watcher
	debouncer *debouncer
	cancel    context.CancelFunc
}

func newWatchWorker(dir *SchemaDir, reg Registrar, events chan<- Event) *watchWorker {
	return &watchWorker{
		BaseWorker: worker.NewBaseWorker("schema-watcher"),
		dir:        dir,
		reg:        reg,
		events:     events,
	}
}

func (w *watchWorker) Start(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	status := w.State().Status
	if status != worker.StatusCreated && status != worker.StatusPending {
		return fmt.Errorf("watcher already started (status: %s)", status)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(w.dir.Path); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", w.dir.Path, err)
	}

	w.watcher = watcher
	w.debouncer = newDebouncer(50 * time.Millisecond)
	w.dir.setWatcherActive(true)

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.SetStatus(worker.StatusRunning)
	return w.StartFunc(runCtx, w.run)
}

func (w *watchWorker) Stop(ctx context.Context) error {
	if w.cancel != nil {
		w.StopRequested = true
		w.cancel()
	}
	return w.BaseWorker.Stop(ctx)
}

func (w *watchWorker) State() worker.State {
	return w.ExportState(func(s *worker.State) {
		s.Metadata = map[string]string{
			worker.MetadataType: string(worker.TypeGoroutine),
		}
	})
}

// processFilesystemEvent filters an fsnotify event and schedules the import
// of the affected file.
func (w *watchWorker) processFilesystemEvent(ctx context.Context, event fsnotify.Event) bool {
	name := filepath.Base(event.Name)
	if !w.dir.matches(name) {
		return false
	}
	w.dir.config.Logger.Debug("schema file event", "file", name, "op", event.Op.String())

	switch {
	case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
		w.debouncer.add(name, func() {
			w.dir.cache.Delete(name)
			w.sendEvent(ctx, Event{Type: EventRemoved, ID: idFromName(name), File: name})
		})
	case event.Has(fsnotify.Create) || event.Has(fsnotify.Write):
		w.debouncer.add(name, func() {
			w.importFile(ctx, name)
		})
	default:
		return false
	}
	return true
}

func (w *watchWorker) importFile(ctx context.Context, name string) {
	status, err := w.dir.importFile(ctx, w.reg, name, false)
	e := Event{ID: idFromName(name), File: name}
	switch {
	case err != nil:
		e.Type = EventRejected
		e.Error = err.Error()
		w.dir.reportError(fmt.Errorf("import %s: %w", name, err))
	case status == importRegistered:
		e.Type = EventRegistered
	case status == importExisting:
		e.Type = EventExisting
	default:
		return
	}
	if err := w.dir.cache.Save(); err != nil {
		w.dir.config.Logger.Warn("failed to save schema index", "error", err)
	}
	w.sendEvent(ctx, e)
}

// sendEvent delivers an event, protecting against channel closure during
// shutdown.
func (w *watchWorker) sendEvent(ctx context.Context, e Event) {
	defer func() {
		_ = recover()
	}()
	select {
	case w.events <- e:
	case <-ctx.Done():
	}
}

// run is the main event loop of the watcher.
func (w *watchWorker) run(ctx context.Context) (err error) {
	logger := w.dir.config.Logger
	defer func() {
		if recovered := recover(); recovered != nil {
			panicErr := fmt.Errorf("watcher panic: %v", recovered)
			if logger.Enabled(ctx, slog.LevelDebug) {
				logger.Error("watcher panic", "error", panicErr, "stack", string(debug.Stack()))
			} else {
				logger.Error("watcher panic", "error", panicErr)
			}
			err = panicErr
		}
	}()
	defer w.dir.setWatcherActive(false)
	defer w.watcher.Close()

	err = w.mainEventLoop(ctx)

	// Wait for in-flight imports before the events channel can be closed.
	w.debouncer.stopAndWait(5 * time.Second)
	return err
}

func (w *watchWorker) mainEventLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				if w.StopRequested || ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("watcher events channel closed")
			}
			w.processFilesystemEvent(ctx, event)

		case wErr, ok := <-w.watcher.Errors:
			if !ok {
				if w.StopRequested || ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("watcher errors channel closed")
			}
			w.dir.reportError(wErr)
		}
	}
}

// Watch imports schema files as they appear until ctx is cancelled. The
// watcher runs under a supervisor that restarts it after failures. The
// returned channel is closed once the watcher has stopped.
func (d *SchemaDir) Watch(ctx context.Context, reg Registrar) (<-chan Event, error) {
	events := make(chan Event, 16)

	spec := supervisor.Spec{
		Name: "schema-watcher",
		Type: string(worker.TypeGoroutine),
		Factory: func() (worker.Worker, error) {
			return newWatchWorker(d, reg, events), nil
		},
		Backoff: supervisor.Backoff{
			InitialInterval: 100 * time.Millisecond,
			MaxInterval:     5 * time.Second,
			Multiplier:      2,
			ResetDuration:   time.Minute,
			MaxRestarts:     10,
			MaxDuration:     10 * time.Minute,
		},
		RestartPolicy: supervisor.RestartOnFailure,
	}

	sup := supervisor.New("schema-dir", supervisor.StrategyOneForOne, spec)
	if err := sup.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start schema watcher: %w", err)
	}

	lifecycle.Go(ctx, func(ctx context.Context) error {
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := sup.Stop(stopCtx)
		close(events)
		return err
	}, lifecycle.WithErrorHandler(func(err error) {
		d.reportError(fmt.Errorf("stop schema watcher: %w", err))
	}))

	d.config.Logger.Debug("watching schema directory", "path", d.Path, "pattern", d.config.Pattern)
	return events, nil
}
