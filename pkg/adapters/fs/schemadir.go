// Package fs mirrors collection schemas to a directory of JSON files.
//
// Every "<id>.json" file in the directory describes one collection. The
// directory can be imported at startup, watched for new files, and written
// by exporting the registered collections.
package fs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/cespare/xxhash/v2"

	"github.com/aretw0/quipu/pkg/core"
)

const (
	// DefaultPattern selects the schema files of a directory.
	DefaultPattern = "*.json"

	// TempFilePrefix names the files replaceFile writes before renaming them.
	// The watcher ignores them.
	TempFilePrefix = "quipu-tmp-"
)

// Registrar registers collections. *core.Engine satisfies it.
type Registrar interface {
	CreateCollection(ctx context.Context, id string, rawSchema []byte) (core.Collection, error)
}

// Config holds the configuration of a schema directory.
type Config struct {
	Path         string
	Pattern      string // glob over file names, DefaultPattern when empty
	SystemDir    string // e.g. ".quipu", holds the import index
	Logger       *slog.Logger
	ErrorHandler func(error)
}

// SchemaFile is one schema document found on disk.
type SchemaFile struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	ModTime time.Time `json:"mod_time"`
}

// SyncResult summarizes an import pass.
type SyncResult struct {
	Registered []string          `json:"registered"`
	Existing   []string          `json:"existing"`
	Failed     map[string]string `json:"failed,omitempty"`
}

// SchemaDir reads and writes collection schemas under one directory.
type SchemaDir struct {
	Path   string
	cache  *cache
	config Config

	mu            sync.RWMutex
	watcherActive bool
	lastSync      *time.Time
}

// New creates a schema directory handle. Call Initialize before use.
func New(config Config) *SchemaDir {
	if config.Pattern == "" {
		config.Pattern = DefaultPattern
	}
	if config.SystemDir == "" {
		config.SystemDir = ".quipu"
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &SchemaDir{
		Path:   config.Path,
		cache:  newCache(config.Path, config.SystemDir),
		config: config,
	}
}

// Initialize creates the directory when needed and loads the import index.
func (d *SchemaDir) Initialize(ctx context.Context) error {
	if !doublestar.ValidatePattern(d.config.Pattern) {
		return fmt.Errorf("invalid schema pattern %q", d.config.Pattern)
	}
	if err := os.MkdirAll(d.Path, 0755); err != nil {
		return fmt.Errorf("failed to create schema directory: %w", err)
	}
	return d.cache.Load()
}

// Files lists the schema files of the directory, sorted by name.
func (d *SchemaDir) Files(ctx context.Context) ([]SchemaFile, error) {
	names, err := doublestar.Glob(os.DirFS(d.Path), d.config.Pattern)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	out := make([]SchemaFile, 0, len(names))
	for _, name := range names {
		info, err := os.Stat(filepath.Join(d.Path, name))
		if err != nil || info.IsDir() {
			continue
		}
		out = append(out, SchemaFile{ID: idFromName(name), Name: name, ModTime: info.ModTime()})
	}
	return out, nil
}

// Read returns the raw schema stored for a collection id.
func (d *SchemaDir) Read(id string) ([]byte, error) {
	name, err := fileName(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(d.Path, name))
	if os.IsNotExist(err) {
		return nil, core.NotFound("schema file", name)
	}
	return data, err
}

// Export writes the schema of c to "<id>.json" and returns the file path.
func (d *SchemaDir) Export(ctx context.Context, c core.Collection) (string, error) {
	name, err := fileName(c.ID)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, c.Schema, "", "  "); err != nil {
		return "", fmt.Errorf("failed to format schema of %s: %w", c.ID, err)
	}
	buf.WriteByte('\n')

	path := filepath.Join(d.Path, name)
	if err := replaceFile(path, buf.Bytes()); err != nil {
		return "", err
	}

	// Record the export so the watcher does not re-import it.
	if info, err := os.Stat(path); err == nil {
		d.cache.Set(name, &indexEntry{ID: c.ID, Checksum: checksum(buf.Bytes()), LastModified: info.ModTime()})
		if err := d.cache.Save(); err != nil {
			d.config.Logger.Warn("failed to save schema index", "error", err)
		}
	}
	d.config.Logger.Debug("schema exported", "collection", c.ID, "path", path)
	return path, nil
}

// Sync registers every schema file of the directory. Files whose collection
// already exists are reported as existing; files that fail validation are
// reported in Failed and do not stop the pass.
func (d *SchemaDir) Sync(ctx context.Context, reg Registrar) (SyncResult, error) {
	files, err := d.Files(ctx)
	if err != nil {
		return SyncResult{}, err
	}

	res := SyncResult{Registered: []string{}, Existing: []string{}}
	keep := make(map[string]bool, len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		keep[f.Name] = true

		status, err := d.importFile(ctx, reg, f.Name, true)
		switch {
		case err != nil:
			if res.Failed == nil {
				res.Failed = make(map[string]string)
			}
			res.Failed[f.Name] = err.Error()
		case status == importRegistered:
			res.Registered = append(res.Registered, f.ID)
		default:
			res.Existing = append(res.Existing, f.ID)
		}
	}

	d.cache.Prune(keep)
	if err := d.cache.Save(); err != nil {
		d.config.Logger.Warn("failed to save schema index", "error", err)
	}

	now := time.Now()
	d.mu.Lock()
	d.lastSync = &now
	d.mu.Unlock()

	d.config.Logger.Info("schema directory synced",
		"path", d.Path,
		"registered", len(res.Registered),
		"existing", len(res.Existing),
		"failed", len(res.Failed),
	)
	return res, nil
}

type importStatus int

const (
	importUnchanged importStatus = iota
	importRegistered
	importExisting
)

// importFile registers one schema file. Unless force is set, files unchanged
// since the last import are skipped.
func (d *SchemaDir) importFile(ctx context.Context, reg Registrar, name string, force bool) (importStatus, error) {
	path := filepath.Join(d.Path, name)
	info, err := os.Stat(path)
	if err != nil {
		return importUnchanged, err
	}
	if !force {
		if _, hit := d.cache.Get(name, info.ModTime()); hit {
			return importUnchanged, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return importUnchanged, err
	}
	id := idFromName(name)
	sum := checksum(data)

	status := importRegistered
	_, err = reg.CreateCollection(ctx, id, data)
	switch {
	case err == nil:
		d.config.Logger.Info("collection registered from schema file", "collection", id, "file", name)
	case errors.Is(err, core.ErrConflict):
		status = importExisting
		if prev, ok := d.cache.Lookup(name); ok && prev.Checksum != sum {
			d.config.Logger.Warn("schema file changed for a registered collection; keeping the registered schema",
				"collection", id, "file", name)
		}
	default:
		d.config.Logger.Warn("schema file rejected", "file", name, "error", err)
		return importUnchanged, err
	}

	d.cache.Set(name, &indexEntry{ID: id, Checksum: sum, LastModified: info.ModTime()})
	return status, nil
}

func (d *SchemaDir) matches(name string) bool {
	if strings.HasPrefix(name, TempFilePrefix) {
		return false
	}
	ok, err := doublestar.Match(d.config.Pattern, name)
	return err == nil && ok
}

func (d *SchemaDir) reportError(err error) {
	if d.config.ErrorHandler != nil {
		d.config.ErrorHandler(err)
		return
	}
	d.config.Logger.Error("schema directory error", "error", err)
}

func idFromName(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

func fileName(id string) (string, error) {
	if err := core.ValidateID("collection", id); err != nil {
		return "", err
	}
	if strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", core.Invalid("collection id %q cannot be used as a file name", id)
	}
	return id + ".json", nil
}

// replaceFile swaps the file at path for one holding data. Readers and the
// watcher observe either the previous content or the new one.
func replaceFile(path string, data []byte) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), TempFilePrefix+"*")
	if err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	name := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(name)
		}
	}()

	_, err = tmp.Write(data)
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Chmod(name, 0644)
	}
	if err == nil {
		err = os.Rename(name, path)
	}
	if err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

func checksum(data []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(data))
}
