package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/njoerd114/raindroprelay/internal/model"
	"github.com/njoerd114/raindroprelay/internal/raindrop"
)

const (
	otelScope          = "raindroprelay/sync"
	spanPass           = "sync.pass"
	metricCreatedLocal = "raindroprelay.sync.bookmarks.created"
	metricPushed       = "raindroprelay.sync.raindrops.created"
	metricUpdated      = "raindroprelay.sync.bookmarks.updated"
	metricDeleted      = "raindroprelay.sync.raindrops.deleted"
	metricPruned       = "raindroprelay.sync.mappings.pruned"
	metricErrors       = "raindroprelay.sync.errors"

	// watchDebounce delays a watcher-triggered pass so one browser save
	// (which arrives as several filesystem events) causes one sync.
	watchDebounce = 2 * time.Second
)

// ErrSyncInProgress reports that a pass was requested while another one is
// still running.
var ErrSyncInProgress = errors.New("sync: a pass is already running")

// Settings selects what and how the engine syncs.
type Settings struct {
	Mode            model.SyncMode
	Policy          InclusionPolicy
	CollectionsSort model.CollectionSort
	BookmarksSort   model.BookmarkSort

	// TargetFolderID is the folder the synced tree lives under. Defaults
	// to "1" (the bookmark bar).
	TargetFolderID string
	// UseSubfolder nests everything in a folder named SubfolderName
	// (default "Raindrop.io") instead of directly under the target.
	UseSubfolder  bool
	SubfolderName string
}

func (s *Settings) applyDefaults() {
	if s.TargetFolderID == "" {
		s.TargetFolderID = "1"
	}
	if s.SubfolderName == "" {
		s.SubfolderName = "Raindrop.io"
	}
	if s.Policy.Include == "" {
		s.Policy.Include = "top_level"
	}
}

// Engine orchestrates sync passes: token validation, mapping pruning,
// collection resolution, per-collection provision + reconcile, collection
// folder ordering, and last-sync bookkeeping. Create one with [NewEngine];
// run a single pass with [Engine.SyncOnce] or the daemon loop with
// [Engine.Run].
type Engine struct {
	remote      RemoteSource
	nodes       NodeStore
	store       MappingStore
	resolver    *Resolver
	provisioner *Provisioner
	reconciler  *Reconciler
	settings    Settings

	pollInterval time.Duration
	// watchPath is the bookmarks file watched for external edits in
	// daemon mode. Empty disables the watcher.
	watchPath string

	running atomic.Bool
	log     *slog.Logger

	// OTel instruments — always non-nil (no-op when telemetry is disabled).
	tracer          trace.Tracer
	cntCreatedLocal metric.Int64Counter
	cntPushed       metric.Int64Counter
	cntUpdated      metric.Int64Counter
	cntDeleted      metric.Int64Counter
	cntPruned       metric.Int64Counter
	cntErrors       metric.Int64Counter
}

// NewEngine creates an Engine. watchPath may be empty to disable the
// file watcher in daemon mode.
func NewEngine(remote RemoteSource, nodes NodeStore, store MappingStore, settings Settings, pollInterval time.Duration, watchPath string, logger *slog.Logger) *Engine {
	settings.applyDefaults()

	tracer := otel.Tracer(otelScope)
	meter := otel.Meter(otelScope)

	mustCounter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			logger.Error("creating OTel counter", "name", name, "error", err)
			return noop.Int64Counter{}
		}
		return c
	}

	return &Engine{
		remote:       remote,
		nodes:        nodes,
		store:        store,
		resolver:     NewResolver(remote, logger),
		provisioner:  NewProvisioner(nodes, store, logger),
		reconciler:   NewReconciler(remote, nodes, store, logger),
		settings:     settings,
		pollInterval: pollInterval,
		watchPath:    watchPath,
		log:          logger,

		tracer:          tracer,
		cntCreatedLocal: mustCounter(metricCreatedLocal, "Bookmarks created from raindrops"),
		cntPushed:       mustCounter(metricPushed, "Raindrops created from bookmarks"),
		cntUpdated:      mustCounter(metricUpdated, "Bookmark title updates"),
		cntDeleted:      mustCounter(metricDeleted, "Raindrops deleted"),
		cntPruned:       mustCounter(metricPruned, "Stale mappings pruned"),
		cntErrors:       mustCounter(metricErrors, "Errors during sync"),
	}
}

// SyncOnce runs one full pass. A second concurrent call returns
// ErrSyncInProgress without doing anything.
func (e *Engine) SyncOnce(ctx context.Context) (Stats, error) {
	if !e.running.CompareAndSwap(false, true) {
		return Stats{}, ErrSyncInProgress
	}
	defer e.running.Store(false)

	ctx, span := e.tracer.Start(ctx, spanPass)
	defer span.End()

	stats, err := e.pass(ctx)

	if stats.CreatedLocal > 0 {
		e.cntCreatedLocal.Add(ctx, int64(stats.CreatedLocal))
	}
	if stats.CreatedRemote > 0 {
		e.cntPushed.Add(ctx, int64(stats.CreatedRemote))
	}
	if stats.Updated > 0 {
		e.cntUpdated.Add(ctx, int64(stats.Updated))
	}
	if stats.Deleted > 0 {
		e.cntDeleted.Add(ctx, int64(stats.Deleted))
	}
	if stats.Pruned > 0 {
		e.cntPruned.Add(ctx, int64(stats.Pruned))
	}
	if stats.Errors > 0 {
		e.cntErrors.Add(ctx, int64(stats.Errors))
	}
	span.SetAttributes(
		attribute.String("sync.mode", string(e.settings.Mode)),
		attribute.Int("sync.created_local", stats.CreatedLocal),
		attribute.Int("sync.created_remote", stats.CreatedRemote),
		attribute.Int("sync.updated", stats.Updated),
		attribute.Int("sync.deleted", stats.Deleted),
		attribute.Int("sync.pruned", stats.Pruned),
		attribute.Int("sync.errors", stats.Errors),
	)
	if err != nil {
		span.RecordError(err)
	}
	return stats, err
}

func (e *Engine) pass(ctx context.Context) (Stats, error) {
	var stats Stats
	var firstErr error

	if err := e.remote.Ping(ctx); err != nil {
		return stats, fmt.Errorf("validating credentials: %w", err)
	}

	// Self-heal the mapping before reconciling. Folder mappings are pure
	// cache, so stale ones always go. Item mappings for deleted bookmarks
	// are evidence in mirror mode (they drive remote deletion), so they
	// are only pruned here in the other modes.
	folderExists := func(folderID string) (bool, error) {
		n, err := e.nodes.Get(folderID)
		if err != nil {
			return false, err
		}
		return n != nil && n.IsFolder(), nil
	}
	pruned, err := e.store.PruneFolders(ctx, folderExists)
	if err != nil {
		return stats, fmt.Errorf("pruning folder mappings: %w", err)
	}
	stats.Pruned += pruned

	if e.settings.Mode != model.ModeMirror {
		nodeExists := func(nodeID string) (bool, error) {
			n, err := e.nodes.Get(nodeID)
			if err != nil {
				return false, err
			}
			return n != nil, nil
		}
		pruned, err := e.store.PruneItems(ctx, nodeExists)
		if err != nil {
			return stats, fmt.Errorf("pruning item mappings: %w", err)
		}
		stats.Pruned += pruned
	}

	plan, err := e.resolver.Resolve(ctx, e.settings.Policy, e.settings.CollectionsSort)
	if err != nil {
		return stats, err
	}
	e.log.Debug("resolved sync plan", "collections", len(plan))

	rootID, err := e.resolveRoot()
	if err != nil {
		return stats, err
	}

	opts := Options{Mode: e.settings.Mode, BookmarkSort: e.settings.BookmarksSort}
	provisioned := make(map[int64]string, len(plan))
	for _, col := range plan {
		parentID := rootID
		if col.Parent != nil {
			if folderID, ok := provisioned[*col.Parent]; ok {
				parentID = folderID
			}
		}

		folderID, err := e.provisioner.Provision(ctx, col, parentID, e.settings.Mode)
		if err != nil {
			if errors.Is(err, ErrFolderNotProvisioned) {
				e.log.Debug("skipping unprovisioned collection",
					"collection", col.ID, "title", col.Title)
				continue
			}
			if errors.Is(err, raindrop.ErrAuthRequired) {
				return stats, err
			}
			e.log.Error("provisioning collection failed",
				"collection", col.ID, "error", err)
			stats.Errors++
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		provisioned[col.ID] = folderID

		colStats, err := e.reconciler.ReconcileCollection(ctx, col, folderID, opts)
		stats.add(colStats)
		if err != nil {
			if errors.Is(err, raindrop.ErrAuthRequired) {
				return stats, err
			}
			e.log.Error("reconciling collection failed",
				"collection", col.ID, "title", col.Title, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if e.settings.Mode == model.ModeMirror && e.settings.CollectionsSort != model.CollectionsNone {
		if err := e.orderCollectionFolders(plan, provisioned, rootID); err != nil {
			e.log.Error("ordering collection folders failed", "error", err)
			stats.Errors++
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if firstErr == nil {
		if err := e.store.SetLastSync(ctx, time.Now()); err != nil {
			firstErr = fmt.Errorf("recording last sync: %w", err)
		}
	}

	e.log.Info("sync pass complete",
		"mode", e.settings.Mode,
		"collections", len(provisioned),
		"created_local", stats.CreatedLocal,
		"created_remote", stats.CreatedRemote,
		"updated", stats.Updated,
		"deleted", stats.Deleted,
		"adopted", stats.Adopted,
		"pruned", stats.Pruned,
		"errors", stats.Errors,
	)
	return stats, firstErr
}

// resolveRoot returns the folder everything syncs under, creating the
// subfolder when configured and missing.
func (e *Engine) resolveRoot() (string, error) {
	target, err := e.nodes.Get(e.settings.TargetFolderID)
	if err != nil {
		return "", fmt.Errorf("checking target folder: %w", err)
	}
	if target == nil || !target.IsFolder() {
		return "", fmt.Errorf("target folder %q does not exist", e.settings.TargetFolderID)
	}
	if !e.settings.UseSubfolder {
		return target.ID, nil
	}

	children, err := e.nodes.GetChildren(target.ID)
	if err != nil {
		return "", fmt.Errorf("listing target folder: %w", err)
	}
	for _, child := range children {
		if child.IsFolder() && child.Title == e.settings.SubfolderName {
			return child.ID, nil
		}
	}
	node, err := e.nodes.Create(target.ID, e.settings.SubfolderName, "")
	if err != nil {
		return "", fmt.Errorf("creating sync subfolder: %w", err)
	}
	e.log.Info("created sync subfolder", "folder", node.ID, "title", node.Title)
	return node.ID, nil
}

// orderCollectionFolders lines the root-level collection folders up in plan
// order. Nested folders keep the order their parents were built with.
func (e *Engine) orderCollectionFolders(plan []*model.Collection, provisioned map[int64]string, rootID string) error {
	children, err := e.nodes.GetChildren(rootID)
	if err != nil {
		return fmt.Errorf("listing sync root: %w", err)
	}
	atRoot := make(map[string]bool, len(children))
	for _, child := range children {
		atRoot[child.ID] = true
	}

	var ordered []string
	for _, col := range plan {
		if folderID, ok := provisioned[col.ID]; ok && atRoot[folderID] {
			ordered = append(ordered, folderID)
		}
	}
	if len(ordered) < 2 {
		return nil
	}
	return NewOrderer(e.nodes, e.log).Apply(rootID, ordered, -1)
}

// Run starts the daemon loop: an immediate pass, then one per poll
// interval, plus debounced passes when the watched bookmarks file changes.
// It blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	trigger := make(chan struct{}, 1)

	if e.watchPath != "" {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			e.log.Error("starting file watcher failed, polling only", "error", err)
		} else {
			defer func() { _ = watcher.Close() }()
			// Browsers replace the file via rename, so watch its directory.
			if err := watcher.Add(filepath.Dir(e.watchPath)); err != nil {
				e.log.Error("watching bookmarks directory failed, polling only", "error", err)
			} else {
				go e.watch(ctx, watcher, trigger)
			}
		}
	}

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	e.runPass(ctx)

	for {
		select {
		case <-ctx.Done():
			e.log.Info("sync engine shutting down")
			return ctx.Err()
		case <-ticker.C:
			e.runPass(ctx)
		case <-trigger:
			e.log.Info("bookmarks file changed, syncing")
			e.runPass(ctx)
		}
	}
}

func (e *Engine) runPass(ctx context.Context) {
	if _, err := e.SyncOnce(ctx); err != nil {
		if errors.Is(err, ErrSyncInProgress) {
			return
		}
		if errors.Is(err, raindrop.ErrAuthRequired) {
			e.log.Error("authentication required, run `raindroprelay login`")
			return
		}
		e.log.Error("sync pass failed", "error", err)
	}
}

// watch forwards debounced change events for the bookmarks file to trigger.
func (e *Engine) watch(ctx context.Context, watcher *fsnotify.Watcher, trigger chan<- struct{}) {
	name := filepath.Base(e.watchPath)
	var debounce *time.Timer

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != name {
				continue
			}
			if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(watchDebounce, func() {
				select {
				case trigger <- struct{}{}:
				default:
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			e.log.Error("bookmarks watcher error", "error", err)
		}
	}
}
