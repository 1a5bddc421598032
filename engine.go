package memocas

import (
	"context"
	"fmt"
	"time"

	"github.com/unkn0wn-root/memocas/backend"
	"github.com/unkn0wn-root/memocas/backend/memdb"
	"github.com/unkn0wn-root/memocas/code"
	"github.com/unkn0wn-root/memocas/extension"
	"github.com/unkn0wn-root/memocas/fingerprint"
	"github.com/unkn0wn-root/memocas/identity"
	"github.com/unkn0wn-root/memocas/online"
	"github.com/unkn0wn-root/memocas/provider"
	"github.com/unkn0wn-root/memocas/registry"
	"github.com/unkn0wn-root/memocas/store"
)

// Options configure an Engine. The zero value is a working in-memory engine
// that fingerprints functions by code only.
type Options struct {
	Backend backend.Backend // nil => in-memory memdb; the engine owns it
	// ExternalDir receives values estimated above InlineThreshold. Empty
	// keeps every value inline.
	ExternalDir     string
	InlineThreshold int64             // 0 => store.DefaultInlineThreshold
	BlobCache       provider.Provider // optional read-cache for external files
	BlobTTL         time.Duration

	Plugins   []extension.Plugin
	Extractor code.Extractor // nil => code.NopExtractor
	// LocalPrefix selects the modules whose functions are fingerprinted
	// deeply. Empty means all of them.
	LocalPrefix string
	DisableDeep bool

	Policy Policy // nil => CachedOnly
	Logger Logger // if nil, NopLogger is used
	Hooks  Hooks  // if nil, NopHooks is used
}

// Engine ties the fingerprint engine, the identity registries, the online
// layer and the persisted store together.
type Engine struct {
	ext      *extension.Registry
	store    *store.Store
	results  *online.Layer
	external *registry.External
	mediator *registry.Mediator
	fp       *fingerprint.Factory
	ids      *registry.Identities
	policy   Policy
	log      Logger
	hooks    Hooks
}

func New(ctx context.Context, opts Options) (*Engine, error) {
	e := &Engine{}
	e.log = coalesce[Logger](opts.Logger, NopLogger{})
	e.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	e.policy = coalesce[Policy](opts.Policy, CachedOnly{})

	ext, err := extension.NewRegistry(extension.Options{Logger: e.log, Hooks: e.hooks, Plugins: opts.Plugins})
	if err != nil {
		return nil, fmt.Errorf("memocas: %w", err)
	}
	e.ext = ext

	be := opts.Backend
	if be == nil {
		mem, err := memdb.New()
		if err != nil {
			return nil, fmt.Errorf("memocas: in-memory backend: %w", err)
		}
		be = mem
	}
	st, err := store.Open(ctx, store.Options{
		Backend:         be,
		Serializer:      ext,
		ExternalDir:     opts.ExternalDir,
		InlineThreshold: opts.InlineThreshold,
		BlobCache:       opts.BlobCache,
		BlobTTL:         opts.BlobTTL,
		Logger:          e.log,
		Hooks:           e.hooks,
	})
	if err != nil {
		_ = be.Close()
		return nil, fmt.Errorf("memocas: %w", err)
	}
	e.store = st

	e.results = online.New(online.Options{Store: st, Logger: e.log, Hooks: e.hooks})
	e.external = registry.NewExternal()
	e.mediator = registry.NewMediator(e.external, e.results, e.log, e.hooks)

	fp, err := fingerprint.New(fingerprint.Options{
		Digester:    ext,
		Extractor:   opts.Extractor,
		Tracker:     e.mediator,
		LocalPrefix: opts.LocalPrefix,
		DisableDeep: opts.DisableDeep,
		Logger:      e.log,
	})
	if err != nil {
		_ = st.Close(ctx)
		return nil, fmt.Errorf("memocas: %w", err)
	}
	e.fp = fp
	e.ids = registry.NewIdentities(fp)

	e.log.Info("memocas engine ready", Fields{"store": st.ID(), "external_dir": opts.ExternalDir})
	return e, nil
}

// Close closes the store and its backend, then the hooks when they have a
// Close method. Live results stay usable but are no longer persisted.
func (e *Engine) Close(ctx context.Context) error {
	err := e.store.Close(ctx)
	if c, ok := e.hooks.(interface{ Close() }); ok {
		c.Close()
	}
	return err
}

// Extensions is the serialization plugin registry, e.g. to register a plugin
// or a type the default plugin should restore.
func (e *Engine) Extensions() *extension.Registry { return e.ext }

func (e *Engine) Store() *store.Store { return e.store }

// Identify returns the identity of v: its name or producing computation when
// tracked, else its content fingerprint.
func (e *Engine) Identify(v any) (identity.ID, error) {
	return e.ids.IdentifyValue(v)
}

func (e *Engine) Fingerprint(v any) (identity.Fingerprint, error) {
	return e.fp.FingerprintValue(v)
}

// IdentifyCall identifies the result of fn(args, kwargs) and remembers fn so
// that staleness can be checked later in this process.
func (e *Engine) IdentifyCall(fn *code.Func, args []any, kwargs map[string]any) (identity.CallID, error) {
	return e.ids.IdentifyCall(e.ids.IdentifyFunction(fn), args, kwargs)
}

func (e *Engine) FingerprintCall(fn *code.Func, args []any, kwargs map[string]any) (identity.CallFingerprint, error) {
	return e.fp.FingerprintCall(fn, args, kwargs)
}

// IdentifyCellResult identifies one output of cell.
func (e *Engine) IdentifyCellResult(cell *code.Cell, output string) identity.CellResultID {
	return e.ids.IdentifyCellResult(e.ids.IdentifyCell(cell), output)
}

// RegisterExternal names v. Calls taking v as an argument are then keyed by
// the name instead of v's content. A nil v removes the name.
func (e *Engine) RegisterExternal(ctx context.Context, name string, v any) error {
	var fp identity.Fingerprint
	if v != nil {
		var err error
		if fp, err = e.fp.FingerprintValue(v); err != nil {
			return err
		}
	}
	return e.mediator.Register(ctx, identity.NamedID{Name: name}, v, fp)
}

func (e *Engine) External(name string) (any, bool) {
	return e.external.Resolve(name)
}

// RegisterCallResult records v as the result of the computed identity id,
// computed under fp. The items of an extension.Tuple also get identities of
// their own, so each output can be passed on and tracked separately.
func (e *Engine) RegisterCallResult(ctx context.Context, id identity.ID, v any, fp identity.Fingerprint) error {
	if !identity.IsComputed(id) {
		return fmt.Errorf("memocas: %s is not a computed identity", id.Key())
	}
	items, _ := v.(extension.Tuple)
	for i, it := range items {
		if err := e.mediator.CheckAlias(identity.ItemID{Parent: id, Index: i}, it); err != nil {
			return err
		}
	}
	if err := e.mediator.Register(ctx, id, v, fp); err != nil {
		return err
	}
	for i, it := range items {
		e.results.Link(identity.ItemID{Parent: id, Index: i}, it, identity.ItemFingerprint{Parent: fp, Index: i})
	}
	return nil
}

// Resolve returns the value of id from the external names, the online layer
// or the store.
func (e *Engine) Resolve(ctx context.Context, id identity.ID) (any, bool, error) {
	v, ok, err := e.mediator.ResolveValue(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		if item, isItem := id.(identity.ItemID); isItem {
			return e.resolveItem(ctx, item)
		}
		return nil, false, nil
	}
	if items, isTuple := v.(extension.Tuple); isTuple {
		e.linkItems(ctx, id, items)
	}
	return v, true, nil
}

func (e *Engine) resolveItem(ctx context.Context, id identity.ItemID) (any, bool, error) {
	v, ok, err := e.Resolve(ctx, id.Parent)
	if err != nil || !ok {
		return nil, false, err
	}
	items, isTuple := v.(extension.Tuple)
	if !isTuple || id.Index < 0 || id.Index >= len(items) {
		return nil, false, nil
	}
	return items[id.Index], true, nil
}

// linkItems links the items of a reloaded tuple that are not linked already.
// Items still alive from an earlier computation keep their link.
func (e *Engine) linkItems(ctx context.Context, parent identity.ID, items extension.Tuple) {
	fp, ok, err := e.mediator.ResolveFingerprint(ctx, parent)
	if err != nil || !ok {
		return
	}
	for i, it := range items {
		iid := identity.ItemID{Parent: parent, Index: i}
		if !e.results.HasID(iid) {
			e.results.Link(iid, it, identity.ItemFingerprint{Parent: fp, Index: i})
		}
	}
}

// resolveFingerprint is the recorded fingerprint of id. An item of a stored
// tuple derives it from its parent.
func (e *Engine) resolveFingerprint(ctx context.Context, id identity.ID) (identity.Fingerprint, bool, error) {
	fp, ok, err := e.mediator.ResolveFingerprint(ctx, id)
	if err != nil || ok {
		return fp, ok, err
	}
	item, isItem := id.(identity.ItemID)
	if !isItem {
		return nil, false, nil
	}
	pfp, ok, err := e.resolveFingerprint(ctx, item.Parent)
	if err != nil || !ok {
		return nil, false, err
	}
	return identity.ItemFingerprint{Parent: pfp, Index: item.Index}, true, nil
}

// Forget drops id online and from the store. A value of id still held by
// the caller is reported stale from now on.
func (e *Engine) Forget(ctx context.Context, id identity.ID) (bool, error) {
	if n, ok := id.(identity.NamedID); ok {
		_, had := e.external.Resolve(n.Name)
		e.external.Set(n.Name, nil, nil)
		return had, nil
	}
	live, err := e.results.IDs(ctx, false)
	if err != nil {
		return false, err
	}
	for _, lid := range live {
		if item, ok := lid.(identity.ItemID); ok && item.Parent.Key() == id.Key() {
			if _, err := e.results.Remove(ctx, item); err != nil {
				return false, err
			}
		}
	}
	removed, err := e.results.Remove(ctx, id)
	if err != nil {
		return false, fmt.Errorf("memocas: forget %s: %w", id.Hint(), err)
	}
	e.log.Debug("forgot result", Fields{"id": id.Key(), "removed": removed})
	return removed, nil
}

// ForgetValue forgets the identity v is linked to.
func (e *Engine) ForgetValue(ctx context.Context, v any) (bool, error) {
	e.fp.Forget(v)
	id, ok := e.mediator.TrackedIdentity(v)
	if !ok {
		return false, nil
	}
	return e.Forget(ctx, id)
}

// Tag names the stored result v. A nil v removes the tag.
func (e *Engine) Tag(ctx context.Context, name string, v any) error {
	if v == nil {
		return e.Untag(ctx, name)
	}
	id, ok := e.mediator.TrackedIdentity(v)
	if !ok {
		return fmt.Errorf("memocas: tag %q: value is not a tracked result: %w", name, ErrNotCached)
	}
	return e.TagID(ctx, name, id)
}

// TagID names the stored result of id.
func (e *Engine) TagID(ctx context.Context, name string, id identity.ID) error {
	return e.store.Tag(ctx, name, id)
}

func (e *Engine) Untag(ctx context.Context, name string) error {
	return e.store.Untag(ctx, name)
}

// Tagged returns the value tagged name.
func (e *Engine) Tagged(ctx context.Context, name string) (any, bool, error) {
	id, ok, err := e.store.TagIdentity(ctx, name)
	if err != nil || !ok {
		return nil, false, err
	}
	return e.Resolve(ctx, id)
}

// FlushOnline drops the results held strongly in memory. They are reloaded
// from the store on the next access.
func (e *Engine) FlushOnline() int {
	return e.results.Flush()
}

// Identities lists external names and cached results; with persisted, also
// the results held only by the store.
func (e *Engine) Identities(ctx context.Context, persisted bool) ([]identity.ID, error) {
	return e.mediator.IDs(ctx, persisted)
}

// Metadata describes how the result of id was persisted. Tuple items report
// their parent's metadata.
func (e *Engine) Metadata(ctx context.Context, id identity.ID) (store.Metadata, bool, error) {
	md, ok, err := e.store.Metadata(ctx, id)
	if err != nil || ok {
		return md, ok, err
	}
	if item, isItem := id.(identity.ItemID); isItem {
		return e.Metadata(ctx, item.Parent)
	}
	return store.Metadata{}, false, nil
}
