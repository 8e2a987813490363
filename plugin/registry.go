package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/xraph/market/event"
	"github.com/xraph/market/product"
	"github.com/xraph/market/settlement"
	"github.com/xraph/market/types"
)

// DefaultTimeout bounds a single plugin call.
const DefaultTimeout = 5 * time.Second

// Registry manages all registered plugins and provides efficient dispatch.
// It uses type-cached discovery so dispatch never reflects.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	// Type-cached plugin lists for efficient dispatch
	onInit                 []OnInit
	onShutdown             []OnShutdown
	onProductAdded         []OnProductAdded
	onProductBought        []OnProductBought
	onFeesWithdrawn        []OnFeesWithdrawn
	onOwnershipTransferred []OnOwnershipTransferred
	onEvent                []OnEvent
	onOperationRejected    []OnOperationRejected
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: DefaultTimeout,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout sets the per-call plugin timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnProductAdded); ok {
		r.onProductAdded = append(r.onProductAdded, v)
	}
	if v, ok := p.(OnProductBought); ok {
		r.onProductBought = append(r.onProductBought, v)
	}
	if v, ok := p.(OnFeesWithdrawn); ok {
		r.onFeesWithdrawn = append(r.onFeesWithdrawn, v)
	}
	if v, ok := p.(OnOwnershipTransferred); ok {
		r.onOwnershipTransferred = append(r.onOwnershipTransferred, v)
	}
	if v, ok := p.(OnEvent); ok {
		r.onEvent = append(r.onEvent, v)
	}
	if v, ok := p.(OnOperationRejected); ok {
		r.onOperationRejected = append(r.onOperationRejected, v)
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", implementedInterfaces(p),
	)

	return nil
}

var hookTypes = []struct {
	iface reflect.Type
	name  string
}{
	{reflect.TypeOf((*OnInit)(nil)).Elem(), "OnInit"},
	{reflect.TypeOf((*OnShutdown)(nil)).Elem(), "OnShutdown"},
	{reflect.TypeOf((*OnProductAdded)(nil)).Elem(), "OnProductAdded"},
	{reflect.TypeOf((*OnProductBought)(nil)).Elem(), "OnProductBought"},
	{reflect.TypeOf((*OnFeesWithdrawn)(nil)).Elem(), "OnFeesWithdrawn"},
	{reflect.TypeOf((*OnOwnershipTransferred)(nil)).Elem(), "OnOwnershipTransferred"},
	{reflect.TypeOf((*OnEvent)(nil)).Elem(), "OnEvent"},
	{reflect.TypeOf((*OnOperationRejected)(nil)).Elem(), "OnOperationRejected"},
}

// implementedInterfaces returns the hook interfaces p implements.
func implementedInterfaces(p Plugin) []string {
	var out []string
	v := reflect.TypeOf(p)
	for _, h := range hookTypes {
		if v.Implements(h.iface) {
			out = append(out, h.name)
		}
	}
	return out
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, ledger any) {
	r.mu.RLock()
	plugins := r.onInit
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnInit", func() error {
			return p.OnInit(ctx, ledger)
		})
	}
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	r.mu.RLock()
	plugins := r.onShutdown
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnShutdown", func() error {
			return p.OnShutdown(ctx)
		})
	}
}

// EmitProductAdded emits a product added event.
func (r *Registry) EmitProductAdded(ctx context.Context, p *product.Product, e *event.Event) {
	r.mu.RLock()
	plugins := r.onProductAdded
	r.mu.RUnlock()

	for _, pl := range plugins {
		r.dispatch(ctx, pl.Name(), "OnProductAdded", func() error {
			return pl.OnProductAdded(ctx, p.Clone(), e.Clone())
		})
	}
	r.emitEvent(ctx, e)
}

// EmitProductBought emits a product bought event.
func (r *Registry) EmitProductBought(ctx context.Context, p *product.Product, e *event.Event, transfers []settlement.Transfer) {
	r.mu.RLock()
	plugins := r.onProductBought
	r.mu.RUnlock()

	for _, pl := range plugins {
		r.dispatch(ctx, pl.Name(), "OnProductBought", func() error {
			return pl.OnProductBought(ctx, p.Clone(), e.Clone(), cloneTransfers(transfers))
		})
	}
	r.emitEvent(ctx, e)
}

// EmitFeesWithdrawn emits a fees withdrawn event.
func (r *Registry) EmitFeesWithdrawn(ctx context.Context, e *event.Event, transfers []settlement.Transfer) {
	r.mu.RLock()
	plugins := r.onFeesWithdrawn
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnFeesWithdrawn", func() error {
			return p.OnFeesWithdrawn(ctx, e.Clone(), cloneTransfers(transfers))
		})
	}
	r.emitEvent(ctx, e)
}

// EmitOwnershipTransferred emits an ownership transferred event.
func (r *Registry) EmitOwnershipTransferred(ctx context.Context, e *event.Event) {
	r.mu.RLock()
	plugins := r.onOwnershipTransferred
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnOwnershipTransferred", func() error {
			return p.OnOwnershipTransferred(ctx, e.Clone())
		})
	}
	r.emitEvent(ctx, e)
}

// EmitOperationRejected reports a failed mutating operation.
func (r *Registry) EmitOperationRejected(ctx context.Context, op Operation, caller types.Address, opErr error) {
	r.mu.RLock()
	plugins := r.onOperationRejected
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnOperationRejected", func() error {
			return p.OnOperationRejected(ctx, op, caller, opErr)
		})
	}
}

func (r *Registry) emitEvent(ctx context.Context, e *event.Event) {
	r.mu.RLock()
	plugins := r.onEvent
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnEvent", func() error {
			return p.OnEvent(ctx, e.Clone())
		})
	}
}

func (r *Registry) dispatch(ctx context.Context, name, hook string, fn func() error) {
	if err := r.callWithTimeout(ctx, name, fn); err != nil {
		r.logger.Warn("plugin "+hook+" failed",
			"plugin", name,
			"error", err,
		)
	}
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block the ledger.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func cloneTransfers(ts []settlement.Transfer) []settlement.Transfer {
	out := make([]settlement.Transfer, len(ts))
	copy(out, ts)
	return out
}
