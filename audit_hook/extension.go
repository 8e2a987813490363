// Package audithook bridges market ledger events to an audit trail backend.
//
// It defines a local Recorder interface so the package does not depend on
// any particular audit store. Callers inject a RecorderFunc adapter at
// wiring time.
package audithook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/xraph/market"
	"github.com/xraph/market/event"
	"github.com/xraph/market/plugin"
	"github.com/xraph/market/product"
	"github.com/xraph/market/settlement"
	"github.com/xraph/market/types"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                 = (*Extension)(nil)
	_ plugin.OnProductAdded         = (*Extension)(nil)
	_ plugin.OnProductBought        = (*Extension)(nil)
	_ plugin.OnFeesWithdrawn        = (*Extension)(nil)
	_ plugin.OnOwnershipTransferred = (*Extension)(nil)
	_ plugin.OnOperationRejected    = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Actor      string         `json:"actor,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges market ledger events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Marketplace hooks
// ──────────────────────────────────────────────────

// OnProductAdded implements plugin.OnProductAdded.
func (e *Extension) OnProductAdded(ctx context.Context, p *product.Product, _ *event.Event) error {
	return e.record(ctx, ActionProductAdded, SeverityInfo, OutcomeSuccess,
		ResourceProduct, productRef(p.ID), CategoryCatalog, string(p.Seller), nil,
		"name", p.Name,
		"unit_price", p.UnitPrice.Amount,
		"currency", p.UnitPrice.Currency,
		"quantity", p.Quantity,
	)
}

// OnProductBought implements plugin.OnProductBought. Purchases that
// returned change are also recorded as a refund.
func (e *Extension) OnProductBought(ctx context.Context, p *product.Product, ev *event.Event, transfers []settlement.Transfer) error {
	if err := e.record(ctx, ActionProductBought, SeverityInfo, OutcomeSuccess,
		ResourceProduct, productRef(ev.ProductID), CategoryTrade, string(ev.Buyer), nil,
		"event_id", ev.ID.String(),
		"seller", string(ev.Seller),
		"quantity", ev.Quantity,
		"total_price", ev.TotalPrice.Amount,
		"platform_fee", ev.PlatformFee.Amount,
		"remaining", p.Quantity,
		"active", p.Active,
	); err != nil {
		return err
	}

	for _, t := range transfers {
		if t.To != ev.Buyer {
			continue
		}
		return e.record(ctx, ActionPurchaseRefund, SeverityInfo, OutcomeSuccess,
			ResourceProduct, productRef(ev.ProductID), CategoryPayment, string(ev.Buyer), nil,
			"transfer_id", t.ID.String(),
			"amount", t.Amount.Amount,
			"currency", t.Amount.Currency,
		)
	}
	return nil
}

// OnFeesWithdrawn implements plugin.OnFeesWithdrawn.
func (e *Extension) OnFeesWithdrawn(ctx context.Context, ev *event.Event, _ []settlement.Transfer) error {
	return e.record(ctx, ActionFeesWithdrawn, SeverityInfo, OutcomeSuccess,
		ResourceFees, ev.ID.String(), CategoryPayment, string(ev.Owner), nil,
		"amount", ev.Amount.Amount,
		"currency", ev.Amount.Currency,
	)
}

// OnOwnershipTransferred implements plugin.OnOwnershipTransferred.
// Renouncing is audited at warning severity since it is irreversible.
func (e *Extension) OnOwnershipTransferred(ctx context.Context, ev *event.Event) error {
	if ev.Owner == types.NoAddress {
		return e.record(ctx, ActionOwnershipRenounced, SeverityWarning, OutcomeSuccess,
			ResourceOwnership, ev.ID.String(), CategoryAccess, string(ev.PreviousOwner), nil,
			"previous_owner", string(ev.PreviousOwner),
		)
	}
	return e.record(ctx, ActionOwnershipTransferred, SeverityWarning, OutcomeSuccess,
		ResourceOwnership, ev.ID.String(), CategoryAccess, string(ev.PreviousOwner), nil,
		"previous_owner", string(ev.PreviousOwner),
		"new_owner", string(ev.Owner),
	)
}

// OnOperationRejected implements plugin.OnOperationRejected.
func (e *Extension) OnOperationRejected(ctx context.Context, op plugin.Operation, caller types.Address, err error) error {
	action, severity := ActionOperationRejected, SeverityWarning
	if errors.Is(err, market.ErrSettlementFailed) {
		action, severity = ActionSettlementFailed, SeverityCritical
	}
	return e.record(ctx, action, severity, OutcomeFailure,
		string(op), "", categoryFor(op), string(caller), err,
		"operation", string(op),
		"reason", market.Reason(err),
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

func productRef(productID int64) string {
	return strconv.FormatInt(productID, 10)
}

func categoryFor(op plugin.Operation) string {
	switch op {
	case plugin.OpAddProduct:
		return CategoryCatalog
	case plugin.OpBuyProduct:
		return CategoryTrade
	case plugin.OpWithdrawFees:
		return CategoryPayment
	default:
		return CategoryAccess
	}
}

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category, actor string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Actor:      actor,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
