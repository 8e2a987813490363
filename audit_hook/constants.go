package audithook

// Action constants for audit events.
const (
	// Listing actions
	ActionProductAdded = "product.added"

	// Sale actions
	ActionProductBought  = "product.bought"
	ActionPurchaseRefund = "purchase.refunded"

	// Owner actions
	ActionFeesWithdrawn        = "fees.withdrawn"
	ActionOwnershipTransferred = "ownership.transferred"
	ActionOwnershipRenounced   = "ownership.renounced"

	// Failures
	ActionOperationRejected = "operation.rejected"
	ActionSettlementFailed  = "settlement.failed"
)

// Resource constants for audit events.
const (
	ResourceProduct   = "product"
	ResourceFees      = "fees"
	ResourceOwnership = "ownership"
)

// Category constants for audit events.
const (
	CategoryCatalog = "catalog"
	CategoryTrade   = "trade"
	CategoryPayment = "payment"
	CategoryAccess  = "access"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)
