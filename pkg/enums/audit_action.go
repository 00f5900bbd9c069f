package enums

// AuditAction names the state-changing operation recorded in the audit trail.
type AuditAction string

const (
	AuditActionOrderPlaced          AuditAction = "order.placed"
	AuditActionExternalOrderIssued  AuditAction = "order.external_issued"
	AuditActionOrderStatusChanged   AuditAction = "order.status_changed"
	AuditActionOrderRefunded        AuditAction = "order.refunded"
	AuditActionOrderReconciliation  AuditAction = "order.reconciliation_flagged"
	AuditActionBalanceTopUp         AuditAction = "balance.topup"
	AuditActionBalanceWithdraw      AuditAction = "balance.withdraw"
	AuditActionExternalCodeRedeemed AuditAction = "external_code.redeemed"
	AuditActionInventoryProvisioned AuditAction = "inventory.provisioned"
)

// AuditTarget names the kind of document an audit entry refers to.
type AuditTarget string

const (
	AuditTargetOrder        AuditTarget = "order"
	AuditTargetUser         AuditTarget = "user"
	AuditTargetExternalCode AuditTarget = "external_code"
	AuditTargetInventory    AuditTarget = "inventory"
)
