package enums

import "fmt"

// OutboxAggregateType identifies the aggregate an outbox event belongs to.
type OutboxAggregateType string

const (
	AggregateOrder        OutboxAggregateType = "order"
	AggregateUser         OutboxAggregateType = "user"
	AggregateExternalCode OutboxAggregateType = "external_code"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
	AggregateUser,
	AggregateExternalCode,
}

// IsValid reports whether the value matches a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType names the domain events relayed to Pub/Sub.
type OutboxEventType string

const (
	EventOrderPlaced                OutboxEventType = "order_placed"
	EventOrderStatusChanged         OutboxEventType = "order_status_changed"
	EventOrderRefunded              OutboxEventType = "order_refunded"
	EventOrderReconciliationFlagged OutboxEventType = "order_reconciliation_flagged"
	EventExternalOrderIssued        OutboxEventType = "external_order_issued"
	EventExternalCodeRedeemed       OutboxEventType = "external_code_redeemed"
	EventBalanceChanged             OutboxEventType = "balance_changed"
)

var validOutboxEventTypes = []OutboxEventType{
	EventOrderPlaced,
	EventOrderStatusChanged,
	EventOrderRefunded,
	EventOrderReconciliationFlagged,
	EventExternalOrderIssued,
	EventExternalCodeRedeemed,
	EventBalanceChanged,
}

// IsValid reports whether the value matches a known event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
