package models

// Publish lifecycle of an OrderEventRecord. Rows are written inside the
// order transaction and published after commit by the dispatcher.
const (
	OrderEventStatusPending    = "PENDING"
	OrderEventStatusProcessing = "PROCESSING"
	OrderEventStatusSent       = "SENT"
	OrderEventStatusFailed     = "FAILED"
	OrderEventStatusDead       = "DEAD"
)

// OrderEventType names what happened to the order.
type OrderEventType string

const (
	OrderEventCreated   OrderEventType = "ORDER_CREATED"
	OrderEventWeighed   OrderEventType = "ORDER_WEIGHED"
	OrderEventPaid      OrderEventType = "ORDER_PAID"
	OrderEventCancelled OrderEventType = "ORDER_CANCELLED"
)

func (t OrderEventType) IsValid() bool {
	switch t {
	case OrderEventCreated, OrderEventWeighed, OrderEventPaid, OrderEventCancelled:
		return true
	}
	return false
}
