package domain

// RecordAction tells the persistence gateway how to apply a derived order.
type RecordAction string

const (
	// ActionUpsert inserts the order when new or reprices it in place.
	ActionUpsert    RecordAction = "upsert"
	ActionCancel    RecordAction = "cancel"
	ActionNoBalance RecordAction = "no-balance"
)

// TriggerKind classifies an order-state change for downstream consumers.
type TriggerKind string

const (
	TriggerNewOrder TriggerKind = "new-order"
	TriggerReprice  TriggerKind = "reprice"
	TriggerCancel   TriggerKind = "cancel"
)

// OrderRecord is one derived order together with the event that produced it.
// For cancel and no-balance records only Order.ID is meaningful.
type OrderRecord struct {
	Action RecordAction
	Order  Order
	Event  PoolEvent
}

// UpdateResult reports one applied record.
type UpdateResult struct {
	ID          string      `json:"id"`
	TxHash      string      `json:"txHash"`
	TxTimestamp int64       `json:"txTimestamp"`
	Status      string      `json:"status"`
	TriggerKind TriggerKind `json:"triggerKind"`
}

// OrderTrigger describes what caused an order update.
type OrderTrigger struct {
	Kind        TriggerKind `json:"kind"`
	TxHash      string      `json:"txHash,omitempty"`
	TxTimestamp int64       `json:"txTimestamp,omitempty"`
}

// OrderUpdateJob is the notification payload enqueued for every applied
// record. Context doubles as the idempotency key.
type OrderUpdateJob struct {
	Context string       `json:"context"`
	ID      string       `json:"id"`
	Trigger OrderTrigger `json:"trigger"`
}

// JobOrderUpdatesByID is the queue job name for order update notifications.
const JobOrderUpdatesByID = "order-updates-by-id"
