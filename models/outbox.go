package models

import (
	"context"
	"encoding/json"
	"time"

	"bitbucket.org/mmdatafocus/meatsales_backend/config"
	"bitbucket.org/mmdatafocus/meatsales_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// OrderEventRecord is the transactional outbox row for order lifecycle
// events. It is inserted in the same transaction as the order mutation
// and published to Pub/Sub after commit by the dispatcher.
type OrderEventRecord struct {
	ID            int            `gorm:"primary_key;index:idx_order_event_dispatch,priority:3" json:"id"`
	OrderId       int            `gorm:"index;not null" json:"order_id"`
	EventType     OrderEventType `gorm:"type:enum('ORDER_CREATED','ORDER_WEIGHED','ORDER_PAID','ORDER_CANCELLED')" json:"event_type"`
	EventDateTime time.Time      `gorm:"index;not null" json:"event_date_time"`
	OldStatus     string         `gorm:"size:20" json:"old_status"`
	NewStatus     string         `gorm:"size:20" json:"new_status"`
	Payload       []byte         `gorm:"type:blob" json:"payload"`

	PublishStatus    string     `gorm:"size:20;index;not null;default:'PENDING';index:idx_order_event_dispatch,priority:1" json:"publish_status"`
	PublishedAt      *time.Time `gorm:"index" json:"published_at"`
	PubSubMessageId  *string    `gorm:"size:255" json:"pubsub_message_id"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time `gorm:"index;index:idx_order_event_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time `gorm:"index" json:"locked_at"`
	LockedBy         *string    `gorm:"size:100" json:"locked_by"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`

	CorrelationId string    `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func ConvertToOrderEventMessage(record OrderEventRecord) config.OrderEventMessage {
	return config.OrderEventMessage{
		ID:            record.ID,
		OrderId:       record.OrderId,
		EventType:     string(record.EventType),
		EventDateTime: record.EventDateTime,
		OldStatus:     record.OldStatus,
		NewStatus:     record.NewStatus,
		Payload:       record.Payload,
		CorrelationId: record.CorrelationId,
	}
}

// RecordOrderEvent writes the outbox row inside tx. The dispatcher
// publishes it after commit; a rolled back transaction takes the event
// with it.
func RecordOrderEvent(ctx context.Context, tx *gorm.DB, eventType OrderEventType, order *Order, oldStatus OrderStatus) (*OrderEventRecord, error) {
	payload, err := json.Marshal(order)
	if err != nil {
		return nil, err
	}
	correlationId, ok := utils.GetCorrelationIdFromContext(ctx)
	if !ok {
		correlationId = uuid.NewString()
	}
	record := OrderEventRecord{
		OrderId:       order.ID,
		EventType:     eventType,
		EventDateTime: time.Now().UTC(),
		OldStatus:     string(oldStatus),
		NewStatus:     string(order.Status),
		Payload:       payload,
		PublishStatus: OrderEventStatusPending,
		CorrelationId: correlationId,
	}
	if err := tx.Create(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

func ListOrderEvents(ctx context.Context, orderId int) ([]*OrderEventRecord, error) {
	db := config.GetDB()
	var records []*OrderEventRecord
	err := db.WithContext(ctx).
		Where("order_id = ?", orderId).
		Order("id").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}
