package amqp

import (
	"errors"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"saldo/internal/events"
)

// BatchImportedType is set as the AMQP message type of batch-imported events.
const BatchImportedType = "saldo.batch_imported"

var errUnknownMessageType = errors.New("unknown message type")

// newBatchImportedPublishing wraps the event in a persistent JSON message.
func newBatchImportedPublishing(ev events.BatchImported) (amqp091.Publishing, error) {
	body, err := ev.ToJSON()
	if err != nil {
		return amqp091.Publishing{}, fmt.Errorf("marshal message: %w", err)
	}
	return amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent, // make message persistent
		Type:         BatchImportedType,
		MessageId:    ev.BatchID,
		Timestamp:    time.Now(),
		Body:         body,
	}, nil
}

// decodeBatchImported accepts untyped messages for compatibility with
// producers that do not set the type.
func decodeBatchImported(d amqp091.Delivery) (events.BatchImported, error) {
	if d.Type != "" && d.Type != BatchImportedType {
		return events.BatchImported{}, fmt.Errorf("%w: %q", errUnknownMessageType, d.Type)
	}
	ev, err := events.BatchImportedFromJSON(d.Body)
	if err != nil {
		return events.BatchImported{}, err
	}
	if ev.UserID == "" {
		return events.BatchImported{}, errors.New("batch imported message without user id")
	}
	return ev, nil
}
