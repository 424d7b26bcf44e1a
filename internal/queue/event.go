// Package queue defines the delivery messages exchanged over RabbitMQ and
// the consumer that processes them.
package queue

import "time"

// DefaultQueue carries report-ready events.
const DefaultQueue = "report.ready"

// ReportReadyEvent is published once a report's certificate is stored and
// the email can be sent.
type ReportReadyEvent struct {
	OrderID string    `json:"order_id"`
	ReadyAt time.Time `json:"ready_at"`
}
