// Package notifier delivers rendered notifications to recipients.
//
// Delivery is synchronous: Send returns only after the transport accepted or
// rejected the message, so callers can record an audit row for successful
// sends only. A process-wide token bucket keeps the outgoing rate under the
// chat network's flood limits, and each call is bounded by a send timeout.
// Failed sends are not retried.
//
// # History
//
// The service keeps a small in-memory ring of recent deliveries for the
// health endpoint and the bot's /status reply.
package notifier
