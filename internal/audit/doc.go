// Package audit dispatches gate events asynchronously to a [Sink].
//
// Sinks: no-op, buffered channel, JSON lines writer and Kafka (franz-go).
// The [Dispatcher] is a buffered relay that either drops when full,
// counting drops, or blocks until the caller's context ends.
//
// The package does not decide which events are emitted.
package audit
