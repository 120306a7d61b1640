// Package eventlog carries the runtime's telemetry records from every
// runner to the reporting consumers.
//
// ARCHITECTURE:
//
// Multi-Producer, Single-Consumer:
// Runners, actions and source harnesses call Log.Append concurrently. Each
// appended record is stamped with the next value of a logical clock under
// the same lock that enqueues it, so Seq order equals delivery order.
// Log.Run is the only reader; it hands each record to every Handler in
// registration order.
//
// Records are tagged by Type. Consumers switch on Type and ignore what
// they do not understand.
package eventlog
