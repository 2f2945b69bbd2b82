// Package state implements the property store and optimistic sync engine.
//
// Every controllable property lives in a Store as a confirmed value with a
// monotonically increasing revision. Writes are optimistic: RequestWrite
// validates the value against the property's domain, sends the command frame
// and records a PendingWrite, but does not touch the store. The store only
// changes when the device confirms the new value through feedback. While a
// write is pending, feedback that does not match the requested value is
// treated as stale and discarded, so a consumer never observes a confirmed
// value regress behind a write it has issued.
//
// The engine does not know the wire protocol or the model's capabilities; it
// is handed those through the Capabilities and Sender interfaces. One engine
// instance serves one entity (a zone, or the device itself).
package state
