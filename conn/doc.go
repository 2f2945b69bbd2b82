// Package conn manages the TCP connection to one amplifier zone.
//
// Each zone exposes its own control socket. The client owns three
// goroutines: a reader that accumulates bytes and decodes frames, a writer
// that drains a FIFO queue with a pacing delay between frames (the device
// mishandles rapid bursts), and a keepalive prober that detects silent
// connection death. Loss of the connection triggers automatic reconnection
// with capped exponential backoff; after a configurable number of
// consecutive failures the zone is reported unresponsive, but reconnection
// attempts continue until Close.
//
// Decoded frames are handed to the message callback from a single worker
// goroutine, preserving arrival order. The handoff queue is bounded; a
// consumer that cannot keep up loses frames, and the loss is counted.
package conn
