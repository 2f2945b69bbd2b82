// Package frame implements the binary wire codec for the amplifier control
// protocol.
//
// The codec is pure: it performs no I/O and holds no state. Each frame is
// self-delimited:
//
//	0x10 | group | length | slot | payload... | 0x03
//
// where length counts the slot byte plus the payload. The marker and
// terminator bytes bracket the frame but parsing is length-driven; the
// terminator is a framing check only. Multiple frames arriving concatenated
// in a single read are split by calling Decode repeatedly.
//
// The exact byte layout was established against captured device traffic;
// there is no checksum.
package frame
