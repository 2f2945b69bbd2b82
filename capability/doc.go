// Package capability declares what each amplifier model supports and how its
// properties are bound to the wire protocol.
//
// A Table is a static, immutable description of one model: the supported
// property keys, their value domains, their opcodes and payload codecs, and
// the zone count. The sync engine consumes the Table through the
// state.Capabilities interface; the feedback router uses DecodeFeedback and
// DecodeStatusBundle to turn inbound frames back into property values.
//
// Tables are data, not behaviour. Nothing here performs I/O.
package capability
