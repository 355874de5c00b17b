// ABOUTME: Packet framing package for the audio byte stream
// ABOUTME: Documents the wire format shared by sharers and listeners
// Package packet frames encoded audio for transport over an ordered byte
// stream with no message boundaries.
//
// Every record is big-endian:
//
//	+-----------+-------------+--------------+-----------------+
//	| length u32| sequence u64| timestamp u64| payload         |
//	+-----------+-------------+--------------+-----------------+
//
// length counts everything after itself, so length = 16 + len(payload).
// A length below 16 or above the reader's maximum is a protocol violation.
// The timestamp is microseconds since the sharer started streaming.
//
// Example:
//
//	err := packet.Write(conn, packet.Packet{Seq: 7, Timestamp: 140000, Payload: opusBytes})
//
//	r := packet.NewReader(conn, packet.MaxLength)
//	p, err := r.Next()
package packet
