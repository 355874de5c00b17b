// ABOUTME: Transport package documentation
// ABOUTME: Describes connection abstractions and the admission handshake
// Package transport defines the byte-stream connections audio travels over.
//
// The quic and ws subpackages provide network implementations; Pipe is an
// in-memory network for tests and single-process demos. Every connection
// starts with a handshake in which the listener presents the ticket token:
//
//	listener -> sharer:  "HRME" | version u8 | token [16]byte
//	sharer   -> listener: status u8 (0 ok, 1 bad token, 2 full, 3 bad version)
//
// After an ok status the sharer writes framed packets until either side
// closes.
package transport
