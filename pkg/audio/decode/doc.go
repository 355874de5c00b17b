// ABOUTME: Audio decoder package for the receive side of the codec adapter
// ABOUTME: Provides Decoder interface and implementations for PCM, Opus
// Package decode provides the decode half of the codec adapter.
//
// Supports: PCM (16-bit little-endian), Opus
//
// Every decoder returns whole frames of the session format. A payload that
// cannot be turned into such a frame yields an error wrapping ErrCorrupt;
// callers treat that frame as lost and keep going.
//
// Example:
//
//	decoder, err := decode.New(format)
//	frame, err := decoder.Decode(payload)
//	if errors.Is(err, decode.ErrCorrupt) {
//	    // conceal
//	}
package decode
