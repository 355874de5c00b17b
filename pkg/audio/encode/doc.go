// ABOUTME: Audio encoder package for encoding PCM frames to wire payloads
// ABOUTME: Provides Encoder interface and implementations for PCM, Opus
// Package encode provides the encode half of the codec adapter.
//
// Supports: PCM (16-bit little-endian), Opus
//
// Encoders consume one audio.Frame per call and return the payload that is
// carried in a packet. Encoder state belongs to one session.
//
// Example:
//
//	encoder, err := encode.New(audio.DefaultFormat())
//	payload, err := encoder.Encode(frame)
package encode
