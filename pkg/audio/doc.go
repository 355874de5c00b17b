// ABOUTME: Audio fundamentals package providing core types and utilities
// ABOUTME: Defines Format, Frame types and sample conversion functions
// Package audio provides the fundamental audio types shared by the capture,
// codec, playback and sink packages.
//
//   - Format: codec, sample rate, channel count and frame duration of a session
//   - Frame: one fixed-duration slice of interleaved int16 PCM
//
// File decoders work in a 24-bit int32 range; SampleToInt16 and
// SampleFromInt16 convert between the two.
//
// Example:
//
//	format := audio.DefaultFormat() // opus 48000Hz 2ch 20ms
//	frame := audio.NewSilence(format)
//	fmt.Println(frame.SamplesPerChannel()) // 960
package audio
