// ABOUTME: Audio resampling package using linear interpolation
// ABOUTME: Converts streaming audio between different sample rates
// Package resample provides audio sample rate conversion.
//
// Uses linear interpolation and carries the last input frame across calls,
// so a stream can be fed in arbitrary chunk sizes without seams.
//
// Example:
//
//	r := resample.New(44100, 48000, 2)
//	out = r.Resample(out[:0], chunk)
package resample
