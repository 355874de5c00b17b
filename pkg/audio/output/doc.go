// ABOUTME: Audio output package for playing audio
// ABOUTME: Provides the Sink interface with oto, discard and recording implementations
// Package output provides the audio sinks a listen session plays into.
//
// Oto plays through the default device. Discard and Recorder have no
// device and are used for headless listeners and tests.
//
// Example:
//
//	sink := output.NewOto(logger)
//	err := sink.Open(format)
//	err = sink.Submit(frame)
package output
