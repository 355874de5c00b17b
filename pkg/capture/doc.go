// ABOUTME: Package documentation for frame sources
// ABOUTME: Describes the Source contract and the built-in implementations
// Package capture provides the frame sources a share session pulls from.
//
// Every source yields frames in the session format, one per NextFrame
// call. Tone and File produce frames on demand and are paced by the share
// loop; Device blocks on the hardware clock and reports Paced.
//
//	src, err := capture.Open("file:song.flac", audio.DefaultFormat(), logger)
//	if err != nil {
//		return err
//	}
//	defer src.Close()
//	frame, err := src.NextFrame(ctx)
package capture
