// Package pcm provides the in-memory audio buffer used throughout stemsplit.
//
// A [Buffer] stores 32-bit float samples planar by channel, indexed
// (channel, frame), together with the sample rate of the session. Sample
// values are nominally in [-1, 1]; nothing in this package clips.
//
// Key types and helpers:
//   - Buffer: planar float32 audio with a fixed channel count and length
//   - FromChannels / FromInterleaved: constructors from planar and interleaved layouts
//   - Buffer.Remix: channel layout conversion (mono duplicate, averaged downmix)
//   - Buffer.Fit: pad with silence or truncate to an exact frame count
//
// Example usage:
//
//	// 1s of stereo silence at 44.1kHz
//	buf := pcm.NewBuffer(2, 44100, 44100)
//
//	// De-interleave decoder output (L R L R ...)
//	buf := pcm.FromInterleaved(samples, 2, 48000)
//
//	// Force mono for a model that expects one channel
//	mono := buf.Remix(1)
package pcm
