// Package audio is the umbrella for the audio sub-packages:
//
//   - pcm: planar float32 sample buffers, channel remixing and fitting
//   - resampler: whole-buffer sample rate conversion
//   - wavfile: WAV decoding and encoding
//
// Example usage:
//
//	in, err := wavfile.ReadFile("song.wav")
//	if err != nil {
//	    return err
//	}
//	stereo := in.Remix(2)
//	at44k, err := resampler.Buffer(stereo, 44100)
package audio
