// Package resampler converts [pcm.Buffer] audio between sample rates.
//
// Conversion uses github.com/tphakala/go-audio-resampling, a pure Go
// polyphase resampler, with the high quality preset. Each channel runs
// through its own single-channel resampler, so channels never mix.
//
// The signal is framed by silence and the resampler is flushed, so the
// last input frames reach the output. The filter delay is measured once
// per rate pair from an impulse response and cut from the front, so a
// transient at input time t appears at output time t.
//
// The output length is always round(frames*outRate/inRate), which lets
// callers convert to a model rate and back again and land on the original
// frame count after [pcm.Buffer.Fit].
//
// Example usage:
//
//	at16k, err := resampler.Buffer(buf, 16000)
//	if err != nil {
//	    return err
//	}
package resampler
