// Package wavfile reads and writes RIFF/WAVE files as [pcm.Buffer] values.
//
// Integer PCM at 8, 16, 24 and 32 bits is supported on read; writes use the
// bit depth given by the caller (16 by default). Decoding and encoding go
// through github.com/go-audio/wav.
package wavfile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/riff"
	"github.com/go-audio/wav"

	"github.com/haivivi/stemsplit/pkg/audio/pcm"
)

// DefaultBitDepth is the bit depth used by Encode when none is given.
const DefaultBitDepth = 16

const (
	formatPCM        = 1
	formatExtensible = 0xFFFE
)

var (
	// ErrInvalidFile is returned when the input is not a RIFF/WAVE file.
	ErrInvalidFile = errors.New("wavfile: not a valid wav file")

	// ErrUnsupported is returned for non-integer PCM (including float
	// WAVE_FORMAT_EXTENSIBLE files) or unknown bit depths.
	ErrUnsupported = errors.New("wavfile: unsupported format")
)

// Decode reads a complete WAV stream into a Buffer normalised to [-1, 1).
// WAVE_FORMAT_EXTENSIBLE files are accepted when their sub-format is
// integer PCM.
func Decode(r io.ReadSeeker) (*pcm.Buffer, error) {
	start, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, fmt.Errorf("wavfile: %w", err)
	}
	format, err := audioFormat(r)
	if err != nil {
		return nil, err
	}
	if format != formatPCM {
		return nil, fmt.Errorf("%w: audio format %#x", ErrUnsupported, format)
	}
	if _, err := r.Seek(start, io.SeekStart); err != nil {
		return nil, fmt.Errorf("wavfile: %w", err)
	}

	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, ErrInvalidFile
	}
	depth := int(dec.BitDepth)
	switch depth {
	case 8, 16, 24, 32:
	default:
		return nil, fmt.Errorf("%w: %d-bit samples", ErrUnsupported, depth)
	}

	ib, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("wavfile: decode: %w", err)
	}

	channels := int(dec.NumChans)
	if channels <= 0 {
		return nil, fmt.Errorf("%w: %d channels", ErrUnsupported, channels)
	}

	scale := 1 / float32(int64(1)<<(depth-1))
	offset := 0
	if depth == 8 {
		offset = 128 // unsigned
	}
	samples := make([]float32, len(ib.Data))
	for i, v := range ib.Data {
		samples[i] = float32(v-offset) * scale
	}
	return pcm.FromInterleaved(samples, channels, int(dec.SampleRate)), nil
}

// fmtExtensible is the tail of a WAVE_FORMAT_EXTENSIBLE fmt chunk after
// the format tag. The first two bytes of SubFormat carry the real tag.
type fmtExtensible struct {
	Channels      uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	ExtSize       uint16
	ValidBits     uint16
	ChannelMask   uint32
	SubFormat     [16]byte
}

// audioFormat walks the RIFF chunks up to "fmt " and returns the sample
// format tag, resolving WAVE_FORMAT_EXTENSIBLE to its sub-format. The
// reader is left inside the file.
func audioFormat(r io.Reader) (uint16, error) {
	p := riff.New(r)
	id, _, err := p.IDnSize()
	if err != nil || id != riff.RiffID {
		return 0, ErrInvalidFile
	}
	if err := binary.Read(r, binary.BigEndian, &p.Format); err != nil || p.Format != riff.WavFormatID {
		return 0, ErrInvalidFile
	}
	for {
		chunk, err := p.NextChunk()
		if err != nil {
			return 0, fmt.Errorf("%w: no fmt chunk", ErrInvalidFile)
		}
		if chunk.ID != riff.FmtID {
			chunk.Drain()
			continue
		}
		var tag uint16
		if err := binary.Read(chunk.R, binary.LittleEndian, &tag); err != nil {
			return 0, fmt.Errorf("%w: fmt chunk: %v", ErrInvalidFile, err)
		}
		if tag != formatExtensible {
			return tag, nil
		}
		var ext fmtExtensible
		if err := binary.Read(chunk.R, binary.LittleEndian, &ext); err != nil {
			return 0, fmt.Errorf("%w: extensible fmt chunk: %v", ErrInvalidFile, err)
		}
		return binary.LittleEndian.Uint16(ext.SubFormat[:2]), nil
	}
}

// ReadFile decodes the WAV file at path.
func ReadFile(path string) (*pcm.Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("wavfile: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Encode writes buf as integer PCM. A bitDepth of 0 selects DefaultBitDepth.
// Samples outside [-1, 1] saturate.
func Encode(w io.WriteSeeker, buf *pcm.Buffer, bitDepth int) error {
	if bitDepth == 0 {
		bitDepth = DefaultBitDepth
	}
	switch bitDepth {
	case 8, 16, 24, 32:
	default:
		return fmt.Errorf("%w: %d-bit samples", ErrUnsupported, bitDepth)
	}

	channels := buf.Channels()
	if channels == 0 {
		return fmt.Errorf("%w: 0 channels", ErrUnsupported)
	}

	enc := wav.NewEncoder(w, buf.SampleRate(), bitDepth, channels, formatPCM)
	ib := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: buf.SampleRate()},
		Data:           toInts(buf, bitDepth),
		SourceBitDepth: bitDepth,
	}
	if err := enc.Write(ib); err != nil {
		return fmt.Errorf("wavfile: encode: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("wavfile: encode: %w", err)
	}
	return nil
}

// Bytes encodes buf into an in-memory WAV file.
func Bytes(buf *pcm.Buffer, bitDepth int) ([]byte, error) {
	var ws writeSeeker
	if err := Encode(&ws, buf, bitDepth); err != nil {
		return nil, err
	}
	return ws.buf, nil
}

// WriteFile encodes buf to path, replacing any existing file.
func WriteFile(path string, buf *pcm.Buffer, bitDepth int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("wavfile: %w", err)
	}
	if err := Encode(f, buf, bitDepth); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func toInts(buf *pcm.Buffer, bitDepth int) []int {
	hi := float64(int64(1)<<(bitDepth-1)) - 1
	lo := -hi - 1
	samples := buf.Interleaved()
	out := make([]int, len(samples))
	for i, v := range samples {
		s := min(max(float64(v)*(hi+1), lo), hi)
		if bitDepth == 8 {
			s += 128
		}
		out[i] = int(s)
	}
	return out
}

// writeSeeker is an in-memory io.WriteSeeker for the encoder, which
// rewrites chunk sizes in the header after the data.
type writeSeeker struct {
	buf []byte
	pos int
}

func (w *writeSeeker) Write(p []byte) (int, error) {
	if need := w.pos + len(p); need > len(w.buf) {
		w.buf = append(w.buf, make([]byte, need-len(w.buf))...)
	}
	n := copy(w.buf[w.pos:], p)
	w.pos += n
	return n, nil
}

func (w *writeSeeker) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(w.pos) + offset
	case io.SeekEnd:
		abs = int64(len(w.buf)) + offset
	default:
		return 0, errors.New("wavfile: invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("wavfile: negative position")
	}
	w.pos = int(abs)
	return abs, nil
}
