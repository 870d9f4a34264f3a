// Package audiofile reads and writes the 16-bit PCM WAV files exchanged
// between the renderer, the fusion stage and the player.
package audiofile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	bitDepth  = 16
	pcmFormat = 1
	maxInt16  = 32767
)

// Clip is mono float audio in [-1, 1] as produced by a synthesis engine.
type Clip struct {
	Samples    []float32
	SampleRate int
}

func (c Clip) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(c.Samples)) * time.Second / time.Duration(c.SampleRate)
}

// FromPCM16 decodes little-endian signed 16-bit mono PCM.
func FromPCM16(pcm []byte, sampleRate int) (Clip, error) {
	if len(pcm)%2 != 0 {
		return Clip{}, fmt.Errorf("pcm payload not aligned")
	}
	samples := make([]float32, len(pcm)/2)
	for i := range samples {
		v := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		samples[i] = float32(v) / maxInt16
	}
	return Clip{Samples: samples, SampleRate: sampleRate}, nil
}

// Buffer converts the clip to the integer buffer the WAV encoder consumes.
func (c Clip) Buffer() *audio.IntBuffer {
	data := make([]int, len(c.Samples))
	for i, s := range c.Samples {
		clamped := math.Max(-1, math.Min(1, float64(s)))
		data[i] = int(math.Round(clamped * maxInt16))
	}
	return &audio.IntBuffer{
		Data:           data,
		Format:         &audio.Format{NumChannels: 1, SampleRate: c.SampleRate},
		SourceBitDepth: bitDepth,
	}
}

// Write stores clip at path as a 16-bit mono WAV file.
func Write(path string, clip Clip) error {
	if clip.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", clip.SampleRate)
	}
	return WriteBuffer(path, clip.Buffer())
}

// WriteBuffer encodes buf to path. A partially written file is removed on error.
func WriteBuffer(path string, buf *audio.IntBuffer) (err error) {
	if buf == nil || buf.Format == nil {
		return errors.New("audio buffer has no format")
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := file.Close(); err == nil && cerr != nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(path)
		}
	}()

	channels := buf.Format.NumChannels
	if channels <= 0 {
		channels = 1
	}
	enc := wav.NewEncoder(file, buf.Format.SampleRate, bitDepth, channels, pcmFormat)
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}

// Read decodes the whole WAV file at path.
func Read(path string) (*audio.IntBuffer, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	dec := wav.NewDecoder(file)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%s is not a valid wav file", path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return buf, nil
}
