package audiofile

import (
	"encoding/binary"
	"path/filepath"
	"testing"
	"time"
)

func TestWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chunk_000.wav")
	clip := Clip{Samples: []float32{0, 0.5, -0.5, 1, -1, 2}, SampleRate: 24000}
	if err := Write(path, clip); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	buf, err := Read(path)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if buf.Format.SampleRate != 24000 || buf.Format.NumChannels != 1 {
		t.Fatalf("unexpected format %+v", buf.Format)
	}
	want := []int{0, 16384, -16384, 32767, -32767, 32767}
	if len(buf.Data) != len(want) {
		t.Fatalf("sample count = %d, want %d", len(buf.Data), len(want))
	}
	for i := range want {
		if buf.Data[i] != want[i] {
			t.Fatalf("sample %d = %d, want %d", i, buf.Data[i], want[i])
		}
	}
}

func TestWriteRejectsBadSampleRate(t *testing.T) {
	if err := Write(filepath.Join(t.TempDir(), "x.wav"), Clip{Samples: []float32{0}}); err == nil {
		t.Fatal("expected error for zero sample rate")
	}
}

func TestReadRejectsNonWav(t *testing.T) {
	if _, err := Read(filepath.Join(t.TempDir(), "missing.wav")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestFromPCM16(t *testing.T) {
	pcm := make([]byte, 4)
	binary.LittleEndian.PutUint16(pcm[0:], uint16(int16(32767)))
	v := int16(-32767)
	binary.LittleEndian.PutUint16(pcm[2:], uint16(v))
	clip, err := FromPCM16(pcm, 16000)
	if err != nil {
		t.Fatalf("FromPCM16() error = %v", err)
	}
	if clip.Samples[0] != 1 || clip.Samples[1] != -1 {
		t.Fatalf("unexpected samples %v", clip.Samples)
	}
	if _, err := FromPCM16([]byte{1, 2, 3}, 16000); err == nil {
		t.Fatal("expected error for unaligned payload")
	}
}

func TestClipDuration(t *testing.T) {
	clip := Clip{Samples: make([]float32, 12000), SampleRate: 24000}
	if got := clip.Duration(); got != 500*time.Millisecond {
		t.Fatalf("Duration() = %v", got)
	}
}
