// Package fusion concatenates rendered chunk files into the final output.
package fusion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-audio/audio"
	"github.com/loqalabs/loqa-render/internal/audiofile"
)

var ErrNothingToFuse = errors.New("no chunk files to fuse")

// MismatchError reports a chunk whose format differs from the first chunk.
type MismatchError struct {
	Index    int
	File     string
	Expected string
	Got      string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("chunk %d (%s): expected %s, got %s", e.Index, e.File, e.Expected, e.Got)
}

// Result describes the fused output.
type Result struct {
	Output     string
	Chunks     int
	Samples    int
	SampleRate int
	Copied     bool
}

// Fuse writes the concatenation of files, in order, to output. No output file
// exists when Fuse returns an error.
func Fuse(ctx context.Context, files []string, output string) (Result, error) {
	switch len(files) {
	case 0:
		return Result{}, ErrNothingToFuse
	case 1:
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		if err := copyFile(files[0], output); err != nil {
			return Result{}, err
		}
		return Result{Output: output, Chunks: 1, Copied: true}, nil
	}

	var merged *audio.IntBuffer
	for i, path := range files {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		buf, err := audiofile.Read(path)
		if err != nil {
			return Result{}, fmt.Errorf("load chunk %d: %w", i, err)
		}
		if merged == nil {
			merged = &audio.IntBuffer{
				Format:         &audio.Format{NumChannels: buf.Format.NumChannels, SampleRate: buf.Format.SampleRate},
				SourceBitDepth: buf.SourceBitDepth,
				Data:           make([]int, 0, len(buf.Data)*len(files)),
			}
		} else if err := checkFormat(i, path, merged.Format, buf.Format); err != nil {
			return Result{}, err
		}
		merged.Data = append(merged.Data, buf.Data...)
	}

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if err := audiofile.WriteBuffer(output, merged); err != nil {
		return Result{}, err
	}
	return Result{
		Output:     output,
		Chunks:     len(files),
		Samples:    len(merged.Data),
		SampleRate: merged.Format.SampleRate,
	}, nil
}

func checkFormat(index int, path string, want, got *audio.Format) error {
	if want.SampleRate != got.SampleRate {
		return &MismatchError{
			Index:    index,
			File:     path,
			Expected: fmt.Sprintf("%d Hz", want.SampleRate),
			Got:      fmt.Sprintf("%d Hz", got.SampleRate),
		}
	}
	if want.NumChannels != got.NumChannels {
		return &MismatchError{
			Index:    index,
			File:     path,
			Expected: fmt.Sprintf("%d channels", want.NumChannels),
			Got:      fmt.Sprintf("%d channels", got.NumChannels),
		}
	}
	return nil
}

// copyFile copies src to dst keeping the permission bits and modification time.
func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	defer func() {
		if cerr := out.Close(); err == nil && cerr != nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(dst)
		}
	}()

	if _, err = io.Copy(out, in); err != nil {
		return fmt.Errorf("copy %s: %w", src, err)
	}
	if err = out.Chmod(info.Mode().Perm()); err != nil {
		return err
	}
	if err = out.Sync(); err != nil {
		return err
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}
