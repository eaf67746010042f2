package media

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
)

var (
	// ErrSubprocessFailed means the transcoder exited non-zero on both the
	// copy and the default-codec attempt.
	ErrSubprocessFailed = errors.New("media: transcoder failed")
	// ErrTooSmall marks an output under the plausible-audio floor.
	ErrTooSmall = errors.New("media: output file too small")
)

// Outputs under this size are headers or error pages, not audio.
const minOutputBytes = 1024

// Transcoder wraps the external media tool on PATH.
type Transcoder struct {
	// Bin defaults to "ffmpeg".
	Bin string
	// ShowOutput inherits the subprocess stdio instead of discarding it.
	ShowOutput bool
}

func (t *Transcoder) bin() string {
	if t.Bin != "" {
		return t.Bin
	}
	return "ffmpeg"
}

// Probe checks the tool is runnable. Failure is a warning condition for the
// caller, not fatal; every acquisition would fail later anyway.
func (t *Transcoder) Probe(ctx context.Context) error {
	if err := exec.CommandContext(ctx, t.bin(), "-version").Run(); err != nil {
		return fmt.Errorf("%s not runnable: %w", t.bin(), err)
	}
	return nil
}

// Fetch downloads url to out with stream-copy, falling back to the tool's
// default codec selection when the copy attempt fails.
func (t *Transcoder) Fetch(ctx context.Context, url, out string) error {
	err := t.run(ctx, "-i", url, "-c", "copy", "-y", out)
	if err != nil {
		log.Printf("media: copy fetch failed (%v), retrying with default codecs", err)
		err = t.run(ctx, "-i", url, "-y", out)
	}
	if err != nil {
		os.Remove(out)
		return fmt.Errorf("%w: %v", ErrSubprocessFailed, err)
	}
	return t.checkSize(out)
}

// Reencode downloads url to out re-encoded as mp3; the last-resort path when
// no rendition could be copied.
func (t *Transcoder) Reencode(ctx context.Context, url, out string) error {
	if err := t.run(ctx, "-i", url, "-c:a", "libmp3lame", "-q:a", "2", "-y", out); err != nil {
		os.Remove(out)
		return fmt.Errorf("%w: %v", ErrSubprocessFailed, err)
	}
	return t.checkSize(out)
}

func (t *Transcoder) run(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, t.bin(), args...)
	if t.ShowOutput {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}
	return cmd.Run()
}

func (t *Transcoder) checkSize(out string) error {
	fi, err := os.Stat(out)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSubprocessFailed, err)
	}
	if fi.Size() < minOutputBytes {
		os.Remove(out)
		return fmt.Errorf("%w: %d bytes", ErrTooSmall, fi.Size())
	}
	return nil
}
