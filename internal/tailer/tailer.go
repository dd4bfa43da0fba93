// Package tailer follows a single log file from its current end, the way
// tail -F does: new bytes are split into lines, truncation rewinds to
// offset zero, and a rename+recreate rotation is picked up through the
// inode. Bytes written before the tailer starts are never replayed.
package tailer

import (
	"bytes"
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultPollInterval is the sleep between reads at EOF.
	DefaultPollInterval = 250 * time.Millisecond
	// DefaultPausedInterval is the slower poll used once reopen attempts
	// are exhausted and the tailer is waiting for the path to return.
	DefaultPausedInterval = 5 * time.Second
	// DefaultReopenAttempts bounds the fast reopen retries after the
	// file disappears, before entering the paused state.
	DefaultReopenAttempts = 5

	readBufSize = 64 * 1024
)

// Line is one complete line read from the file. Offset is the file
// position immediately after the line's trailing newline.
type Line struct {
	Text       string
	Offset     int64
	DetectedAt time.Time
}

// Config wires a tailer to its file and its consumers.
type Config struct {
	Path           string
	PollInterval   time.Duration
	PausedInterval time.Duration
	ReopenAttempts int

	// StillWanted is polled once per loop iteration; when it reports
	// false the tailer exits cleanly. This is how the supervisor
	// deregisters a file without reaching into the goroutine.
	StillWanted func() bool

	// Emit receives every complete line in file order.
	Emit func(Line)

	Log zerolog.Logger
}

// Tailer follows one file. Create with New, drive with Run.
type Tailer struct {
	cfg    Config
	paused bool
}

// New validates defaults and returns an unstarted tailer.
func New(cfg Config) *Tailer {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.PausedInterval <= 0 {
		cfg.PausedInterval = DefaultPausedInterval
	}
	if cfg.ReopenAttempts <= 0 {
		cfg.ReopenAttempts = DefaultReopenAttempts
	}
	if cfg.StillWanted == nil {
		cfg.StillWanted = func() bool { return true }
	}
	return &Tailer{cfg: cfg}
}

// Paused reports whether the tailer is waiting for a vanished file.
// Racy by nature; used only for status reporting.
func (t *Tailer) Paused() bool { return t.paused }

// Run follows the file until the context is cancelled or StillWanted
// reports false. The initial open seeks to EOF; every reopen afterwards
// starts at offset zero, which is correct because a reopen only happens
// after rotation, truncation, or recreation.
func (t *Tailer) Run(ctx context.Context) error {
	file, inode, offset, err := openAtEnd(t.cfg.Path)
	if err != nil {
		t.cfg.Log.Warn().Err(err).Str("path", t.cfg.Path).Msg("initial open failed, waiting for file")
	}
	defer func() {
		if file != nil {
			file.Close()
		}
	}()

	buf := make([]byte, readBufSize)
	var partial []byte

	for {
		if ctx.Err() != nil {
			return nil
		}
		if !t.cfg.StillWanted() {
			t.cfg.Log.Debug().Str("path", t.cfg.Path).Msg("deregistered, tailer exiting")
			return nil
		}

		if file == nil {
			file, inode = t.reopen(ctx)
			if file == nil {
				continue // cancelled or still paused
			}
			offset = 0
			partial = nil
		}

		n, readErr := file.Read(buf)
		if n > 0 {
			t.paused = false
			partial = t.emitLines(append(partial, buf[:n]...), &offset)
			continue
		}
		if readErr != nil && readErr != io.EOF {
			t.cfg.Log.Warn().Err(readErr).Str("path", t.cfg.Path).Msg("read failed, reopening")
			file.Close()
			file = nil
			continue
		}

		// At EOF: look for rotation or truncation before sleeping.
		curInode, size, statErr := statPath(t.cfg.Path)
		switch {
		case statErr != nil:
			// Path is gone; drop the handle and go through reopen.
			file.Close()
			file = nil
			continue
		case curInode != inode || size < offset:
			t.cfg.Log.Info().Str("path", t.cfg.Path).Msg("rotation detected, reopening from start")
			file.Close()
			file = nil
			continue
		}

		if !sleepCtx(ctx, t.cfg.PollInterval) {
			return nil
		}
	}
}

// emitLines splits accumulated bytes on newlines, emits each complete
// line, and returns the unterminated tail to carry into the next read.
func (t *Tailer) emitLines(data []byte, offset *int64) []byte {
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		line := data[:i]
		data = data[i+1:]
		*offset += int64(i) + 1
		if len(line) > 0 && line[len(line)-1] == '\r' {
			line = line[:len(line)-1]
		}
		if t.cfg.Emit != nil {
			t.cfg.Emit(Line{
				Text:       string(line),
				Offset:     *offset,
				DetectedAt: time.Now().UTC(),
			})
		}
	}
	if len(data) == 0 {
		return nil
	}
	// Copy so the retained tail does not pin the read buffer.
	tail := make([]byte, len(data))
	copy(tail, data)
	return tail
}

// reopen tries to open the path from offset zero. The first attempts use
// a growing multiple of the poll interval; once exhausted the tailer is
// paused and keeps probing at the paused interval until the path returns
// or it is cancelled/deregistered.
func (t *Tailer) reopen(ctx context.Context) (*os.File, uint64) {
	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil || !t.cfg.StillWanted() {
			return nil, 0
		}

		file, err := os.Open(t.cfg.Path)
		if err == nil {
			inode, _, statErr := statFile(file)
			if statErr != nil {
				file.Close()
			} else {
				if t.paused {
					t.cfg.Log.Info().Str("path", t.cfg.Path).Msg("file returned, resuming")
				}
				t.paused = false
				return file, inode
			}
		}

		wait := time.Duration(attempt) * t.cfg.PollInterval
		if attempt > t.cfg.ReopenAttempts {
			if !t.paused {
				t.cfg.Log.Warn().Str("path", t.cfg.Path).Msg("file missing, tailer paused")
				t.paused = true
			}
			wait = t.cfg.PausedInterval
		}
		if !sleepCtx(ctx, wait) {
			return nil, 0
		}
	}
}

// openAtEnd opens the path and seeks to EOF, returning the handle, its
// inode, and the end offset.
func openAtEnd(path string) (*os.File, uint64, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, 0, err
	}
	inode, _, err := statFile(file)
	if err != nil {
		file.Close()
		return nil, 0, 0, err
	}
	end, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		file.Close()
		return nil, 0, 0, err
	}
	return file, inode, end, nil
}

// sleepCtx sleeps for d, returning false if the context was cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
