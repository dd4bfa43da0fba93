package tailer

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// collector gathers emitted lines for assertions.
type collector struct {
	mu    sync.Mutex
	lines []string
}

func (c *collector) emit(l Line) {
	c.mu.Lock()
	c.lines = append(c.lines, l.Text)
	c.mu.Unlock()
}

func (c *collector) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.lines))
	copy(out, c.lines)
	return out
}

func (c *collector) waitLen(t *testing.T, n int) []string {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if got := c.snapshot(); len(got) >= n {
			return got
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d lines, have %v", n, c.snapshot())
	return nil
}

func startTailer(t *testing.T, path string, c *collector) (cancel func()) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	tl := New(Config{
		Path:         path,
		PollInterval: 20 * time.Millisecond,
		Emit:         c.emit,
		Log:          zerolog.Nop(),
	})
	done := make(chan struct{})
	go func() {
		defer close(done)
		tl.Run(ctx)
	}()
	return func() {
		stop()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("tailer did not exit after cancel")
		}
	}
}

func appendLine(t *testing.T, path, line string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString(line + "\n"); err != nil {
		t.Fatal(err)
	}
	f.Close()
}

func TestNoReplayOfHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	appendLine(t, path, "old line one")
	appendLine(t, path, "old line two")

	c := &collector{}
	cancel := startTailer(t, path, c)
	defer cancel()

	// Give the tailer a few polls to (incorrectly) replay anything.
	time.Sleep(150 * time.Millisecond)
	if got := c.snapshot(); len(got) != 0 {
		t.Fatalf("history replayed: %v", got)
	}

	appendLine(t, path, "new line")
	got := c.waitLen(t, 1)
	if got[0] != "new line" {
		t.Fatalf("unexpected lines: %v", got)
	}
}

func TestFollowsAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	appendLine(t, path, "seed")

	c := &collector{}
	cancel := startTailer(t, path, c)
	defer cancel()
	time.Sleep(100 * time.Millisecond)

	appendLine(t, path, "a")
	appendLine(t, path, "b")
	appendLine(t, path, "c")

	got := c.waitLen(t, 3)
	if got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("out of order or lost: %v", got)
	}
}

func TestPartialLineCarried(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	appendLine(t, path, "seed")

	c := &collector{}
	cancel := startTailer(t, path, c)
	defer cancel()
	time.Sleep(100 * time.Millisecond)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("half")
	f.Sync()
	time.Sleep(100 * time.Millisecond)
	if got := c.snapshot(); len(got) != 0 {
		t.Fatalf("emitted incomplete line: %v", got)
	}
	f.WriteString("-and-rest\n")
	f.Close()

	got := c.waitLen(t, 1)
	if got[0] != "half-and-rest" {
		t.Fatalf("partial carry broken: %v", got)
	}
}

func TestTruncationRewinds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	appendLine(t, path, "seed")

	c := &collector{}
	cancel := startTailer(t, path, c)
	defer cancel()
	time.Sleep(100 * time.Millisecond)

	appendLine(t, path, "before truncate")
	c.waitLen(t, 1)

	if err := os.Truncate(path, 0); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	appendLine(t, path, "after truncate")

	got := c.waitLen(t, 2)
	if got[1] != "after truncate" {
		t.Fatalf("lost first post-truncation line: %v", got)
	}
}

func TestRotationPicksUpNewInode(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	appendLine(t, path, "seed")

	c := &collector{}
	cancel := startTailer(t, path, c)
	defer cancel()
	time.Sleep(100 * time.Millisecond)

	// Rotate: rename the live file, create a fresh one at the same path.
	if err := os.Rename(path, filepath.Join(dir, "app.log.1")); err != nil {
		t.Fatal(err)
	}
	appendLine(t, path, "post-rotation")

	got := c.waitLen(t, 1)
	if got[0] != "post-rotation" {
		t.Fatalf("missed post-rotation line: %v", got)
	}
}

func TestFileGoneThenReturns(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	appendLine(t, path, "seed")

	c := &collector{}
	cancel := startTailer(t, path, c)
	defer cancel()
	time.Sleep(100 * time.Millisecond)

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)

	appendLine(t, path, "reborn")
	got := c.waitLen(t, 1)
	if got[0] != "reborn" {
		t.Fatalf("missed line after file returned: %v", got)
	}
}

func TestDeregistrationExits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	appendLine(t, path, "seed")

	var mu sync.Mutex
	wanted := true
	tl := New(Config{
		Path:         path,
		PollInterval: 20 * time.Millisecond,
		StillWanted: func() bool {
			mu.Lock()
			defer mu.Unlock()
			return wanted
		},
		Log: zerolog.Nop(),
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		tl.Run(context.Background())
	}()

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	wanted = false
	mu.Unlock()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tailer did not observe deregistration")
	}
}
