package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

type StreamMode string

const (
	StreamInstant StreamMode = "instant"
	StreamSmooth  StreamMode = "smooth"
	StreamQuiet   StreamMode = "quiet"
)

func parseStreamMode(s string) (StreamMode, error) {
	switch m := StreamMode(strings.ToLower(strings.TrimSpace(s))); m {
	case StreamInstant, StreamSmooth, StreamQuiet:
		return m, nil
	case "":
		return StreamInstant, nil
	}
	return "", fmt.Errorf("unknown stream mode %q (expected instant, smooth, or quiet)", s)
}

// StreamWriter prints completion text as the engine releases it.
type StreamWriter struct {
	mode StreamMode
	out  *bufio.Writer

	mu            sync.Mutex
	pending       int
	lastFlush     time.Time
	flushInterval time.Duration
	stop          chan struct{}
	done          chan struct{}

	text strings.Builder
}

func NewStreamWriter(w io.Writer, mode StreamMode) *StreamWriter {
	sw := &StreamWriter{
		mode:          mode,
		out:           bufio.NewWriterSize(w, 4096),
		lastFlush:     time.Now(),
		flushInterval: 50 * time.Millisecond,
	}
	if mode == StreamSmooth {
		sw.stop = make(chan struct{})
		sw.done = make(chan struct{})
		go sw.backgroundFlusher()
	}
	return sw
}

// Write takes one piece of completion text.
func (w *StreamWriter) Write(text string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.text.WriteString(text)
	switch w.mode {
	case StreamInstant:
		_, _ = w.out.WriteString(text)
		_ = w.out.Flush()
	case StreamSmooth:
		_, _ = w.out.WriteString(text)
		w.pending++
		if w.pending >= 8 || time.Since(w.lastFlush) >= w.flushInterval {
			w.flushLocked()
		}
	}
}

// Close writes what is left and returns the full text.
func (w *StreamWriter) Close() string {
	if w.stop != nil {
		close(w.stop)
		<-w.done
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.mode == StreamQuiet {
		_, _ = w.out.WriteString(w.text.String())
	}
	w.flushLocked()
	return w.text.String()
}

func (w *StreamWriter) flushLocked() {
	_ = w.out.Flush()
	w.pending = 0
	w.lastFlush = time.Now()
}

func (w *StreamWriter) backgroundFlusher() {
	defer close(w.done)
	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.mu.Lock()
			if w.pending > 0 && time.Since(w.lastFlush) >= w.flushInterval {
				w.flushLocked()
			}
			w.mu.Unlock()
		}
	}
}
