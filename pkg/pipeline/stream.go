package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/polisai/kvcopy/pkg/domain"
)

const maxLineSize = 4 * 1024 * 1024

// LineError reports an entry that could not be decoded or processed.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

// StreamStats summarises a Run.
type StreamStats struct {
	Entries int
	Failed  int
}

// Run reads one JSON object per line from in, processes it and writes the
// result to out as one JSON object per line. Blank lines are ignored. Each
// entry is written as soon as it is processed, and Run returns ctx.Err() when
// ctx is cancelled even if in is still open.
//
// Lines that are not JSON objects are reported through onError and skipped;
// a nil onError aborts the run on the first bad line instead.
func (r *Runner) Run(ctx context.Context, in io.Reader, out io.Writer, onError func(*LineError)) (StreamStats, error) {
	var stats StreamStats

	done := make(chan struct{})
	defer close(done)
	lines, readErr := scanLines(in, done)

	encoder := json.NewEncoder(out)
	encoder.SetEscapeHTML(false)

	line := 0
	for {
		var raw []byte
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case next, ok := <-lines:
			if !ok {
				if err := <-readErr; err != nil {
					return stats, fmt.Errorf("read entries: %w", err)
				}
				return stats, nil
			}
			raw = next
		}
		line++

		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 {
			continue
		}

		start := time.Now()
		entry, err := decodeEntry(raw)
		if err == nil {
			entry, err = r.Process(ctx, entry)
		}
		if err != nil {
			stats.Failed++
			lineErr := &LineError{Line: line, Err: err}
			r.recordFailure(err)
			if onError == nil {
				return stats, lineErr
			}
			onError(lineErr)
			continue
		}

		if err := encoder.Encode(entry); err != nil {
			return stats, fmt.Errorf("write entry from line %d: %w", line, err)
		}
		stats.Entries++
		if r.metrics != nil {
			r.metrics.RecordEntry(r.id, "ok", time.Since(start))
		}
	}
}

// scanLines reads in on its own goroutine so a blocked read never delays
// cancellation. The goroutine exits once in ends or done is closed; a read
// still blocked after done is closed returns when in is closed.
func scanLines(in io.Reader, done <-chan struct{}) (<-chan []byte, <-chan error) {
	lines := make(chan []byte)
	readErr := make(chan error, 1)

	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
		for scanner.Scan() {
			raw := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- raw:
			case <-done:
				return
			}
		}
		readErr <- scanner.Err()
	}()
	return lines, readErr
}

func (r *Runner) recordFailure(err error) {
	if r.metrics == nil {
		return
	}
	reason := "process"
	if errors.Is(err, domain.ErrMalformedEntry) {
		reason = "decode"
	}
	r.metrics.RecordEntryError(r.id, reason)
}

func decodeEntry(raw []byte) (domain.Entry, error) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()

	var entry domain.Entry
	if err := decoder.Decode(&entry); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedEntry, err)
	}
	if entry == nil {
		return nil, fmt.Errorf("%w: expected a JSON object", domain.ErrMalformedEntry)
	}
	return entry, nil
}
