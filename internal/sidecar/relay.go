package sidecar

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// maxLineBytes bounds a single relayed line.
const maxLineBytes = 1024 * 1024

// Stream identifies which output channel a line came from.
type Stream string

// Output streams of a sidecar.
const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// Sink receives relayed output lines.
type Sink interface {
	Line(tag string, stream Stream, line string)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(tag string, stream Stream, line string)

// Line calls f.
func (f SinkFunc) Line(tag string, stream Stream, line string) {
	f(tag, stream, line)
}

// Relay drains the output streams of one process into a Sink. It owns
// nothing: it never kills or waits the process and ends on its own when
// both streams reach end of input.
type Relay struct {
	tag  string
	sink Sink
	done chan struct{}
}

// StartRelay begins forwarding p's stdout and stderr lines to sink, tagged
// with tag. It returns immediately.
func StartRelay(p Process, tag string, sink Sink) *Relay {
	r := &Relay{
		tag:  tag,
		sink: sink,
		done: make(chan struct{}),
	}

	var wg sync.WaitGroup

	wg.Go(func() { r.drain(StreamStdout, p.Stdout()) })
	wg.Go(func() { r.drain(StreamStderr, p.Stderr()) })

	go func() {
		wg.Wait()
		close(r.done)
	}()

	return r
}

// Done is closed after both streams have been drained. The sink is never
// called after Done is closed.
func (r *Relay) Done() <-chan struct{} {
	return r.done
}

func (r *Relay) drain(stream Stream, reader io.Reader) {
	if reader == nil {
		return
	}

	if closer, ok := reader.(io.Closer); ok {
		defer closer.Close()
	}

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for scanner.Scan() {
		if r.sink != nil {
			r.sink.Line(r.tag, stream, scanner.Text())
		}
	}

	if err := scanner.Err(); err != nil {
		slog.Default().Debug(
			"sidecar output relay stopped scanning",
			slog.String("component", "sidecar"),
			slog.String("sidecar.tag", r.tag),
			slog.String("sidecar.stream", string(stream)),
			slog.String("error", err.Error()),
		)

		// Keep the pipe drained so the child never blocks on a full buffer.
		_, _ = io.Copy(io.Discard, reader)
	}
}

// ConsoleSink writes lines to the host's standard streams, prefixed with the
// process tag, routing each line to the stream it came from.
type ConsoleSink struct {
	Stdout io.Writer
	Stderr io.Writer

	mu sync.Mutex
}

// NewConsoleSink returns a ConsoleSink bound to os.Stdout and os.Stderr.
func NewConsoleSink() *ConsoleSink {
	return &ConsoleSink{Stdout: os.Stdout, Stderr: os.Stderr}
}

// Line writes "[tag] line" to the matching host stream.
func (s *ConsoleSink) Line(tag string, stream Stream, line string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.Stdout
	if stream == StreamStderr {
		w = s.Stderr
	}

	if w == nil {
		return
	}

	fmt.Fprintf(w, "[%s] %s\n", tag, line)
}

// LogSink records each line as a structured debug log entry.
type LogSink struct {
	Logger *slog.Logger
}

// Line logs the line.
func (s LogSink) Line(tag string, stream Stream, line string) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	logger.Debug(
		line,
		slog.String("component", "sidecar"),
		slog.String("event.type", "sidecar.output"),
		slog.String("sidecar.tag", tag),
		slog.String("sidecar.stream", string(stream)),
	)
}

// MultiSink fans each line out to every non-nil sink in order.
type MultiSink []Sink

// Line forwards the line to all sinks.
func (m MultiSink) Line(tag string, stream Stream, line string) {
	for _, s := range m {
		if s != nil {
			s.Line(tag, stream, line)
		}
	}
}
