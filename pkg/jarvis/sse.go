package jarvis

import (
	"bufio"
	"context"
	"io"
	"strings"
)

// sseFrame is one server-sent event: the event name plus the joined data
// lines.
type sseFrame struct {
	event string
	data  string
}

// consumeEventStream reads blank-line-delimited SSE frames and feeds each
// one to the accumulator. Line reassembly happens in the scanner, so the
// frame sequence is identical no matter how the transport chunks the bytes.
func consumeEventStream(ctx context.Context, r io.Reader, acc *accumulator) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var event string
	var data []string

	flush := func() {
		if len(data) == 0 && event == "" {
			return
		}
		acc.consumeFrame(sseFrame{event: event, data: strings.Join(data, "\n")})
		event = ""
		data = nil
	}

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSuffix(scanner.Text(), "\r")

		// Blank line terminates the frame.
		if line == "" {
			flush()
			if acc.done {
				return nil
			}
			continue
		}
		// Lines starting with a colon are comments (keep-alives).
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value := splitSSELine(line)
		switch field {
		case "event":
			event = value
		case "data":
			data = append(data, value)
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}

	// A final frame without a trailing blank line still counts.
	flush()
	return nil
}

// splitSSELine splits "field: value", stripping at most one space after the
// colon per the SSE grammar.
func splitSSELine(line string) (field, value string) {
	i := strings.IndexByte(line, ':')
	if i < 0 {
		return line, ""
	}
	field = line[:i]
	value = line[i+1:]
	value = strings.TrimPrefix(value, " ")
	return field, value
}

// consumeFrame decodes one SSE frame's data and hands it to the
// interpreter. Non-JSON data degrades to raw text instead of aborting the
// stream.
func (a *accumulator) consumeFrame(f sseFrame) {
	if strings.TrimSpace(f.data) == doneSentinel {
		a.done = true
		return
	}
	if f.data == "" {
		// Event-only frame: may still signal completion.
		if isCompletionName(f.event) {
			a.done = true
		}
		return
	}
	a.interpret(decodeLoose(f.data), f.event, 0)
}
