package main

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"

	"GebLedger/internal/event"
	"GebLedger/internal/ingestion"
)

// maxLine bounds one JSONL envelope.
const maxLine = 1 << 20

// capturedEvent is one decoded line of a capture file with its raw bytes.
type capturedEvent struct {
	Event event.Event
	Data  []byte
	Line  int
}

func readCaptureFile(path string) ([]capturedEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open capture: %w", err)
	}
	defer f.Close()
	return readCapture(f)
}

// readCapture decodes a JSONL stream of wire envelopes. Blank lines and
// lines starting with # are skipped. The first malformed line fails the
// whole read.
func readCapture(r io.Reader) ([]capturedEvent, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLine)

	var out []capturedEvent
	line := 0
	for scanner.Scan() {
		line++
		data := bytes.TrimSpace(scanner.Bytes())
		if len(data) == 0 || data[0] == '#' {
			continue
		}

		evt, err := ingestion.ParseEvent(data)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, capturedEvent{
			Event: evt,
			Data:  append([]byte(nil), data...),
			Line:  line,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read capture: %w", err)
	}
	return out, nil
}

// sortCapture puts captured events in chain order, keeping each event's
// raw bytes attached.
func sortCapture(captured []capturedEvent) []capturedEvent {
	events := make([]event.Event, len(captured))
	byEvent := make(map[event.Event]capturedEvent, len(captured))
	for i, c := range captured {
		events[i] = c.Event
		byEvent[c.Event] = c
	}

	ingestion.SortByChainOrder(events)

	sorted := make([]capturedEvent, len(events))
	for i, evt := range events {
		sorted[i] = byEvent[evt]
	}
	return sorted
}
