// Copyright 2025 The AgentVault Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/go-json-experiment/json"

	a2a "github.com/ruFFaa/agentvault"
)

// SSEParser decodes a line-oriented Server-Sent-Event stream into typed
// protocol events. It is independent of the transport: any io.Reader that
// yields the raw stream bytes will do.
//
// Frames accumulate `event:` and `data:` lines until a blank line; `data:`
// may span multiple lines, joined with a newline. Comment lines and the
// `id:`/`retry:` fields are ignored. Unknown event names are logged and
// skipped. A frame named `error` decodes into [a2a.StreamError] and is
// returned as an error rather than yielded.
type SSEParser struct {
	r      *bufio.Reader
	logger *slog.Logger
	source string
}

// NewSSEParser creates a parser over r. source names the stream origin for
// error reporting and may be empty.
func NewSSEParser(r io.Reader, source string, logger *slog.Logger) *SSEParser {
	if logger == nil {
		logger = slog.Default()
	}
	return &SSEParser{
		r:      bufio.NewReader(r),
		logger: logger,
		source: source,
	}
}

// sseFrame is one accumulated event frame.
type sseFrame struct {
	name string
	data []string
}

func (f *sseFrame) empty() bool {
	return f.name == "" && len(f.data) == 0
}

// Next returns the next typed event from the stream. It returns io.EOF on
// clean stream end, *ConnectionError when the stream drops (including
// mid-frame, discarding the partial frame), and *MessageError when a
// recognized frame fails to decode. An in-band `event: error` frame is
// returned as the client error type its kind names, wrapping the decoded
// [a2a.StreamError].
func (p *SSEParser) Next() (a2a.Event, error) {
	var frame sseFrame

	for {
		line, err := p.r.ReadString('\n')
		if err != nil {
			if err == io.EOF && frame.empty() && line == "" {
				return nil, io.EOF
			}
			// Partial frames are dropped, never half-decoded.
			return nil, &ConnectionError{
				Operation: "read event stream",
				URL:       p.source,
				Err:       err,
			}
		}

		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			if frame.empty() {
				continue
			}
			ev, err, skip := p.decodeFrame(&frame)
			if skip {
				frame = sseFrame{}
				continue
			}
			return ev, err

		case strings.HasPrefix(line, ":"):
			// Heartbeat comment.
			continue

		case strings.HasPrefix(line, "event:"):
			frame.name = strings.TrimSpace(line[len("event:"):])

		case strings.HasPrefix(line, "data:"):
			frame.data = append(frame.data, trimFieldValue(line[len("data:"):]))

		case strings.HasPrefix(line, "id:"), strings.HasPrefix(line, "retry:"):
			// Not used by this protocol.

		default:
			p.logger.Debug("ignoring malformed SSE line", slog.String("line", line))
		}
	}
}

// decodeFrame turns one complete frame into a typed event. skip is true
// for frames the consumer should never see (unknown event names).
func (p *SSEParser) decodeFrame(frame *sseFrame) (ev a2a.Event, err error, skip bool) {
	data := strings.Join(frame.data, "\n")

	if frame.name == string(a2a.ErrorEventKind) {
		var streamErr a2a.StreamError
		if jerr := json.Unmarshal([]byte(data), &streamErr); jerr != nil {
			return nil, &MessageError{Reason: "decode error frame", Err: jerr}, false
		}
		return nil, p.streamError(&streamErr), false
	}

	ev, derr := a2a.DecodeEvent(a2a.EventKind(frame.name), []byte(data))
	if derr != nil {
		var unknown *a2a.UnknownEventKindError
		if errors.As(derr, &unknown) {
			p.logger.Warn("skipping unknown SSE event",
				slog.String("event", frame.name),
				slog.String("source", p.source))
			return nil, nil, true
		}
		return nil, &MessageError{Reason: "decode " + frame.name + " event", Err: derr}, false
	}
	return ev, nil, false
}

// streamError maps an in-band error frame onto the client error type its
// kind names, so consumers match in-band failures with the same errors.As
// targets as transport-level ones. The frame stays reachable via Unwrap;
// unrecognized kinds surface as the raw StreamError.
func (p *SSEParser) streamError(streamErr *a2a.StreamError) error {
	switch streamErr.Kind {
	case "RemoteAgentError":
		return &RemoteAgentError{Code: streamErr.Code, Message: streamErr.Message, Err: streamErr}
	case "ConnectionError":
		return &ConnectionError{Operation: "read event stream", URL: p.source, Err: streamErr}
	case "AuthenticationError":
		return &AuthenticationError{Reason: streamErr.Message, Err: streamErr}
	case "TimeoutError":
		return &TimeoutError{Operation: "read event stream", Err: streamErr}
	case "MessageError":
		return &MessageError{Reason: streamErr.Message, Err: streamErr}
	default:
		return streamErr
	}
}

// trimFieldValue strips the single optional leading space after an SSE
// field colon, preserving any further whitespace in the value.
func trimFieldValue(v string) string {
	return strings.TrimPrefix(v, " ")
}
