package llm

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// errStreamAborted marks errors returned by a caller's onChunk callback so the
// circuit breaker does not count them as provider failures.
var errStreamAborted = errors.New("stream aborted by consumer")

type abortError struct{ err error }

func (e *abortError) Error() string        { return e.err.Error() }
func (e *abortError) Unwrap() error        { return e.err }
func (e *abortError) Is(target error) bool { return target == errStreamAborted }

// unwrapAbort returns the consumer's original error if err carries one.
func unwrapAbort(err error) error {
	var ae *abortError
	if errors.As(err, &ae) {
		return ae.err
	}
	return err
}

// deliver forwards a non-empty delta to the consumer.
func deliver(onChunk func(string) error, text string) error {
	if text == "" {
		return nil
	}
	if err := onChunk(text); err != nil {
		return &abortError{err: err}
	}
	return nil
}

const maxStreamLine = 1 << 20

// readSSE calls fn with the payload of every "data:" line of a
// server-sent-events body. fn returning io.EOF ends the stream cleanly.
func readSSE(body io.Reader, fn func(event, data string) error) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStreamLine)

	event := ""
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			event = ""
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if err := fn(event, data); err != nil {
				if errors.Is(err, io.EOF) {
					return nil
				}
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read event stream: %w", err)
	}
	return nil
}

// readNDJSON calls fn with every non-empty line of a newline-delimited JSON body.
// fn returning io.EOF ends the stream cleanly.
func readNDJSON(body io.Reader, fn func(line []byte) error) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStreamLine)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read stream: %w", err)
	}
	return nil
}

// statusError builds the error for a non-200 provider response.
func statusError(provider string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("%s returned status %d: %s", provider, resp.StatusCode, string(body))
}
