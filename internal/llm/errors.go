package llm

import "fmt"

// The client surfaces three failure kinds. All of them are recovered into
// tool result text by the dispatcher; none ever reach the transport as a
// protocol fault.

// NetworkError reports that the completion endpoint could not be reached at
// all: DNS failure, connection refused, or the request timeout.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error while calling Perplexity API: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// UpstreamError reports a non-2xx response from the completion endpoint.
type UpstreamError struct {
	Status     int
	StatusText string
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("Perplexity API error: %d %s\n%s", e.Status, e.StatusText, e.Body)
}

// DecodeError reports a 2xx response whose body could not be parsed, or one
// missing the hard-required choices[0].message.content field.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to parse response from Perplexity API: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
