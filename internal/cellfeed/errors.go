package cellfeed

// errors.go defines the error taxonomy for the adapter.
//
// Only ConfigError escapes as a hard failure, and only at construction time.
// FetchError and ParseError are load-time failures: they are reported through
// the source's logger and surfaced as the Load return value, and the
// previously loaded state stays intact. AddressError never fails a load at
// all; the offending cell is skipped.

import "fmt"

// ConfigError reports invalid construction input, such as a missing feed key.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "cellfeed: invalid config: " + e.Reason
}

// AddressError reports a cell location label that is not one-or-more letters
// followed by one-or-more digits.
type AddressError struct {
	Label string
}

func (e *AddressError) Error() string {
	return fmt.Sprintf("cellfeed: malformed cell address %q", e.Label)
}

// FetchError reports a transport-level failure retrieving the feed: a
// non-success HTTP status, a timeout, or a network error. Status is 0 when
// no HTTP response was received.
type FetchError struct {
	Status  int
	Message string
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("cellfeed: feed fetch failed with status %d: %s", e.Status, e.Message)
	}
	return "cellfeed: feed fetch failed: " + e.Message
}

// ParseError reports a feed payload the XML decoder could not interpret.
// It is handled exactly like a FetchError at the load boundary.
type ParseError struct {
	Message string
}

func (e *ParseError) Error() string {
	return "cellfeed: feed parse failed: " + e.Message
}
