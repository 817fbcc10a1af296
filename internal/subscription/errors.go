package subscription

import "fmt"

// ConnectionError reports a transport failure on the region feed or a
// one-shot read. A handle that reported a ConnectionError delivers nothing
// further and must be replaced by a new Subscribe.
type ConnectionError struct {
	Op  string // "watch" or "fetch"
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("region feed %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// DecodeError reports a region document that could not be decoded. The
// document is skipped; the rest of the snapshot is still delivered.
type DecodeError struct {
	DocumentID string
	Err        error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode region %s: %v", e.DocumentID, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
