package build

import (
	"fmt"
)

// ErrorKind says which step of the stage failed; callers (and exit
// statuses) discriminate on it.
type ErrorKind string

const (
	KindBuild   ErrorKind = "build-failure"
	KindTest    ErrorKind = "test-failure"
	KindScan    ErrorKind = "blocking-scan-failure"
	KindPublish ErrorKind = "publish-failure"
)

// Error is a stage failure attributed to a step.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Err)
}

// Kind extracts the failure kind, or "" for errors from elsewhere.
func Kind(err error) ErrorKind {
	if berr, ok := err.(*Error); ok {
		return berr.Kind
	}
	return ""
}
