package cluster

import (
	"strings"
)

// ResourceError is an apply failure attributed to one resource.
type ResourceError struct {
	ID  string
	Err error
}

// ApplyError collects the resources that failed to apply; resources
// not listed were applied successfully and are left in place.
type ApplyError []ResourceError

func (e ApplyError) Error() string {
	var errs []string
	for _, re := range e {
		errs = append(errs, re.ID+": "+re.Err.Error())
	}
	return strings.Join(errs, "; ")
}
