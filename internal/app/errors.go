package app

import (
	"fmt"
	"net/http"
	"strings"
)

// Message codes are part of the wire contract; clients match on them.
const (
	msgNotFound     = "error.notFound"
	msgPermissions  = "error.permissions"
	msgMissingParam = "error.missingParam"
	msgWriteFailed  = "error.writeFailed"
	msgDuplicate    = "error.duplicate"
	msgNotShared    = "error.notShared"
)

type DomainError struct {
	Status  int
	Message string
	Errors  []string
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	if len(e.Errors) > 0 {
		return fmt.Sprintf("%s: %s", e.Message, strings.Join(e.Errors, "; "))
	}
	return e.Message
}

func errNotFound() *DomainError {
	return &DomainError{Status: http.StatusNotFound, Message: msgNotFound}
}

func errPermissions() *DomainError {
	return &DomainError{Status: http.StatusForbidden, Message: msgPermissions}
}

func errMissingParam(param string) *DomainError {
	return &DomainError{
		Status:  http.StatusBadRequest,
		Message: msgMissingParam,
		Errors:  []string{"Missing " + param + " parameter"},
	}
}

func errWriteFailed(details ...string) *DomainError {
	return &DomainError{
		Status:  http.StatusBadRequest,
		Message: msgWriteFailed,
		Errors:  details,
	}
}

func errDuplicate() *DomainError {
	return &DomainError{Status: http.StatusConflict, Message: msgDuplicate}
}

func errNotShared() *DomainError {
	return &DomainError{
		Status:  http.StatusForbidden,
		Message: msgNotShared,
		Errors:  []string{"Source document is not shared"},
	}
}
