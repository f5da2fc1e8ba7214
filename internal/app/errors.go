package app

import (
	"fmt"
	"net/http"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func errValidation(message string, details any) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, details)
}

// errPermissionDenied carries a fixed message so a denial never confirms that
// a specific record exists.
func errPermissionDenied() *DomainError {
	return domainError(http.StatusForbidden, "PERMISSION_DENIED", "Permission denied", nil)
}

func errNotFound() *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func errUnavailable(message string) *DomainError {
	return domainError(http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", message, nil)
}
