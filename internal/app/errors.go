package app

import "fmt"

// DomainError is a service-layer error that maps directly onto the HTTP error
// envelope: Status becomes the response code and Code/Message/Details the
// body. Anything the service returns that is not a DomainError (or a missing
// row) surfaces as a 500.
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

// domainError is shorthand for the validation and not-found errors the
// service raises; details carries optional client-facing context such as the
// list of allowed values.
func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}
