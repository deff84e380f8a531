package dispatch

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/kessig/switchboard/contract"
	"github.com/kessig/switchboard/wire"
)

// RouteNotFoundError reports that no endpoint in the contract matched the
// request. Terminal for the request; never retried by the engine.
type RouteNotFoundError struct {
	Method string
	Path   string
}

func (e *RouteNotFoundError) Error() string {
	return fmt.Sprintf("dispatch: no endpoint for %s %s", e.Method, e.Path)
}

// RequestValidationError reports a request-phase schema mismatch. The
// handler is never invoked when one of these occurs.
//
// Field names which part of the request failed: "params", "query",
// "headers", or "body".
type RequestValidationError struct {
	Field  string
	Issues []contract.Issue
}

func (e *RequestValidationError) Error() string {
	return fmt.Sprintf("dispatch: invalid request %s (%d issues)", e.Field, len(e.Issues))
}

// ResponseContractError reports that a handler returned a body that fails
// its own declared response schema. This is a server-side fault, not a
// client error: the engine surfaces it and does not attempt repair.
type ResponseContractError struct {
	Status int
	Issues []contract.Issue
}

func (e *ResponseContractError) Error() string {
	return fmt.Sprintf("dispatch: response for status %d violates contract (%d issues)", e.Status, len(e.Issues))
}

// MessageValidationError reports an inbound message-transport envelope with
// an unknown type or an invalid payload. It never closes the connection.
type MessageValidationError struct {
	Type   string
	Issues []contract.Issue
}

func (e *MessageValidationError) Error() string {
	return fmt.Sprintf("dispatch: invalid message %q (%d issues)", e.Type, len(e.Issues))
}

// writeJSON writes v as a JSON body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeNotFound(w http.ResponseWriter, err *RouteNotFoundError) {
	writeJSON(w, http.StatusNotFound, wire.ErrorBody{
		Error:   "Not Found",
		Message: fmt.Sprintf("no endpoint for %s %s", err.Method, err.Path),
	})
}

func writeValidationFailure(w http.ResponseWriter, err *RequestValidationError) {
	writeJSON(w, http.StatusBadRequest, wire.ErrorBody{
		Error:  "Validation Error",
		Field:  err.Field,
		Issues: err.Issues,
	})
}

func writeResponseViolation(w http.ResponseWriter, err *ResponseContractError) {
	writeJSON(w, http.StatusInternalServerError, wire.ErrorBody{
		Error:   "Response Contract Violation",
		Message: fmt.Sprintf("handler response for status %d does not match its declared schema", err.Status),
		Issues:  err.Issues,
	})
}

func writeServerFault(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusInternalServerError, wire.ErrorBody{
		Error:   "Internal Server Error",
		Message: message,
	})
}
