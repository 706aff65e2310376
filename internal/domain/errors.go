package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies lifecycle engine failures so callers can branch on them.
type ErrorKind string

const (
	KindNotKnown               ErrorKind = "NOT_KNOWN"
	KindStatusNotSupported     ErrorKind = "STATUS_NOT_SUPPORTED"
	KindFunctionNotSupported   ErrorKind = "FUNCTION_NOT_SUPPORTED"
	KindTypeError              ErrorKind = "TYPE_ERROR"
	KindConcurrentModification ErrorKind = "CONCURRENT_MODIFICATION"
	KindInvalidParameter       ErrorKind = "INVALID_PARAMETER"
	KindInvalidTransition      ErrorKind = "INVALID_TRANSITION"
	KindNotHome                ErrorKind = "NOT_HOME"
)

// Sentinels matched through errors.Is against any *Error of the same kind.
var (
	ErrNotKnown               = &Error{Kind: KindNotKnown}
	ErrStatusNotSupported     = &Error{Kind: KindStatusNotSupported}
	ErrFunctionNotSupported   = &Error{Kind: KindFunctionNotSupported}
	ErrTypeError              = &Error{Kind: KindTypeError}
	ErrConcurrentModification = &Error{Kind: KindConcurrentModification}
	ErrInvalidParameter       = &Error{Kind: KindInvalidParameter}
	ErrInvalidTransition      = &Error{Kind: KindInvalidTransition}
	ErrNotHome                = &Error{Kind: KindNotHome}
)

// ErrorCode is a catalogue entry describing a failure for operators and callers.
type ErrorCode struct {
	HTTPStatus   int
	MessageID    string
	Message      string
	SystemAction string
	UserAction   string
}

var (
	CodeEntityNotKnown = ErrorCode{
		HTTPStatus:   http.StatusNotFound,
		MessageID:    "METAREPO-404-001",
		Message:      "The entity identified by GUID %s is not known to metadata collection %s",
		SystemAction: "The system is unable to retrieve or change an entity that it does not hold.",
		UserAction:   "Check that the GUID is correct and that the entity has not been purged.",
	}
	CodeRelationshipNotKnown = ErrorCode{
		HTTPStatus:   http.StatusNotFound,
		MessageID:    "METAREPO-404-002",
		Message:      "The relationship identified by GUID %s is not known to metadata collection %s",
		SystemAction: "The system is unable to retrieve or change a relationship that it does not hold.",
		UserAction:   "Check that the GUID is correct and that the relationship has not been purged.",
	}
	CodeStatusNotSupported = ErrorCode{
		HTTPStatus:   http.StatusBadRequest,
		MessageID:    "METAREPO-400-001",
		Message:      "Status %s is not supported for instance %s of type %s",
		SystemAction: "The system rejected the status change and the instance is unchanged.",
		UserAction:   "Use a status from the type's valid statuses. Use the delete operation to delete an instance.",
	}
	CodeFunctionNotSupported = ErrorCode{
		HTTPStatus:   http.StatusNotImplemented,
		MessageID:    "METAREPO-501-001",
		Message:      "Function %s is not supported for instance %s",
		SystemAction: "The repository does not implement the requested function for this type.",
		UserAction:   "Record the capability as unsupported. Use purge in place of soft delete where appropriate.",
	}
	CodeTypeError = ErrorCode{
		HTTPStatus:   http.StatusBadRequest,
		MessageID:    "METAREPO-400-002",
		Message:      "The request does not conform to type %s: %s",
		SystemAction: "The system rejected the request and no instance was changed.",
		UserAction:   "Correct the properties or type reference so they match the type definition.",
	}
	CodeConcurrentModification = ErrorCode{
		HTTPStatus:   http.StatusConflict,
		MessageID:    "METAREPO-409-001",
		Message:      "Instance %s changed to version %d while %s was in progress",
		SystemAction: "The system discarded the request so no update was lost.",
		UserAction:   "Re-read the instance and retry the request if it still applies.",
	}
	CodeInvalidParameter = ErrorCode{
		HTTPStatus:   http.StatusBadRequest,
		MessageID:    "METAREPO-400-003",
		Message:      "Parameter %s is invalid: %s",
		SystemAction: "The system rejected the request.",
		UserAction:   "Correct the parameter and retry.",
	}
	CodeInvalidTransition = ErrorCode{
		HTTPStatus:   http.StatusConflict,
		MessageID:    "METAREPO-409-002",
		Message:      "Operation %s cannot be applied to instance %s in status %s",
		SystemAction: "The system rejected the lifecycle change and the instance is unchanged.",
		UserAction:   "Check the instance status before retrying.",
	}
	CodeNotHome = ErrorCode{
		HTTPStatus:   http.StatusConflict,
		MessageID:    "METAREPO-409-003",
		Message:      "Instance %s is homed in metadata collection %s and cannot be changed by %s",
		SystemAction: "The system rejected a change to a reference copy.",
		UserAction:   "Send the request to the home repository of the instance.",
	}
)

// Error is the error type returned by the lifecycle engine. It carries enough
// context for a caller to decide between retrying and aborting.
type Error struct {
	Kind            ErrorKind
	Code            ErrorCode
	Message         string
	GUID            string
	Operation       string
	CurrentStatus   InstanceStatus
	RequestedStatus InstanceStatus
	CurrentVersion  int64
	Err             error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Code.MessageID != "" {
		msg = e.Code.MessageID + " " + msg
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in the chain, or "" when there is none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsFunctionNotSupported reports whether err is an expected capability outcome
// rather than a failure.
func IsFunctionNotSupported(err error) bool {
	return errors.Is(err, ErrFunctionNotSupported)
}

// EntityNotKnown reports that an entity GUID is absent, purged or tombstoned.
func EntityNotKnown(op, guid, collectionID string) *Error {
	return &Error{
		Kind:      KindNotKnown,
		Code:      CodeEntityNotKnown,
		Message:   fmt.Sprintf(CodeEntityNotKnown.Message, guid, collectionID),
		GUID:      guid,
		Operation: op,
	}
}

// RelationshipNotKnown reports that a relationship GUID is absent, purged or tombstoned.
func RelationshipNotKnown(op, guid, collectionID string) *Error {
	return &Error{
		Kind:      KindNotKnown,
		Code:      CodeRelationshipNotKnown,
		Message:   fmt.Sprintf(CodeRelationshipNotKnown.Message, guid, collectionID),
		GUID:      guid,
		Operation: op,
	}
}

// StatusNotSupported reports a status change the type does not allow.
func StatusNotSupported(op string, header InstanceHeader, requested InstanceStatus) *Error {
	return &Error{
		Kind:            KindStatusNotSupported,
		Code:            CodeStatusNotSupported,
		Message:         fmt.Sprintf(CodeStatusNotSupported.Message, requested, header.GUID, header.Type.Name),
		GUID:            header.GUID,
		Operation:       op,
		CurrentStatus:   header.Status,
		RequestedStatus: requested,
		CurrentVersion:  header.Version,
	}
}

// FunctionNotSupported reports that soft delete or undo is unavailable.
func FunctionNotSupported(op string, header InstanceHeader) *Error {
	return &Error{
		Kind:           KindFunctionNotSupported,
		Code:           CodeFunctionNotSupported,
		Message:        fmt.Sprintf(CodeFunctionNotSupported.Message, op, header.GUID),
		GUID:           header.GUID,
		Operation:      op,
		CurrentStatus:  header.Status,
		CurrentVersion: header.Version,
	}
}

// TypeError reports a conformance failure. cause usually carries the
// validation details.
func TypeError(op, guid string, ref TypeRef, cause error) *Error {
	detail := "invalid"
	if cause != nil {
		detail = cause.Error()
	}
	name := ref.Name
	if name == "" {
		name = ref.GUID
	}
	return &Error{
		Kind:      KindTypeError,
		Code:      CodeTypeError,
		Message:   fmt.Sprintf(CodeTypeError.Message, name, detail),
		GUID:      guid,
		Operation: op,
		Err:       cause,
	}
}

// ConcurrentModification reports that another caller committed first.
func ConcurrentModification(op string, header InstanceHeader, cause error) *Error {
	return &Error{
		Kind:           KindConcurrentModification,
		Code:           CodeConcurrentModification,
		Message:        fmt.Sprintf(CodeConcurrentModification.Message, header.GUID, header.Version, op),
		GUID:           header.GUID,
		Operation:      op,
		CurrentStatus:  header.Status,
		CurrentVersion: header.Version,
		Err:            cause,
	}
}

// InvalidParameter reports a malformed request argument.
func InvalidParameter(op, param, reason string) *Error {
	return &Error{
		Kind:      KindInvalidParameter,
		Code:      CodeInvalidParameter,
		Message:   fmt.Sprintf(CodeInvalidParameter.Message, param, reason),
		Operation: op,
	}
}

// InvalidTransition reports a lifecycle operation that is illegal from the
// instance's current state.
func InvalidTransition(op string, header InstanceHeader) *Error {
	return &Error{
		Kind:           KindInvalidTransition,
		Code:           CodeInvalidTransition,
		Message:        fmt.Sprintf(CodeInvalidTransition.Message, op, header.GUID, header.Status),
		GUID:           header.GUID,
		Operation:      op,
		CurrentStatus:  header.Status,
		CurrentVersion: header.Version,
	}
}

// NotHome reports an attempt to change a reference copy locally.
func NotHome(op string, header InstanceHeader, localCollectionID string) *Error {
	return &Error{
		Kind:           KindNotHome,
		Code:           CodeNotHome,
		Message:        fmt.Sprintf(CodeNotHome.Message, header.GUID, header.MetadataCollectionID, localCollectionID),
		GUID:           header.GUID,
		Operation:      op,
		CurrentStatus:  header.Status,
		CurrentVersion: header.Version,
	}
}
