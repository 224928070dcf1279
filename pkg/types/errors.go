package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies bridge failures. The string values travel over the wire.
type ErrorKind string

const (
	KindModelLoad        ErrorKind = "ModelLoadError"
	KindAssetNotFound    ErrorKind = "AssetNotFoundError"
	KindInvalidHandle    ErrorKind = "InvalidHandle"
	KindVisionNotEnabled ErrorKind = "VisionNotEnabled"
	KindImageDecode      ErrorKind = "ImageDecodeError"
	KindInference        ErrorKind = "InferenceError"
	KindNoModelLoaded    ErrorKind = "NoModelLoaded"
)

// Error is the typed failure returned by every bridge operation.
type Error struct {
	Kind    ErrorKind
	Message string
	Handle  Handle
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Handle > 0 {
		msg = fmt.Sprintf("%s (handle %d)", msg, e.Handle)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds an *Error of the given kind.
func NewError(kind ErrorKind, h Handle, msg string, cause error) *Error {
	return &Error{Kind: kind, Handle: h, Message: msg, Err: cause}
}

// ErrInvalidHandle reports an unknown or released handle.
func ErrInvalidHandle(h Handle) error {
	return &Error{Kind: KindInvalidHandle, Handle: h, Message: "invalid handle"}
}

// ErrVisionNotEnabled reports an image supplied to a model without vision.
func ErrVisionNotEnabled(h Handle) error {
	return &Error{Kind: KindVisionNotEnabled, Handle: h, Message: "vision modality is not enabled"}
}

// ErrNoModelLoaded reports a generation attempted before any model is ready.
var ErrNoModelLoaded = &Error{Kind: KindNoModelLoaded, Message: "no model loaded"}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool { return err != nil && KindOf(err) == kind }

func IsModelLoad(err error) bool        { return IsKind(err, KindModelLoad) }
func IsAssetNotFound(err error) bool    { return IsKind(err, KindAssetNotFound) }
func IsInvalidHandle(err error) bool    { return IsKind(err, KindInvalidHandle) }
func IsVisionNotEnabled(err error) bool { return IsKind(err, KindVisionNotEnabled) }
func IsImageDecode(err error) bool      { return IsKind(err, KindImageDecode) }
func IsInference(err error) bool        { return IsKind(err, KindInference) }
func IsNoModelLoaded(err error) bool    { return IsKind(err, KindNoModelLoaded) }
