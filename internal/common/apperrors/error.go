// Package apperrors defines the error interface used across the storage
// service. Errors form a hierarchy: a sentinel created with New can derive
// more specific sentinels with New, and call sites attach context with Msg
// or wrap underlying causes with Err. errors.Is matches any ancestor in the
// chain, so callers can test against the broad sentinel they care about.
package apperrors

type Error interface {
	Error() string
	ErrorAll() string
	New(msg string) Error
	MsgErr(msg string, err ...error) Error
	Msg(msg string) Error
	Prefix(prefix string) Error
	Suffix(suffix string) Error
	Err(err ...error) Error
	Unwrap() []error
	Is(target error) bool
	SetExpandError(expand bool) Error
	SetStatusCode(code int) Error
	StatusCode() int
}
