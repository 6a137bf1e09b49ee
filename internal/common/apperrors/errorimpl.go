package apperrors

// appError is the single implementation of Error.
//
// Sentinels are built once with New/SetStatusCode and shared package-wide,
// so the call-site methods (Msg, MsgErr, Err, Prefix, Suffix) operate on a
// copy that keeps the receiver as its base. errors.Is still matches the
// sentinel through the base chain.
type appError struct {
	msg           string
	base          Error
	wrappedErrors []error
	statuscode    int
	expandError   bool
	prefix        string
	suffix        string
}

func (e *appError) Error() string {
	msg := e.msg
	if e.prefix != "" {
		msg = e.prefix + ": " + msg
	}
	if e.suffix != "" {
		msg += ": " + e.suffix
	}
	return msg
}

// ErrorAll renders the message along with every wrapped cause when
// expansion has been enabled on the error.
func (e *appError) ErrorAll() string {
	if !e.expandError || len(e.wrappedErrors) == 0 {
		return e.Error()
	}
	msg := ""
	for _, err := range e.wrappedErrors {
		msg += err.Error() + "; "
	}
	return e.Error() + ": " + msg[:len(msg)-2]
}

func (e *appError) Unwrap() []error {
	return e.wrappedErrors
}

func (e *appError) derive() *appError {
	return &appError{
		msg:         e.msg,
		base:        e,
		statuscode:  e.statuscode,
		expandError: e.expandError,
		prefix:      e.prefix,
		suffix:      e.suffix,
	}
}

// New derives a more specific sentinel keeping this error as its base.
func (e *appError) New(msg string) Error {
	d := e.derive()
	d.msg = msg
	return d
}

func (e *appError) Msg(msg string) Error {
	d := e.derive()
	d.msg = msg
	return d
}

func (e *appError) Prefix(prefix string) Error {
	d := e.derive()
	d.prefix = prefix
	return d
}

func (e *appError) Suffix(suffix string) Error {
	d := e.derive()
	d.suffix = suffix
	return d
}

func (e *appError) MsgErr(msg string, err ...error) Error {
	d := e.derive()
	d.msg = msg
	d.wrappedErrors = append(d.wrappedErrors, err...)
	return d
}

func (e *appError) Err(err ...error) Error {
	d := e.derive()
	d.wrappedErrors = append(d.wrappedErrors, err...)
	return d
}

func (e *appError) Is(target error) bool {
	if e == target || e.base == target {
		return true
	}
	if e.base != nil && e.base.Is(target) {
		return true
	}
	for _, err := range e.wrappedErrors {
		if err == target {
			return true
		}
	}
	return false
}

func (e *appError) SetExpandError(expand bool) Error {
	e.expandError = expand
	return e
}

func (e *appError) SetStatusCode(code int) Error {
	e.statuscode = code
	return e
}

func (e *appError) StatusCode() int {
	return e.statuscode
}

func New(msg string) Error {
	return &appError{msg: msg}
}
