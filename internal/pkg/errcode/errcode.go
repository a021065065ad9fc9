package errcode

const (
	ErrUnknown = 10000000 + iota
	ErrNotFound
	ErrInvalid
	ErrConflict
	ErrTooMany
	ErrInternal
	ErrInvalidFile
	ErrUploadFailed
	ErrParseFailed
	ErrWebhookRejected
)

// apiError carries a business code alongside the message; webapi's
// proxyutil picks the code up through the Code() accessor when it
// renders the envelope.
type apiError struct {
	code uint32
	msg  string
}

func (e *apiError) Error() string {
	return e.msg
}

func (e *apiError) Code() uint32 {
	return e.code
}

func New(code int, msg string) error {
	return &apiError{code: uint32(code), msg: msg}
}
