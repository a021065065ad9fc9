package errors

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalid        = errors.New("invalid")
	ErrConflict       = errors.New("conflict")
	ErrInternal       = errors.New("internal")
	ErrPermanentInput = errors.New("permanent input error")
	ErrUnparseable    = errors.New("unparseable input")
	ErrTransient      = errors.New("transient external error")
	ErrCorruptedBlob  = errors.New("stored blob corrupted")
	ErrUnavailable    = errors.New("service unavailable")
)

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsPermanent reports whether err must not be retried: the input itself
// is bad, or a blob we already stored came back corrupted.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanentInput) ||
		errors.Is(err, ErrUnparseable) ||
		errors.Is(err, ErrCorruptedBlob)
}
