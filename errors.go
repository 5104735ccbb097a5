package treecall

import (
	"github.com/pkg/errors"

	"github.com/outofforest/treecall/wire"
)

// Call-level errors.
var (
	// ErrTimeout is returned when response did not arrive in time.
	ErrTimeout = errors.New("call timed out")

	// ErrConnection is returned when request could not be sent.
	ErrConnection = errors.New("connection error")

	// ErrUnknownMethod is reported when no operation is bound to the code.
	ErrUnknownMethod = errors.New("unknown method")

	// ErrParameter is returned by operations receiving invalid arguments.
	ErrParameter = errors.New("parameter error")

	// ErrSequence is reported when response does not match any pending call.
	ErrSequence = errors.New("sequence error")

	// ErrOperation is reported when operation failed on the server.
	ErrOperation = errors.New("operation failed")
)

var exceptions = []struct {
	Code uint32
	Err  error
}{
	{Code: wire.CodeTimeout, Err: ErrTimeout},
	{Code: wire.CodeUnknownMethod, Err: ErrUnknownMethod},
	{Code: wire.CodeParameterError, Err: ErrParameter},
	{Code: wire.CodeConnectionError, Err: ErrConnection},
	{Code: wire.CodeSequenceError, Err: ErrSequence},
	{Code: wire.CodeDecodeError, Err: wire.ErrDecode},
	{Code: wire.CodeOperationError, Err: ErrOperation},
}

// exceptionCode returns code reporting the error to the remote caller.
func exceptionCode(err error) uint32 {
	for _, e := range exceptions {
		if errors.Is(err, e.Err) {
			return e.Code
		}
	}
	return wire.CodeOperationError
}

// exceptionError converts exception response to error. Cursor must point to the payload.
func exceptionError(resp *wire.Message) error {
	err := ErrOperation
	for _, e := range exceptions {
		if e.Code == resp.Code() {
			err = e.Err
			break
		}
	}

	if resp.Remaining() > 0 {
		if text, decodeErr := resp.ReadString(); decodeErr == nil && text != "" {
			return errors.Wrap(err, "remote: "+text)
		}
	}
	return errors.WithStack(err)
}
