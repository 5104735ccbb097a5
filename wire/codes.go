package wire

// Code ranges. Codes below MutationBase are function calls, codes in [MutationBase, PushBase)
// mutate state trees, codes in [PushBase, ExceptionBase) are sent by server only and
// codes from ExceptionBase up report failures.
const (
	MutationBase  uint32 = 1000
	PushBase      uint32 = 10000
	ExceptionBase uint32 = 20000
)

// Exception codes.
const (
	CodeTimeout uint32 = ExceptionBase + iota
	CodeUnknownMethod
	CodeParameterError
	CodeConnectionError
	CodeSequenceError
	CodeDecodeError
	CodeOperationError
)

// IsCall reports whether code is a function call.
func IsCall(code uint32) bool {
	return code > 0 && code < MutationBase
}

// IsMutation reports whether code is a state mutation request.
func IsMutation(code uint32) bool {
	return code >= MutationBase && code < PushBase
}

// IsPush reports whether code is a server-to-client notification.
func IsPush(code uint32) bool {
	return code >= PushBase && code < ExceptionBase
}

// IsException reports whether code reports a failure.
func IsException(code uint32) bool {
	return code >= ExceptionBase
}
