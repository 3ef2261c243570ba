// Package errors provides standardized error codes for the caching subsystem.
package errors

// ErrorCode represents a unique error code for specific error scenarios
type ErrorCode string

const (
	// Caller/programmer errors. These are the only codes surfaced to callers.
	CodeInvalidCursor   ErrorCode = "INVALID_CURSOR"
	CodeInvalidCacheKey ErrorCode = "INVALID_CACHE_KEY"
	CodeInvalidBatchKey ErrorCode = "INVALID_BATCH_KEY"
	CodeInvalidPage     ErrorCode = "INVALID_PAGE"
	CodeUnknownDataType ErrorCode = "UNKNOWN_DATA_TYPE"

	// Infrastructure errors. Logged and counted, never returned from cache reads.
	CodeRemoteUnavailable ErrorCode = "REMOTE_UNAVAILABLE"
	CodeRemoteTimeout     ErrorCode = "REMOTE_TIMEOUT"
	CodePayloadEncode     ErrorCode = "PAYLOAD_ENCODE"
	CodePayloadDecode     ErrorCode = "PAYLOAD_DECODE"
	CodeTypeTagMismatch   ErrorCode = "TYPE_TAG_MISMATCH"
	CodeEntryTooLarge     ErrorCode = "ENTRY_TOO_LARGE"
)

// String returns the string representation of the error code
func (c ErrorCode) String() string {
	return string(c)
}
