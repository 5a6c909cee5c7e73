package protocol

// Error codes a peer reports in ErrorShape.Code.
const (
	CodeParseError          = -32700
	CodeBadRequest          = -32600
	CodeInternalServerError = -32603
	CodeUnauthorized        = -32001
	CodeNotFound            = -32004
	CodeMethodNotSupported  = -32005
	CodeTimeout             = -32008
)

var codeNames = map[int]string{
	CodeParseError:          "PARSE_ERROR",
	CodeBadRequest:          "BAD_REQUEST",
	CodeInternalServerError: "INTERNAL_SERVER_ERROR",
	CodeUnauthorized:        "UNAUTHORIZED",
	CodeNotFound:            "NOT_FOUND",
	CodeMethodNotSupported:  "METHOD_NOT_SUPPORTED",
	CodeTimeout:             "TIMEOUT",
}

// CodeName returns the symbolic name of code, or "" if it is not a known code.
func CodeName(code int) string {
	return codeNames[code]
}
