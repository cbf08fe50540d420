package httpapi

import "net/http"

// Result 管理接口统一响应. Failures carry one of the Result* codes below so
// staff tools can tell a bad query from an unreachable record store.
type Result[T any] struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
	Result  T      `json:"result"`
}

const (
	ResultSuccess = 2000

	// ResultBadRequest: a query parameter could not be parsed.
	ResultBadRequest = 4001
	// ResultStoreUnavailable: the record store could not be read.
	ResultStoreUnavailable = 5001
	// ResultExportFailed: the records were read but the workbook could not be built.
	ResultExportFailed = 5002
)

func Ok[T any](result T) Result[T] {
	return Result[T]{Code: ResultSuccess, Type: "success", Message: "ok", Result: result}
}

func Fail(code int, message string) Result[any] {
	return Result[any]{Code: code, Type: "error", Message: message}
}

// statusFor maps a failure code to the HTTP status it is served with.
func statusFor(code int) int {
	switch code {
	case ResultBadRequest:
		return http.StatusBadRequest
	case ResultStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeFail(w http.ResponseWriter, code int, message string) {
	writeJSON(w, statusFor(code), Fail(code, message))
}
