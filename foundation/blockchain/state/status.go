package state

// StatusCode classifies every query API response.
type StatusCode int32

// Response codes.
const (
	Success StatusCode = iota
	Failure
	NotImplemented
	NotFound
	InProgress
)

// Status is the (code, message) pair every response carries.
type Status struct {
	Code    StatusCode `json:"code"`
	Message string     `json:"message"`
}

func ok() Status {
	return Status{Code: Success}
}

func okMsg(msg string) Status {
	return Status{Code: Success, Message: msg}
}

func failure(msg string) Status {
	return Status{Code: Failure, Message: msg}
}

func notFound(msg string) Status {
	return Status{Code: NotFound, Message: msg}
}

func inProgress(msg string) Status {
	return Status{Code: InProgress, Message: msg}
}

// validatePagination enforces the query contract: offset at least zero,
// limit in (0, 100]. Violations fail before any side effect.
func validatePagination(offset, limit int64) bool {
	return offset >= 0 && limit > 0 && limit <= 100
}
