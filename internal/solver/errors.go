package solver

// ChallengeError means the solver service accepted the request but could
// not produce a solution: the task was rejected, failed, or returned an
// unusable result.
type ChallengeError struct {
	Message string
}

// NewChallengeError creates a ChallengeError.
func NewChallengeError(message string) *ChallengeError {
	return &ChallengeError{Message: message}
}

func (e *ChallengeError) Error() string {
	return e.Message
}

// ConnectionError wraps a transport or protocol failure while talking to
// the solver API.
type ConnectionError struct {
	Message string
	Err     error
}

// NewConnectionError creates a ConnectionError wrapping err. A nil err is
// allowed for API-level failures with no underlying cause.
func NewConnectionError(message string, err error) *ConnectionError {
	return &ConnectionError{Message: message, Err: err}
}

func (e *ConnectionError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// TimeoutError means a task did not reach a terminal state within the
// wait budget, or the caller's context expired first.
type TimeoutError struct {
	Message string
}

// NewTimeoutError creates a TimeoutError.
func NewTimeoutError(message string) *TimeoutError {
	return &TimeoutError{Message: message}
}

func (e *TimeoutError) Error() string {
	return e.Message
}
