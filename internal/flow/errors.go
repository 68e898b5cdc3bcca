package flow

import "fmt"

// FetchError is returned by Start when the question bank cannot be loaded.
type FetchError struct {
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch questions: %v", e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ValidationRejectedError is returned by Submit when the backend answered ok:false.
type ValidationRejectedError struct {
	QuestionID string
	Hint       string
}

func (e *ValidationRejectedError) Error() string {
	return fmt.Sprintf("answer to %q rejected: %s", e.QuestionID, e.Hint)
}
