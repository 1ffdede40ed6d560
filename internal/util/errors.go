package util

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidSubmission = errors.New("invalid submission")
	ErrAttemptsExhausted = errors.New("quiz attempts exhausted")
	ErrPersistenceFailed = errors.New("persistence failed")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrInvalidInput      = errors.New("invalid input")

	ErrLessonNotFound  = fmt.Errorf("lesson %w", ErrNotFound)
	ErrQuizNotFound    = fmt.Errorf("quiz %w", ErrNotFound)
	ErrSubjectNotFound = fmt.Errorf("subject %w", ErrNotFound)
	ErrStudentNotFound = fmt.Errorf("student %w", ErrNotFound)

	ErrQuestionNotFound     = fmt.Errorf("%w: question not found in quiz", ErrInvalidSubmission)
	ErrQuizAlreadySubmitted = fmt.Errorf("%w: quiz already submitted", ErrInvalidSubmission)

	ErrLessonNotRetryable = errors.New("only failed lessons can be retried")
	ErrLessonNotReady     = errors.New("lesson content is not available yet")
)
