package domain

import "errors"

// Ошибки предметной области. Вызывающий код проверяет их через errors.Is.
var (
	// Ошибки ввода
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")

	// Нарушения правил истории
	ErrNotYourTurn      = errors.New("not your turn")
	ErrAlreadyFinished  = errors.New("story is already finished")
	ErrSelfJoin         = errors.New("cannot join your own story")
	ErrAlreadyPartnered = errors.New("story already has a partner")
	ErrMismatchedBranch = errors.New("branches do not belong to the same prompt")
	ErrInvalidCode      = errors.New("invalid session code")

	// Инфраструктурные ошибки
	ErrPersistence    = errors.New("persistence error")
	ErrCodeExhaustion = errors.New("unable to allocate a unique session code")
	ErrTimeout        = errors.New("operation timed out")
	ErrConflict       = errors.New("conflicting concurrent write")

	// Общие
	ErrNotFound  = errors.New("resource not found")
	ErrForbidden = errors.New("forbidden")
)

// IsRejection reports whether err is a domain rule violation. Такие ошибки не повторяются.
func IsRejection(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrConfiguration) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrAlreadyFinished) ||
		errors.Is(err, ErrNotYourTurn) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrSelfJoin) ||
		errors.Is(err, ErrAlreadyPartnered) ||
		errors.Is(err, ErrMismatchedBranch) ||
		errors.Is(err, ErrInvalidCode) ||
		errors.Is(err, ErrConflict)
}
