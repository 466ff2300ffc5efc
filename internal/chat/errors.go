package chat

import (
	"errors"
	"fmt"

	"github.com/dmchat/internal/storage"
)

var (
	// ErrValidation: вход отклонён до любой записи.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound совпадает с ошибкой хранилища, errors.Is работает на обоих уровнях.
	ErrNotFound = storage.ErrNotFound
	// ErrRoomNotFound: комнаты с таким id нет.
	ErrRoomNotFound = fmt.Errorf("room %w", ErrNotFound)
	// ErrNotParticipant: пользователь не участник комнаты (кроме лобби).
	ErrNotParticipant = fmt.Errorf("participant %w", ErrNotFound)
	// ErrMessageNotFound: в комнате нет сообщения с таким id.
	ErrMessageNotFound = fmt.Errorf("message %w", ErrNotFound)
)

// ValidationError: ошибка валидации с указанием поля.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Reason
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// notFound подменяет ErrNotFound хранилища на причину уровня чата, остальные ошибки не трогает.
func notFound(err, cause error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return cause
	}
	return err
}

func isValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
