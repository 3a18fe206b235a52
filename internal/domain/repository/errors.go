package repository

import "errors"

var (
	// ErrNotFound indica que no existe credencial (o canal) para el tenant.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyLinked indica que el tenant ya tiene una credencial (1:1).
	ErrAlreadyLinked = errors.New("tenant already has a linked google account")

	// ErrVersionConflict indica que otro writer actualizó la credencial
	// entre la lectura y la escritura (optimistic concurrency).
	ErrVersionConflict = errors.New("credential version conflict")

	// ErrInvalidTransition indica una transición de estado no permitida
	// (ej: salir de REVOKED, que es terminal).
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInvalidInput indica datos de entrada inválidos.
	ErrInvalidInput = errors.New("invalid input")
)

// IsNotFound verifica si el error es ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyLinked verifica si el error es ErrAlreadyLinked.
func IsAlreadyLinked(err error) bool {
	return errors.Is(err, ErrAlreadyLinked)
}
