package domain

import "errors"

var (
	// ErrInvalidArgument agrupa los rechazos de ingesta (campos, esquema, prioridad).
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrStorage indica que el sistema de registro no aceptó la escritura o lectura.
	ErrStorage = errors.New("storage unavailable")
	// ErrEnvelopeNotPending: el sobre no existe o ya estaba publicado.
	ErrEnvelopeNotPending = errors.New("outbox envelope not found or already published")
)
