package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/go-playground/validator/v10"
)

var ErrPayloadRejected = errors.New("payload does not match contract")

// Contract valida un payload crudo contra una versión concreta del esquema.
type Contract interface {
	Validate(payload []byte) error
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

// StructContract usa un struct Go como descripción del esquema: los campos
// desconocidos se rechazan y las reglas `validate:"..."` se aplican tras decodificar.
type StructContract[T any] struct{}

// ContractFor construye el contrato asociado al tipo T.
func ContractFor[T any]() Contract {
	return StructContract[T]{}
}

func (StructContract[T]) Validate(payload []byte) error {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()

	var v T
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("%w: %v", ErrPayloadRejected, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: trailing data after object", ErrPayloadRejected)
	}
	if err := structValidator().Struct(&v); err != nil {
		return fmt.Errorf("%w: %v", ErrPayloadRejected, err)
	}
	return nil
}

// ContractFunc adapta una función a Contract.
type ContractFunc func(payload []byte) error

func (f ContractFunc) Validate(payload []byte) error { return f(payload) }
