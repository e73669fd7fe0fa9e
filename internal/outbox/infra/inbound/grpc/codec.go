package grpc

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// CodecName es el content-subtype de las llamadas: application/grpc+json.
const CodecName = "json"

// jsonCodec permite servir el contrato de ingesta sin código generado.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }

func (jsonCodec) Name() string { return CodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
