package controlplane

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// jsonCodec lets this diagnostic-only service exchange plain Go structs
// over gRPC without a protoc-generated message layer: the service surface
// is small (two RPCs) and internal-tooling-only, so JSON-over-gRPC keeps
// the wire format human-readable for operators without pulling in a
// protobuf toolchain step for this package alone.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return "json" }

// JSONCodec is the codec this service's RPCs are encoded with. Clients
// dialing the service must set it via grpc.ForceCodec(controlplane.JSONCodec).
var JSONCodec = jsonCodec{}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
