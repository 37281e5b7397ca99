package rpc

import "encoding/json"

// jsonCodec implements grpc/encoding.Codec over plain JSON so the RPC
// surface needs no protoc step: every message above is a plain Go
// struct with json tags, and grpc.ForceServerCodec/ForceCodec wire this
// codec in on both ends instead of the default proto codec.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string { return "json" }

// Codec is the shared jsonCodec instance; the server registers it via
// grpc.ForceServerCodec(Codec), clients via grpc.ForceCodec(Codec).
var Codec = jsonCodec{}
