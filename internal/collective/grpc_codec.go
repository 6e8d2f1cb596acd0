package collective

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// jsonCodec carries the collective messages without generated protobuf
// types. Clients select it with grpc.CallContentSubtype.
type jsonCodec struct{}

const codecName = "json"

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type JoinRequest struct {
	RunID string `json:"run_id"`
	Rank  int    `json:"rank"`
	Size  int    `json:"size"`
}

type ArriveRequest struct {
	Seq  uint64 `json:"seq"`
	Rank int    `json:"rank"`
}

type ContributeRequest struct {
	Seq          uint64       `json:"seq"`
	Root         int          `json:"root"`
	Contribution Contribution `json:"contribution"`
}

type ResultRequest struct {
	Seq uint64 `json:"seq"`
}

type Ack struct{}
