package types

import "fmt"

// Op is a reduction operator understood by every collective transport.
type Op int

const (
	OpSum Op = iota
	OpMin
	OpMax
)

func (o Op) String() string {
	switch o {
	case OpSum:
		return "SUM"
	case OpMin:
		return "MIN"
	case OpMax:
		return "MAX"
	default:
		return fmt.Sprintf("Op(%d)", int(o))
	}
}

const (
	LoaderSynthetic = "synthetic"
	LoaderPlugin    = "plugin"
	LoaderEbpf      = "ebpf"
)

const (
	TransportNone  = "none"
	TransportLocal = "local"
	TransportGrpc  = "grpc"
	TransportMqtt  = "mqtt"
	TransportMpi   = "mpi"
)

// RootRank is the coordinating rank that owns reduction results and writes
// the bitmap.
const RootRank = 0
