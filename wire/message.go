// SPDX-License-Identifier: GPL-3.0-or-later

// Package wire implements the broker's protobuf wire schema (see
// schema.proto) and its length-delimited TCP framing.
//
// Messages are encoded against the protobuf wire format directly with
// google.golang.org/protobuf/encoding/protowire, rather than through
// generated protoc-gen-go code, so the whole codec fits in two small
// files with no build-time code generation step.
package wire

// Op is the manifest operation.
type Op int32

const (
	OpUnspecified Op = 0
	OpInit        Op = 1
	OpPing        Op = 2
	OpSend        Op = 3
	OpFetch       Op = 4
	OpPost        Op = 5
	OpReceive     Op = 6
	OpForward     Op = 7
	OpExit        Op = 8
)

func (o Op) String() string {
	switch o {
	case OpInit:
		return "INIT"
	case OpPing:
		return "PING"
	case OpSend:
		return "SEND"
	case OpFetch:
		return "FETCH"
	case OpPost:
		return "POST"
	case OpReceive:
		return "RECEIVE"
	case OpForward:
		return "FORWARD"
	case OpExit:
		return "EXIT"
	default:
		return "OP_UNSPECIFIED"
	}
}

// Originator is who emitted a frame.
type Originator int32

const (
	OriginatorUnspecified Originator = 0
	OriginatorApp         Originator = 1
	OriginatorSim         Originator = 2
	OriginatorDaemon      Originator = 3
)

func (o Originator) String() string {
	switch o {
	case OriginatorApp:
		return "APP"
	case OriginatorSim:
		return "SIM"
	case OriginatorDaemon:
		return "DAEMON"
	default:
		return "ORIGINATOR_UNSPECIFIED"
	}
}

// Code is the manifest result code.
type Code int32

const (
	CodeUnspecified Code = 0
	CodeSuccess     Code = 1
	CodeFailure     Code = 2
	CodeMessage     Code = 3
	CodeNoMessage   Code = 4
)

func (c Code) String() string {
	switch c {
	case CodeSuccess:
		return "SUCCESS"
	case CodeFailure:
		return "FAILURE"
	case CodeMessage:
		return "MESSAGE"
	case CodeNoMessage:
		return "NO_MESSAGE"
	default:
		return "CODE_UNSPECIFIED"
	}
}

// SystemMode selects PULL vs PUSH delivery.
type SystemMode int32

const (
	SystemModePull SystemMode = 0
	SystemModePush SystemMode = 1
)

// SimulatorMode selects SYSTEM_WIDE vs PER_NODE sim routing.
type SimulatorMode int32

const (
	SimulatorModeSystemWide SimulatorMode = 0
	SimulatorModePerNode    SimulatorMode = 1
)

// Manifest is the mandatory triple every [Message] carries.
type Manifest struct {
	Op   Op
	Og   Originator
	Code Code
}

// Metadata is the optional `{src_id, dest_id, payload_size}` triple.
// Absent fields are the zero value; presence of src_id/dest_id is
// distinguished by the empty string.
type Metadata struct {
	SrcID       string
	DestID      string
	PayloadSize int32
}

// IntroDetails carries the INIT handshake's self-reported identity
// and locally-bound channel ports.
type IntroDetails struct {
	Identifier string
	Address    string
	ChCtrl     int32
	ChSend     int32
	ChRecv     int32
}

// ConfigParams is the INIT response's configuration block, adopted
// verbatim by the client.
type ConfigParams struct {
	SysMode       SystemMode
	SimulatorMode SimulatorMode
	UseDB         bool
	DBAddress     string
	DBPort        int32
	DBNum         int32
}

// Message is the single schema carried by every frame. Metadata,
// Intro, and Config are nil when absent; Payload and MsgKey are the
// two mutually exclusive forms of the payload carrier: an inline byte
// slice, or a key into the offload store.
type Message struct {
	Manifest Manifest
	Metadata *Metadata
	Intro    *IntroDetails
	Config   *ConfigParams
	Payload  []byte
	MsgKey   string
}

// HasPayload reports whether m carries an inline payload.
func (m *Message) HasPayload() bool {
	return m != nil && m.Payload != nil
}

// HasMsgKey reports whether m carries an offload-store key.
func (m *Message) HasMsgKey() bool {
	return m != nil && m.MsgKey != ""
}
