// SPDX-License-Identifier: GPL-3.0-or-later

package wire

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers, kept in lockstep with schema.proto.
const (
	fieldMessageManifest protowire.Number = 1
	fieldMessageMetadata protowire.Number = 2
	fieldMessageIntro    protowire.Number = 3
	fieldMessageConfig   protowire.Number = 4
	fieldMessagePayload  protowire.Number = 5
	fieldMessageMsgKey   protowire.Number = 6

	fieldManifestOp   protowire.Number = 1
	fieldManifestOg   protowire.Number = 2
	fieldManifestCode protowire.Number = 3

	fieldMetadataSrcID       protowire.Number = 1
	fieldMetadataDestID      protowire.Number = 2
	fieldMetadataPayloadSize protowire.Number = 3

	fieldIntroIdentifier protowire.Number = 1
	fieldIntroAddress    protowire.Number = 2
	fieldIntroChCtrl     protowire.Number = 3
	fieldIntroChSend     protowire.Number = 4
	fieldIntroChRecv     protowire.Number = 5

	fieldConfigSysMode       protowire.Number = 1
	fieldConfigSimulatorMode protowire.Number = 2
	fieldConfigUseDB         protowire.Number = 3
	fieldConfigDBAddress     protowire.Number = 4
	fieldConfigDBPort        protowire.Number = 5
	fieldConfigDBNum         protowire.Number = 6
)

func appendVarintField(b []byte, num protowire.Number, v int64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(v))
	return b
}

func appendBoolField(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	b = protowire.AppendVarint(b, 1)
	return b
}

func appendStringField(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte(v))
	return b
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	b = protowire.AppendBytes(b, v)
	return b
}

// Marshal encodes m against the protobuf wire format described by
// schema.proto. The caller is responsible for prepending the
// length-delimited frame (see WriteFrame in frame.go) before writing the
// result to a channel connection.
func Marshal(m *Message) []byte {
	var b []byte

	man := marshalManifest(m.Manifest)
	b = protowire.AppendTag(b, fieldMessageManifest, protowire.BytesType)
	b = protowire.AppendBytes(b, man)

	if m.Metadata != nil {
		sub := marshalMetadata(m.Metadata)
		b = protowire.AppendTag(b, fieldMessageMetadata, protowire.BytesType)
		b = protowire.AppendBytes(b, sub)
	}
	if m.Intro != nil {
		sub := marshalIntro(m.Intro)
		b = protowire.AppendTag(b, fieldMessageIntro, protowire.BytesType)
		b = protowire.AppendBytes(b, sub)
	}
	if m.Config != nil {
		sub := marshalConfig(m.Config)
		b = protowire.AppendTag(b, fieldMessageConfig, protowire.BytesType)
		b = protowire.AppendBytes(b, sub)
	}
	b = appendBytesField(b, fieldMessagePayload, m.Payload)
	b = appendStringField(b, fieldMessageMsgKey, m.MsgKey)

	return b
}

func marshalManifest(man Manifest) []byte {
	var b []byte
	b = appendVarintField(b, fieldManifestOp, int64(man.Op))
	b = appendVarintField(b, fieldManifestOg, int64(man.Og))
	b = appendVarintField(b, fieldManifestCode, int64(man.Code))
	return b
}

func marshalMetadata(md *Metadata) []byte {
	var b []byte
	b = appendStringField(b, fieldMetadataSrcID, md.SrcID)
	b = appendStringField(b, fieldMetadataDestID, md.DestID)
	b = appendVarintField(b, fieldMetadataPayloadSize, int64(md.PayloadSize))
	return b
}

func marshalIntro(id *IntroDetails) []byte {
	var b []byte
	b = appendStringField(b, fieldIntroIdentifier, id.Identifier)
	b = appendStringField(b, fieldIntroAddress, id.Address)
	b = appendVarintField(b, fieldIntroChCtrl, int64(id.ChCtrl))
	b = appendVarintField(b, fieldIntroChSend, int64(id.ChSend))
	b = appendVarintField(b, fieldIntroChRecv, int64(id.ChRecv))
	return b
}

func marshalConfig(cfg *ConfigParams) []byte {
	var b []byte
	b = appendVarintField(b, fieldConfigSysMode, int64(cfg.SysMode))
	b = appendVarintField(b, fieldConfigSimulatorMode, int64(cfg.SimulatorMode))
	b = appendBoolField(b, fieldConfigUseDB, cfg.UseDB)
	b = appendStringField(b, fieldConfigDBAddress, cfg.DBAddress)
	b = appendVarintField(b, fieldConfigDBPort, int64(cfg.DBPort))
	b = appendVarintField(b, fieldConfigDBNum, int64(cfg.DBNum))
	return b
}

// Unmarshal decodes a single [Message] from data, which must hold
// exactly one encoded frame payload (length prefix already stripped).
func Unmarshal(data []byte) (*Message, error) {
	m := &Message{}
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]

		switch num {
		case fieldMessageManifest:
			v, n, err := consumeBytes(b)
			if err != nil {
				return nil, err
			}
			b = b[n:]
			man, err := unmarshalManifest(v)
			if err != nil {
				return nil, err
			}
			m.Manifest = man

		case fieldMessageMetadata:
			v, n, err := consumeBytes(b)
			if err != nil {
				return nil, err
			}
			b = b[n:]
			md, err := unmarshalMetadata(v)
			if err != nil {
				return nil, err
			}
			m.Metadata = md

		case fieldMessageIntro:
			v, n, err := consumeBytes(b)
			if err != nil {
				return nil, err
			}
			b = b[n:]
			intro, err := unmarshalIntro(v)
			if err != nil {
				return nil, err
			}
			m.Intro = intro

		case fieldMessageConfig:
			v, n, err := consumeBytes(b)
			if err != nil {
				return nil, err
			}
			b = b[n:]
			cfg, err := unmarshalConfig(v)
			if err != nil {
				return nil, err
			}
			m.Config = cfg

		case fieldMessagePayload:
			v, n, err := consumeBytes(b)
			if err != nil {
				return nil, err
			}
			b = b[n:]
			m.Payload = append([]byte(nil), v...)

		case fieldMessageMsgKey:
			v, n, err := consumeBytes(b)
			if err != nil {
				return nil, err
			}
			b = b[n:]
			m.MsgKey = string(v)

		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return m, nil
}

func consumeBytes(b []byte) ([]byte, int, error) {
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, protowire.ParseError(n)
	}
	return v, n, nil
}

func unmarshalManifest(data []byte) (Manifest, error) {
	var man Manifest
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return man, protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case fieldManifestOp:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return man, protowire.ParseError(n)
			}
			b = b[n:]
			man.Op = Op(v)
		case fieldManifestOg:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return man, protowire.ParseError(n)
			}
			b = b[n:]
			man.Og = Originator(v)
		case fieldManifestCode:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return man, protowire.ParseError(n)
			}
			b = b[n:]
			man.Code = Code(v)
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return man, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return man, nil
}

func unmarshalMetadata(data []byte) (*Metadata, error) {
	md := &Metadata{}
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case fieldMetadataSrcID:
			v, n, err := consumeBytes(b)
			if err != nil {
				return nil, err
			}
			b = b[n:]
			md.SrcID = string(v)
		case fieldMetadataDestID:
			v, n, err := consumeBytes(b)
			if err != nil {
				return nil, err
			}
			b = b[n:]
			md.DestID = string(v)
		case fieldMetadataPayloadSize:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
			md.PayloadSize = int32(v)
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return md, nil
}

func unmarshalIntro(data []byte) (*IntroDetails, error) {
	id := &IntroDetails{}
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case fieldIntroIdentifier:
			v, n, err := consumeBytes(b)
			if err != nil {
				return nil, err
			}
			b = b[n:]
			id.Identifier = string(v)
		case fieldIntroAddress:
			v, n, err := consumeBytes(b)
			if err != nil {
				return nil, err
			}
			b = b[n:]
			id.Address = string(v)
		case fieldIntroChCtrl:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
			id.ChCtrl = int32(v)
		case fieldIntroChSend:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
			id.ChSend = int32(v)
		case fieldIntroChRecv:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
			id.ChRecv = int32(v)
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return id, nil
}

func unmarshalConfig(data []byte) (*ConfigParams, error) {
	cfg := &ConfigParams{}
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case fieldConfigSysMode:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
			cfg.SysMode = SystemMode(v)
		case fieldConfigSimulatorMode:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
			cfg.SimulatorMode = SimulatorMode(v)
		case fieldConfigUseDB:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
			cfg.UseDB = v != 0
		case fieldConfigDBAddress:
			v, n, err := consumeBytes(b)
			if err != nil {
				return nil, err
			}
			b = b[n:]
			cfg.DBAddress = string(v)
		case fieldConfigDBPort:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
			cfg.DBPort = int32(v)
		case fieldConfigDBNum:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
			cfg.DBNum = int32(v)
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return cfg, nil
}
