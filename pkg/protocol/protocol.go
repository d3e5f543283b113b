// Package protocol implements the binary UDP control protocol used by
// remote operators. Frames are fixed size, packed, big-endian.
package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const (
	CommandMagic  uint32 = 0xEF000001
	ResponseMagic uint32 = 0xEF800001
	MaxPayload           = 32
	FrameSize            = 40
	DefaultPort          = 2346
)

// Command categories
const (
	CategoryNetwork    uint8 = 0x01
	CategoryPdo        uint8 = 0x02
	CategoryDiagnostic uint8 = 0x03
)

// Network commands
const (
	NetStart  uint8 = 0x01
	NetStop   uint8 = 0x02
	NetScan   uint8 = 0x03
	NetStatus uint8 = 0x04
)

// PDO commands
const (
	PdoRead    uint8 = 0x01
	PdoWrite   uint8 = 0x02
	PdoMonitor uint8 = 0x03
	PdoStopMon uint8 = 0x04
)

// Diagnostic commands
const (
	DiagNetwork uint8 = 0x01
	DiagTiming  uint8 = 0x02
	DiagErrors  uint8 = 0x03
	DiagSlave   uint8 = 0x04
)

// Response status
const (
	StatusSuccess uint8 = 0x00
	StatusError   uint8 = 0x01
)

// Error codes returned inside responses
const (
	ErrNone            uint8 = 0x00
	ErrInvalidMagic    uint8 = 0x01
	ErrInvalidCommand  uint8 = 0x02
	ErrInvalidPayload  uint8 = 0x03
	ErrNetworkNotReady uint8 = 0x04
	ErrSlaveNotFound   uint8 = 0x05
	ErrTimeout         uint8 = 0x06
	ErrInternal        uint8 = 0xFF
)

var (
	ErrFrameSize     = errors.New("datagram is not exactly one command frame")
	ErrBadMagic      = errors.New("unexpected magic value")
	ErrBadCategory   = errors.New("unknown command category")
	ErrBadId         = errors.New("command id outside of category range")
	ErrPayloadLength = errors.New("declared payload length exceeds maximum")
	ErrShortPayload  = errors.New("payload too short for operation")
)

// A Command frame as received from an operator
type Command struct {
	Magic      uint32
	Category   uint8
	Id         uint8
	PayloadLen uint16
	Payload    [MaxPayload]byte
}

// A Response frame as sent back to an operator
type Response struct {
	Magic      uint32
	Status     uint8
	Error      uint8
	PayloadLen uint16
	Payload    [MaxPayload]byte
}

// Decode a single datagram into a command frame.
// The datagram must be exactly one frame long.
func UnmarshalCommand(data []byte) (*Command, error) {
	if len(data) != FrameSize {
		return nil, ErrFrameSize
	}
	cmd := &Command{}
	err := binary.Read(bytes.NewReader(data), binary.BigEndian, cmd)
	if err != nil {
		return nil, err
	}
	return cmd, nil
}

// Serialize a command frame, mostly used by clients and tests
func (cmd *Command) Marshal() ([]byte, error) {
	buffer := new(bytes.Buffer)
	err := binary.Write(buffer, binary.BigEndian, cmd)
	if err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

// Validate checks frame level correctness : magic, category, declared
// payload length and the id range of the category. Payload semantics are
// checked by the command handlers, not here.
func (cmd *Command) Validate() error {
	if cmd.Magic != CommandMagic {
		return ErrBadMagic
	}
	if cmd.Category < CategoryNetwork || cmd.Category > CategoryDiagnostic {
		return ErrBadCategory
	}
	if cmd.PayloadLen > MaxPayload {
		return ErrPayloadLength
	}
	switch cmd.Category {
	case CategoryNetwork:
		if cmd.Id < NetStart || cmd.Id > NetStatus {
			return ErrBadId
		}
	case CategoryPdo:
		if cmd.Id < PdoRead || cmd.Id > PdoStopMon {
			return ErrBadId
		}
	case CategoryDiagnostic:
		if cmd.Id < DiagNetwork || cmd.Id > DiagSlave {
			return ErrBadId
		}
	}
	return nil
}

// A single process data access extracted from a PDO command payload
type PdoOperation struct {
	SlaveId uint32
	Offset  uint32
	Size    uint32
	Value   uint32
}

// Extract a PDO operation from a command of the PDO category.
// Layout is two mandatory big-endian u32 (slave, offset) optionally
// followed by a third one carrying the value (write) or the size (read).
func (cmd *Command) PdoOperation() (*PdoOperation, error) {
	if cmd.Category != CategoryPdo {
		return nil, ErrBadCategory
	}
	if cmd.PayloadLen < 8 {
		return nil, ErrShortPayload
	}
	op := &PdoOperation{
		SlaveId: binary.BigEndian.Uint32(cmd.Payload[0:4]),
		Offset:  binary.BigEndian.Uint32(cmd.Payload[4:8]),
	}
	switch {
	case cmd.Id == PdoWrite && cmd.PayloadLen >= 12:
		op.Size = 4
		op.Value = binary.BigEndian.Uint32(cmd.Payload[8:12])
	case cmd.Id == PdoRead && cmd.PayloadLen >= 12:
		op.Size = binary.BigEndian.Uint32(cmd.Payload[8:12])
	default:
		op.Size = 1
	}
	return op, nil
}

// Build an encoded PDO read command, the client side of PdoOperation
func NewPdoReadCommand(slave uint32, offset uint32, size uint32) *Command {
	cmd := &Command{Magic: CommandMagic, Category: CategoryPdo, Id: PdoRead, PayloadLen: 12}
	binary.BigEndian.PutUint32(cmd.Payload[0:4], slave)
	binary.BigEndian.PutUint32(cmd.Payload[4:8], offset)
	binary.BigEndian.PutUint32(cmd.Payload[8:12], size)
	return cmd
}

// Build an encoded PDO write command
func NewPdoWriteCommand(slave uint32, offset uint32, value uint32) *Command {
	cmd := &Command{Magic: CommandMagic, Category: CategoryPdo, Id: PdoWrite, PayloadLen: 12}
	binary.BigEndian.PutUint32(cmd.Payload[0:4], slave)
	binary.BigEndian.PutUint32(cmd.Payload[4:8], offset)
	binary.BigEndian.PutUint32(cmd.Payload[8:12], value)
	return cmd
}

// NewResponse builds a response frame. The payload is clamped to the
// maximum frame payload, remaining bytes are zero.
func NewResponse(status uint8, errCode uint8, data []byte) *Response {
	resp := &Response{
		Magic:  ResponseMagic,
		Status: status,
		Error:  errCode,
	}
	if len(data) > MaxPayload {
		data = data[:MaxPayload]
	}
	resp.PayloadLen = uint16(len(data))
	copy(resp.Payload[:], data)
	return resp
}

// Serialize a response frame for transmission
func (resp *Response) Marshal() ([]byte, error) {
	buffer := new(bytes.Buffer)
	err := binary.Write(buffer, binary.BigEndian, resp)
	if err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

// Decode a response frame, used by clients and tests
func UnmarshalResponse(data []byte) (*Response, error) {
	if len(data) != FrameSize {
		return nil, ErrFrameSize
	}
	resp := &Response{}
	err := binary.Read(bytes.NewReader(data), binary.BigEndian, resp)
	if err != nil {
		return nil, err
	}
	return resp, nil
}
