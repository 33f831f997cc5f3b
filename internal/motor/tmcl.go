package motor

import (
	"encoding/binary"
	"fmt"
)

// frameSize is the fixed TMCL packet length: address, command, type,
// motor/bank, 4-byte big-endian value, checksum.
const frameSize = 9

// Instruction is a TMCL command opcode.
type Instruction byte

const (
	InstrROR  Instruction = 1 // rotate right
	InstrROL  Instruction = 2 // rotate left
	InstrMST  Instruction = 3 // motor stop
	InstrMVP  Instruction = 4 // move to position
	InstrSAP  Instruction = 5 // set axis parameter
	InstrGAP  Instruction = 6 // get axis parameter
	InstrSTAP Instruction = 7 // store axis parameter to EEPROM
	InstrRSAP Instruction = 8 // restore axis parameter from EEPROM
	InstrSGP  Instruction = 9 // set global parameter
	InstrGGP  Instruction = 10
	InstrSTGP Instruction = 11
	InstrRSGP Instruction = 12
	InstrRFS  Instruction = 13 // reference search
)

// MVPType is the "type" byte of an MVP instruction.
type MVPType byte

const (
	MVPAbsolute MVPType = 0
	MVPRelative MVPType = 1
	MVPCoord    MVPType = 2
)

// AxisParameter numbers, per the TMCL axis-parameter table the original
// backend.py addresses.
type AxisParameter byte

const (
	APTargetPosition           AxisParameter = 0
	APActualPosition           AxisParameter = 1
	APTargetSpeed              AxisParameter = 2
	APActualSpeed              AxisParameter = 3
	APMaximumPositioningSpeed  AxisParameter = 4
	APMaximumAcceleration      AxisParameter = 5
	APAbsoluteMaxCurrent       AxisParameter = 6
	APStandbyCurrent           AxisParameter = 7
	APTargetPositionReached    AxisParameter = 8
	APReferenceSwitchStatus    AxisParameter = 9
	APRightLimitSwitchStatus   AxisParameter = 10
	APLeftLimitSwitchStatus    AxisParameter = 11
	APRightLimitSwitchDisable  AxisParameter = 12
	APLeftLimitSwitchDisable   AxisParameter = 13
	APRampMode                 AxisParameter = 138
	APMicrostepResolution      AxisParameter = 140
	APRampDivisor              AxisParameter = 153
	APPulseDivisor             AxisParameter = 154
	APFreewheelingDelay        AxisParameter = 204
	APActualAcceleration       AxisParameter = 135
	APDriverError              AxisParameter = 208
	APLoad                     AxisParameter = 206
)

// StatusCode is a TMCL reply status.
type StatusCode byte

const (
	StatusSuccess          StatusCode = 100
	StatusLoadedIntoEEPROM StatusCode = 101
)

// IsError reports whether the status code denotes a failure.
func (s StatusCode) IsError() bool {
	return s != StatusSuccess && s != StatusLoadedIntoEEPROM
}

func (s StatusCode) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusLoadedIntoEEPROM:
		return "loaded into EEPROM"
	case 1:
		return "wrong checksum"
	case 2:
		return "invalid command"
	case 3:
		return "wrong type"
	case 4:
		return "invalid value"
	case 5:
		return "configuration EEPROM locked"
	case 6:
		return "command not available"
	default:
		return fmt.Sprintf("unknown status %d", byte(s))
	}
}

// Request is an outbound TMCL frame before checksum framing.
type Request struct {
	Address byte
	Command Instruction
	Type    byte
	Bank    byte // motor or bank number
	Value   int32
}

// Pack serializes a Request into the fixed 9-byte wire frame.
func Pack(r Request) []byte {
	buf := make([]byte, frameSize)
	buf[0] = r.Address
	buf[1] = byte(r.Command)
	buf[2] = r.Type
	buf[3] = r.Bank
	binary.BigEndian.PutUint32(buf[4:8], uint32(r.Value))
	buf[8] = checksum(buf[:8])
	return buf
}

// Reply is a decoded inbound TMCL frame.
type Reply struct {
	ReplyAddress byte
	TargetAddress byte
	Status       StatusCode
	Command      Instruction
	Value        int32
}

// Unpack parses and validates a 9-byte reply frame, checking the checksum
// and returning a communication error on mismatch.
func Unpack(frame []byte) (Reply, error) {
	if len(frame) != frameSize {
		return Reply{}, fmt.Errorf("tmcl: expected %d-byte frame, got %d", frameSize, len(frame))
	}
	if got, want := frame[8], checksum(frame[:8]); got != want {
		return Reply{}, fmt.Errorf("tmcl: checksum mismatch (got %#x, want %#x)", got, want)
	}
	return Reply{
		ReplyAddress:  frame[0],
		TargetAddress: frame[1],
		Status:        StatusCode(frame[2]),
		Command:       Instruction(frame[3]),
		Value:         int32(binary.BigEndian.Uint32(frame[4:8])),
	}, nil
}

// UnpackMatching parses a reply and verifies its Command matches the
// instruction that was sent; otherwise it returns an error.
func UnpackMatching(frame []byte, sent Request) (Reply, error) {
	reply, err := Unpack(frame)
	if err != nil {
		return Reply{}, err
	}
	if reply.Command != sent.Command {
		return Reply{}, fmt.Errorf("tmcl: reply command %d does not match sent command %d", reply.Command, sent.Command)
	}
	return reply, nil
}

func checksum(b []byte) byte {
	var sum int
	for _, c := range b {
		sum += int(c)
	}
	return byte(sum % 256)
}
