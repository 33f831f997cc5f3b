package transport

import (
	"encoding/binary"
	"fmt"
	"net"
	"time"
)

// Modbus implements the request/response half of Modbus-TCP: standard
// coil and holding-register reads/writes over a persistent connection. A
// communication error is raised iff the socket closes.
//
// Unlike TCP's asynchronous read pump, each call sends one request and
// synchronously awaits its matched response, pairing by the protocol's
// transaction identifier rather than Runtime's FIFO. Modbus has no Send
// method, no back-end in this module uses it, and internal/daemon rejects
// a device configured with a modbus transport.
type Modbus struct {
	conn   net.Conn
	nextID uint16
}

// DialModbus connects to a Modbus-TCP server.
func DialModbus(addr string) (*Modbus, error) {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("modbus dial %s: %w", addr, err)
	}
	return &Modbus{conn: conn}, nil
}

// Close closes the underlying connection.
func (m *Modbus) Close() error { return m.conn.Close() }

const (
	fnReadHoldingRegisters  = 0x03
	fnWriteSingleRegister   = 0x06
	fnReadCoils             = 0x01
	fnWriteSingleCoil       = 0x05
	modbusHeaderLen         = 7
	coilOn           uint16 = 0xFF00
	coilOff          uint16 = 0x0000
)

func (m *Modbus) transact(unitID byte, pdu []byte) ([]byte, error) {
	m.nextID++
	header := make([]byte, modbusHeaderLen)
	binary.BigEndian.PutUint16(header[0:2], m.nextID)
	binary.BigEndian.PutUint16(header[2:4], 0) // protocol id
	binary.BigEndian.PutUint16(header[4:6], uint16(len(pdu)+1))
	header[6] = unitID

	_ = m.conn.SetWriteDeadline(time.Now().Add(3 * time.Second))
	if _, err := m.conn.Write(append(header, pdu...)); err != nil {
		return nil, fmt.Errorf("modbus write: %w", err)
	}

	respHeader := make([]byte, modbusHeaderLen)
	_ = m.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, err := readFull(m.conn, respHeader); err != nil {
		return nil, fmt.Errorf("communication error: %w", err)
	}
	length := binary.BigEndian.Uint16(respHeader[4:6])
	if length == 0 {
		return nil, fmt.Errorf("modbus: zero-length response")
	}
	body := make([]byte, length-1)
	if _, err := readFull(m.conn, body); err != nil {
		return nil, fmt.Errorf("communication error: %w", err)
	}
	if len(body) > 0 && body[0]&0x80 != 0 {
		code := byte(0)
		if len(body) > 1 {
			code = body[1]
		}
		return nil, fmt.Errorf("modbus exception code %d", code)
	}
	return body, nil
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// ReadHoldingRegisters reads count 16-bit registers starting at addr.
func (m *Modbus) ReadHoldingRegisters(unitID byte, addr, count uint16) ([]uint16, error) {
	pdu := make([]byte, 5)
	pdu[0] = fnReadHoldingRegisters
	binary.BigEndian.PutUint16(pdu[1:3], addr)
	binary.BigEndian.PutUint16(pdu[3:5], count)
	body, err := m.transact(unitID, pdu)
	if err != nil {
		return nil, err
	}
	if len(body) < 2 {
		return nil, fmt.Errorf("modbus: short response")
	}
	n := int(body[1]) / 2
	out := make([]uint16, n)
	for i := 0; i < n; i++ {
		out[i] = binary.BigEndian.Uint16(body[2+2*i : 4+2*i])
	}
	return out, nil
}

// WriteSingleRegister writes one 16-bit holding register.
func (m *Modbus) WriteSingleRegister(unitID byte, addr, value uint16) error {
	pdu := make([]byte, 5)
	pdu[0] = fnWriteSingleRegister
	binary.BigEndian.PutUint16(pdu[1:3], addr)
	binary.BigEndian.PutUint16(pdu[3:5], value)
	_, err := m.transact(unitID, pdu)
	return err
}

// ReadCoils reads count coils starting at addr.
func (m *Modbus) ReadCoils(unitID byte, addr, count uint16) ([]bool, error) {
	pdu := make([]byte, 5)
	pdu[0] = fnReadCoils
	binary.BigEndian.PutUint16(pdu[1:3], addr)
	binary.BigEndian.PutUint16(pdu[3:5], count)
	body, err := m.transact(unitID, pdu)
	if err != nil {
		return nil, err
	}
	if len(body) < 2 {
		return nil, fmt.Errorf("modbus: short response")
	}
	out := make([]bool, count)
	for i := 0; i < int(count); i++ {
		byteIdx := 2 + i/8
		bitIdx := uint(i % 8)
		out[i] = body[byteIdx]&(1<<bitIdx) != 0
	}
	return out, nil
}

// WriteSingleCoil writes one coil.
func (m *Modbus) WriteSingleCoil(unitID byte, addr uint16, value bool) error {
	pdu := make([]byte, 5)
	pdu[0] = fnWriteSingleCoil
	binary.BigEndian.PutUint16(pdu[1:3], addr)
	v := coilOff
	if value {
		v = coilOn
	}
	binary.BigEndian.PutUint16(pdu[3:5], v)
	_, err := m.transact(unitID, pdu)
	return err
}
