//go:build linux

package transport

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// Serial owns a USB-HID/CDC-ACM serial line (e.g. the vacuum gauge's
// framed-ASCII protocol over /dev/ttyUSB*). termios configuration is the
// one place cctd reaches past net.Conn into golang.org/x/sys/unix, since
// Go's standard library has no portable serial API.
type Serial struct {
	f *os.File
}

// OpenSerial opens path and configures raw mode at baud with 8N1 framing.
func OpenSerial(path string, baud uint32) (*Serial, error) {
	f, err := os.OpenFile(path, os.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	fd := int(f.Fd())

	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("get termios: %w", err)
	}

	speed, err := baudConst(baud)
	if err != nil {
		f.Close()
		return nil, err
	}

	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB
	t.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0
	unix.CfsetOspeed(t, speed)
	unix.CfsetIspeed(t, speed)

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, t); err != nil {
		f.Close()
		return nil, fmt.Errorf("set termios: %w", err)
	}
	return &Serial{f: f}, nil
}

func baudConst(baud uint32) (uint32, error) {
	switch baud {
	case 9600:
		return unix.B9600, nil
	case 19200:
		return unix.B19200, nil
	case 38400:
		return unix.B38400, nil
	case 57600:
		return unix.B57600, nil
	case 115200:
		return unix.B115200, nil
	default:
		return 0, fmt.Errorf("unsupported baud rate %d", baud)
	}
}

// Send writes data to the line.
func (s *Serial) Send(data []byte) error {
	_, err := s.f.Write(data)
	if err != nil {
		return fmt.Errorf("serial write: %w", err)
	}
	return nil
}

// Close closes the underlying file descriptor.
func (s *Serial) Close() error { return s.f.Close() }

// ReadByte reads a single byte with a 2-second deadline. internal/daemon's
// serial pump uses it to assemble fixed-size or newline-terminated frames.
func (s *Serial) ReadByte() (byte, error) {
	_ = s.f.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	_, err := s.f.Read(buf)
	return buf[0], err
}
