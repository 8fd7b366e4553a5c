// Package source reads hex-encoded telegrams, one per line, from stdin,
// files or a serial receiver.
package source

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"go.bug.st/serial"
)

// Line is a single non-empty input line.
type Line struct {
	Number int
	Text   string
}

// Scanner yields telegram lines, skipping blanks and '#' comments.
type Scanner struct {
	sc   *bufio.Scanner
	line Line
	n    int
}

func NewScanner(r io.Reader) *Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 1024), 64*1024)
	return &Scanner{sc: sc}
}

// Scan advances to the next telegram line.
func (s *Scanner) Scan() bool {
	for s.sc.Scan() {
		s.n++
		text := strings.TrimSpace(s.sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		s.line = Line{Number: s.n, Text: text}
		return true
	}
	return false
}

func (s *Scanner) Line() Line { return s.line }

func (s *Scanner) Err() error { return s.sc.Err() }

// OpenSerial opens a receiver dongle in 8N1 mode.
func OpenSerial(portName string, baudRate int) (io.ReadCloser, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}
	return port, nil
}
