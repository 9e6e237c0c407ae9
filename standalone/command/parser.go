// Package command implements the line protocol spoken over the serial
// port: a two digit hex opcode, optionally followed by a space and comma
// separated arguments.
package command

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Opcodes
const (
	OpEcho                   byte = 0x00
	OpStopAll                byte = 0x01
	OpStopJoint              byte = 0x02
	OpMoveJoints             byte = 0x03
	OpCalibrateJoints        byte = 0x04
	OpPrintPosition          byte = 0x05
	OpPrintCalibrationStatus byte = 0x06
	OpAdd                    byte = 0x07
	OpMoveJoint              byte = 0x08
	OpMoveJointBy            byte = 0x09
	OpJogJoint               byte = 0x0A
	OpOverrideSpeed          byte = 0x0B
)

// ErrUnknownCommand is returned for an opcode that is not valid hex
var ErrUnknownCommand = errors.New("unknown command")

// Command is one parsed request line
type Command struct {
	Op   byte
	Hex  string // opcode as received
	Args string
}

// ParseLine parses a single request. Lines shorter than an opcode return
// nil without error.
func ParseLine(line string) (*Command, error) {
	line = strings.TrimSpace(line)
	if len(line) < 2 {
		return nil, nil
	}

	cmd := &Command{Hex: line[:2]}
	op, err := strconv.ParseUint(cmd.Hex, 16, 8)
	if err != nil {
		// the opcode is echoed back, never send half a multi-byte rune
		cmd.Hex = strings.ToValidUTF8(cmd.Hex, "?")
		return cmd, errors.Wrapf(ErrUnknownCommand, "%q", cmd.Hex)
	}
	cmd.Op = byte(op)

	if len(line) > 2 && line[2] == ' ' {
		cmd.Args = line[3:]
	}
	return cmd, nil
}

// Fields splits the arguments on commas. Empty arguments yield nil.
func (c *Command) Fields() []string {
	if strings.TrimSpace(c.Args) == "" {
		return nil
	}
	parts := strings.Split(c.Args, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseFloats(parts []string) ([]float64, error) {
	out := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "argument %d", i+1)
		}
		out[i] = v
	}
	return out, nil
}
