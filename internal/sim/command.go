package sim

import (
	"errors"
	"fmt"

	"gpsr-simulation/internal/geo"
)

type CommandKind string

const (
	CmdSend    CommandKind = "send"
	CmdMove    CommandKind = "move"
	CmdFail    CommandKind = "fail"
	CmdRecover CommandKind = "recover"
)

// Command is an external request applied at the next step boundary.
type Command struct {
	Kind    CommandKind `json:"kind"`
	Node    uint32      `json:"node"`
	Dest    uint32      `json:"dest,omitempty"`
	Payload string      `json:"payload,omitempty"`
	X       float64     `json:"x,omitempty"`
	Y       float64     `json:"y,omitempty"`
	Z       float64     `json:"z,omitempty"`
}

var ErrUnknownCommand = errors.New("unknown command")

// Apply executes cmd against the world at curStep.
func (w *World) Apply(cmd Command, curStep int) error {
	switch cmd.Kind {
	case CmdSend:
		_, err := w.SendData(cmd.Node, cmd.Dest, cmd.Payload, curStep)
		return err
	case CmdMove:
		return w.MoveNode(cmd.Node, geo.CreateCoordinates(cmd.X, cmd.Y, cmd.Z), curStep)
	case CmdFail:
		return w.SetFailed(cmd.Node, true, curStep)
	case CmdRecover:
		return w.SetFailed(cmd.Node, false, curStep)
	default:
		return fmt.Errorf("%w %q", ErrUnknownCommand, cmd.Kind)
	}
}
