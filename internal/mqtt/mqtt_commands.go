package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"

	"gpsr-simulation/internal/sim"
)

var errMissingNode = errors.New("node_id is required")

// decodeCommand turns a broker message into a simulation command.
func decodeCommand(raw []byte) (sim.Command, error) {
	var payload CommandPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return sim.Command{}, fmt.Errorf("parse command: %w", err)
	}
	if payload.NodeID == nil {
		return sim.Command{}, errMissingNode
	}
	cmd := sim.Command{Node: *payload.NodeID}
	switch payload.Event {
	case "send":
		cmd.Kind = sim.CmdSend
		cmd.Dest = payload.DestID
		cmd.Payload = payload.Message
	case "move":
		cmd.Kind = sim.CmdMove
		cmd.X, cmd.Y, cmd.Z = payload.X, payload.Y, payload.Z
	case "fail":
		cmd.Kind = sim.CmdFail
	case "recover":
		cmd.Kind = sim.CmdRecover
	default:
		return sim.Command{}, fmt.Errorf("%w %q", sim.ErrUnknownCommand, payload.Event)
	}
	return cmd, nil
}
