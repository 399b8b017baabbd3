package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"gpsr-simulation/internal/mesh"
	"gpsr-simulation/internal/routing"
	"gpsr-simulation/internal/sim"
)

// Submitter accepts commands for the next step boundary.
type Submitter interface {
	Submit(cmd sim.Command) error
}

// NodeLister gives read access to the current drones.
type NodeLister interface {
	Nodes() []mesh.INode
}

var errMissingNode = errors.New("node_id is required")

type SendMessagePayload struct {
	SenderNodeID      *uint32 `json:"node_id"`
	DestinationNodeID *uint32 `json:"dest_node_id"`
	Message           string  `json:"message"`
}

// SendMessageHandler queues a data packet at the sender.
func SendMessageHandler(sub Submitter, log *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload SendMessagePayload
		if !decode(w, r, &payload) {
			return
		}
		if payload.SenderNodeID == nil || payload.DestinationNodeID == nil {
			http.Error(w, "node_id and dest_node_id are required", http.StatusBadRequest)
			return
		}
		if *payload.SenderNodeID == *payload.DestinationNodeID {
			http.Error(w, "sender and destination must differ", http.StatusBadRequest)
			return
		}
		submit(w, sub, log, sim.Command{
			Kind:    sim.CmdSend,
			Node:    *payload.SenderNodeID,
			Dest:    *payload.DestinationNodeID,
			Payload: payload.Message,
		}, "Sending Data ...")
	}
}

type MoveNodePayload struct {
	NodeID *uint32 `json:"node_id"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Z      float64 `json:"z"`
}

// MoveNodeHandler teleports a node.
func MoveNodeHandler(sub Submitter, log *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload MoveNodePayload
		if !decode(w, r, &payload) {
			return
		}
		if payload.NodeID == nil {
			http.Error(w, errMissingNode.Error(), http.StatusBadRequest)
			return
		}
		submit(w, sub, log, sim.Command{
			Kind: sim.CmdMove,
			Node: *payload.NodeID,
			X:    payload.X,
			Y:    payload.Y,
			Z:    payload.Z,
		}, "Moving Node ...")
	}
}

type NodePayload struct {
	NodeID *uint32 `json:"node_id"`
}

// FailNodeHandler takes a node down.
func FailNodeHandler(sub Submitter, log *zap.SugaredLogger) http.HandlerFunc {
	return nodeCommandHandler(sub, log, sim.CmdFail, "Failing Node ...")
}

// RecoverNodeHandler brings a failed node back.
func RecoverNodeHandler(sub Submitter, log *zap.SugaredLogger) http.HandlerFunc {
	return nodeCommandHandler(sub, log, sim.CmdRecover, "Recovering Node ...")
}

func nodeCommandHandler(sub Submitter, log *zap.SugaredLogger, kind sim.CommandKind, reply string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload NodePayload
		if !decode(w, r, &payload) {
			return
		}
		if payload.NodeID == nil {
			http.Error(w, errMissingNode.Error(), http.StatusBadRequest)
			return
		}
		submit(w, sub, log, sim.Command{Kind: kind, Node: *payload.NodeID}, reply)
	}
}

// NodeView is the JSON shape of a node in /nodeAPI/nodes.
type NodeView struct {
	ID         uint32   `json:"id"`
	X          float64  `json:"x"`
	Y          float64  `json:"y"`
	Z          float64  `json:"z"`
	Failed     bool     `json:"failed"`
	Energy     float64  `json:"energy"`
	OwnQueue   int      `json:"own_queue"`
	RelayQueue int      `json:"relay_queue"`
	Neighbors  []uint32 `json:"neighbors"`
}

type neighborLister interface {
	GetRouter() routing.IRouter
}

// ListNodesHandler returns every node with its buffers and neighbors.
func ListNodesHandler(lister NodeLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		nodes := lister.Nodes()
		out := make([]NodeView, 0, len(nodes))
		for _, n := range nodes {
			pos := n.GetPosition()
			v := NodeView{
				ID:         n.GetID(),
				X:          pos.X,
				Y:          pos.Y,
				Z:          pos.Z,
				Failed:     n.Failed(),
				Energy:     n.ResidualEnergy(),
				OwnQueue:   len(n.OwnQueue()),
				RelayQueue: len(n.RelayQueue()),
				Neighbors:  []uint32{},
			}
			if nl, ok := n.(neighborLister); ok {
				for _, e := range nl.GetRouter().Neighbors() {
					v.Neighbors = append(v.Neighbors, e.ID)
				}
			}
			out = append(out, v)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return false
	}
	return true
}

func submit(w http.ResponseWriter, sub Submitter, log *zap.SugaredLogger, cmd sim.Command, reply string) {
	if err := sub.Submit(cmd); err != nil {
		log.Warnf("[api] rejecting %s for node %d: %v", cmd.Kind, cmd.Node, err)
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusAccepted)
	_, _ = w.Write([]byte(reply))
}
