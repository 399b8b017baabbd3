package mqtt

// Config selects the broker and topic layout.
type Config struct {
	Broker      string
	ClientID    string
	TopicPrefix string
}

// CommandPayload is the JSON accepted on <prefix>/commands.
type CommandPayload struct {
	Event   string  `json:"event"` // send | move | fail | recover
	NodeID  *uint32 `json:"node_id"`
	DestID  uint32  `json:"dest_node_id,omitempty"`
	Message string  `json:"message,omitempty"`
	X       float64 `json:"x,omitempty"`
	Y       float64 `json:"y,omitempty"`
	Z       float64 `json:"z,omitempty"`
}
