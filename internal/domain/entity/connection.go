package entity

// ConnectionStatus is the connection state of a single network.
type ConnectionStatus string

// Connection states.
const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusFailed       ConnectionStatus = "failed"
)

// ConnectionState is a snapshot of a network's runtime connection state.
type ConnectionState struct {
	Network     string           `json:"network"`
	Status      ConnectionStatus `json:"status"`
	URL         string           `json:"url"`
	Blacklisted []string         `json:"blacklisted,omitempty"`
	Registered  bool             `json:"registered"`
}

// Connected reports whether the network currently has a live connection.
func (s ConnectionState) Connected() bool {
	return s.Status == StatusConnected
}

// Failed reports whether the last activation of the network failed.
func (s ConnectionState) Failed() bool {
	return s.Status == StatusFailed
}

// Header is the part of a block header the calendar cares about.
type Header struct {
	Number uint64
	Hash   string
}
