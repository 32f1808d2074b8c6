package entity

// NetworkDescriptor is the flattened, static description of one network.
// Parent and Children hold ids only; the registry owns every descriptor.
type NetworkDescriptor struct {
	ID            string
	Name          string
	Color         string
	Homepage      string
	RPCURLs       []RPCURL
	GatewayURL    string
	ParaID        int
	IsCustom      bool
	DefaultActive bool
	Parent        string
	Children      []string
}

// Candidates returns the candidate RPC URLs as plain strings, in configured order.
func (d NetworkDescriptor) Candidates() []string {
	urls := make([]string, 0, len(d.RPCURLs))
	for _, u := range d.RPCURLs {
		urls = append(urls, u.String())
	}
	return urls
}

// NetworkStatus is the externally visible view of a network and its connection flags.
type NetworkStatus struct {
	ID           string           `json:"id"`
	Name         string           `json:"name"`
	Color        string           `json:"color,omitempty"`
	IsCustom     bool             `json:"isCustom"`
	Active       bool             `json:"active"`
	Status       ConnectionStatus `json:"status"`
	URL          string           `json:"url,omitempty"`
	Registered   bool             `json:"registered"`
	Connected    bool             `json:"connected"`
	Initializing bool             `json:"initializing"`
	Failed       bool             `json:"failed"`
}
