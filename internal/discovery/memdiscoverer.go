package discovery

// MemDiscoverer is an in-process Discoverer used by tests and as a
// placeholder when no real mDNS binding is configured. Announce and
// Unannounce just record calls; discovery events are injected directly
// via Discover/Remove.
type MemDiscoverer struct {
	Announced   []Endpoint
	Unannounced []Endpoint

	onDiscovered func(Endpoint)
	onRemoved    func(Endpoint)
}

// NewMemDiscoverer creates an empty in-process discoverer.
func NewMemDiscoverer() *MemDiscoverer {
	return &MemDiscoverer{}
}

func (m *MemDiscoverer) OnDiscovered(f func(Endpoint)) { m.onDiscovered = f }
func (m *MemDiscoverer) OnRemoved(f func(Endpoint))    { m.onRemoved = f }

func (m *MemDiscoverer) Announce(name string, port int) error {
	m.Announced = append(m.Announced, Endpoint{Name: name, Port: port})
	return nil
}

func (m *MemDiscoverer) Unannounce(name string, port int) error {
	m.Unannounced = append(m.Unannounced, Endpoint{Name: name, Port: port})
	return nil
}

// Discover simulates the mDNS library surfacing a new service.
func (m *MemDiscoverer) Discover(e Endpoint) {
	if m.onDiscovered != nil {
		m.onDiscovered(e)
	}
}

// Remove simulates the mDNS library reporting a service's disappearance.
func (m *MemDiscoverer) Remove(e Endpoint) {
	if m.onRemoved != nil {
		m.onRemoved(e)
	}
}
