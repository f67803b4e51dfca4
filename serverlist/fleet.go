package serverlist

import (
	"fmt"
	"sort"
	"strings"
)

// Transport is how a connection to the server would be made.
type Transport int

const (
	TransportTCP Transport = iota
	TransportUnix
	TransportUDP
)

const (
	// DefaultPort is the well-known memcache port.
	DefaultPort = 11211

	maxHostLength = 1025
)

// ServerInstance is one member of the fleet. Identity is
// (Hostname, Port). NextRetry is the unix second until which the server
// is ejected; zero means live.
type ServerInstance struct {
	Hostname  string
	Port      uint16
	Transport Transport
	Weight    uint32
	NextRetry int64
}

// Server describes a fleet member for the bulk entry points.
type Server struct {
	Hostname  string
	Port      uint16
	Weight    uint32
	Transport Transport
}

// Label is the hostname with the port appended unless it is the default
// port, the form peer clients feed to ketama.
func (s *ServerInstance) Label() string {
	if s.Port == DefaultPort {
		return s.Hostname
	}
	return fmt.Sprintf("%s:%d", s.Hostname, s.Port)
}

func fixWeight(weight uint32) uint32 {
	// libmemcached treats 0 weight to be the same as 1 so we should
	// behave the same way
	if weight == 0 {
		return 1
	}
	return weight
}

func validServername(hostname string) bool {
	return hostname != "" && len(hostname) < maxHostLength
}

// AddServer appends a TCP server with the default weight and rebuilds
// the active continuum.
func (s *Selector) AddServer(hostname string, port uint16) error {
	return s.AddServerWithWeight(hostname, port, 0)
}

// AddServerWithWeight appends a server and rebuilds. An empty hostname
// defaults to localhost, port 0 to the default memcache port, and a
// leading '/' switches the transport to a unix socket. A weight above 1
// latches a consistent fleet into weighted mode.
func (s *Selector) AddServerWithWeight(hostname string, port uint16, weight uint32) error {
	if s == nil {
		return ErrInvalidArguments
	}

	if port == 0 {
		port = DefaultPort
	}
	if hostname == "" {
		hostname = "localhost"
	}
	if !validServername(hostname) {
		return fmt.Errorf("%w: invalid hostname provided", ErrInvalidArguments)
	}

	transport := TransportTCP
	if strings.HasPrefix(hostname, "/") {
		transport = TransportUnix
		port = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.serverAdd(hostname, port, weight, transport)
}

// AddServerParsed appends a hostname that has already been validated by
// an upstream parser.
func (s *Selector) AddServerParsed(hostname string, port uint16, weight uint32) error {
	if s == nil {
		return ErrInvalidArguments
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.serverAdd(hostname, port, weight, TransportTCP)
}

// AddUnixSocket appends a unix-socket server.
func (s *Selector) AddUnixSocket(path string) error {
	return s.AddUnixSocketWithWeight(path, 0)
}

// AddUnixSocketWithWeight appends a unix-socket server with a weight.
func (s *Selector) AddUnixSocketWithWeight(path string, weight uint32) error {
	if s == nil {
		return ErrFailure
	}
	if !validServername(path) {
		return fmt.Errorf("%w: invalid filename for socket provided", ErrInvalidArguments)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.serverAdd(path, 0, weight, TransportUnix)
}

// AddUDP is kept for API parity with older clients. UDP transport is
// deprecated.
func (s *Selector) AddUDP(hostname string, port uint16) error {
	return s.AddUDPWithWeight(hostname, port, 0)
}

// AddUDPWithWeight is deprecated alongside AddUDP.
func (s *Selector) AddUDPWithWeight(string, uint16, uint32) error {
	if s == nil {
		return ErrInvalidArguments
	}
	return ErrDeprecated
}

// serverAdd appends one instance and rebuilds. Callers hold the write
// lock.
func (s *Selector) serverAdd(hostname string, port uint16, weight uint32, transport Transport) error {
	s.servers = append(s.servers, ServerInstance{
		Hostname:  hostname,
		Port:      port,
		Transport: transport,
		Weight:    fixWeight(weight),
	})

	if weight > 1 && s.isConsistent() {
		s.weighted = true
	}

	return s.runDistribution()
}

// PushServers bulk-adds servers with a single rebuild at the end.
func (s *Selector) PushServers(list []Server) error {
	if s == nil {
		return ErrInvalidArguments
	}
	if len(list) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, srv := range list {
		hostname := srv.Hostname
		if hostname == "" {
			hostname = "localhost"
		}
		if !validServername(hostname) {
			return fmt.Errorf("%w: invalid hostname provided", ErrInvalidArguments)
		}
		port := srv.Port
		transport := srv.Transport
		if strings.HasPrefix(hostname, "/") {
			transport = TransportUnix
			port = 0
		} else if port == 0 {
			port = DefaultPort
		}

		s.servers = append(s.servers, ServerInstance{
			Hostname:  hostname,
			Port:      port,
			Transport: transport,
			Weight:    fixWeight(srv.Weight),
		})

		if srv.Weight > 1 && s.isConsistent() {
			s.weighted = true
		}
	}

	return s.runDistribution()
}

// PushInstances bulk-adds fully formed instances, preserving their
// ejection state, with a single rebuild at the end.
func (s *Selector) PushInstances(list []ServerInstance) error {
	if s == nil {
		return ErrInvalidArguments
	}
	if len(list) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, inst := range list {
		inst.Weight = fixWeight(inst.Weight)
		s.servers = append(s.servers, inst)
		if inst.Weight > 1 && s.isConsistent() {
			s.weighted = true
		}
	}

	return s.runDistribution()
}

// RemoveServer removes the first instance whose hostname matches,
// records its position for the dynamic continuum, and rebuilds.
// Removing an unknown host returns ErrNotFound without mutating the
// fleet; a removal that would empty the fleet returns ErrSomeErrors.
func (s *Selector) RemoveServer(hostname string) error {
	if s == nil {
		return ErrInvalidArguments
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removingIdx := -1
	for i := range s.servers {
		if s.servers[i].Hostname == hostname {
			removingIdx = i
			break
		}
	}
	if removingIdx < 0 {
		return ErrNotFound
	}
	if len(s.servers)-1 <= 0 {
		return ErrSomeErrors
	}

	s.servers = append(s.servers[:removingIdx], s.servers[removingIdx+1:]...)
	if s.dynamic != nil {
		s.dynamic.removingIdx = removingIdx
	}

	return s.runDistribution()
}

// EjectServer stamps a server's retry deadline and rebuilds, removing
// its points from the continuum while auto-eject is enabled. A deadline
// of zero revives the server.
func (s *Selector) EjectServer(hostname string, until int64) error {
	if s == nil {
		return ErrInvalidArguments
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.servers {
		if s.servers[i].Hostname == hostname {
			s.servers[i].NextRetry = until
			return s.runDistribution()
		}
	}
	return ErrNotFound
}

// Servers returns a copy of the fleet.
func (s *Selector) Servers() []ServerInstance {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ServerInstance, len(s.servers))
	copy(out, s.servers)
	return out
}

// ServerCount reports the fleet size, ejected members included.
func (s *Selector) ServerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.servers)
}

// sortServers stable-sorts the fleet by hostname then port. It runs
// before every rebuild when UseSortHosts is set.
func (s *Selector) sortServers() {
	sort.SliceStable(s.servers, func(i, j int) bool {
		if s.servers[i].Hostname != s.servers[j].Hostname {
			return s.servers[i].Hostname < s.servers[j].Hostname
		}
		return s.servers[i].Port < s.servers[j].Port
	})
}
