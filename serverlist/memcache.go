package serverlist

import (
	"fmt"
	"net"
	"sync"

	"github.com/bradfitz/gomemcache/memcache"
)

// ServerList exposes a Selector as a memcache.ServerSelector, making
// the engine a drop-in replacement for memcache.ServerList. It is safe
// to call from multiple goroutines at once.
type ServerList struct {
	cfg Config

	m    sync.RWMutex
	sel  *Selector
	addr []net.Addr
}

// NewServerList returns an empty ServerList configured with cfg.
func NewServerList(cfg Config) *ServerList {
	return &ServerList{cfg: cfg}
}

// SetServers replaces the current fleet with servers. The new ring is
// built off to the side and installed in one swap.
func (l *ServerList) SetServers(servers ...Server) error {
	sel, err := New(l.cfg)
	if err != nil {
		return err
	}
	if err := sel.PushServers(servers); err != nil {
		return err
	}

	addrs := make([]net.Addr, 0, len(servers))
	for _, inst := range sel.Servers() {
		addr, err := instanceAddr(&inst)
		if err != nil {
			return err
		}
		addrs = append(addrs, addr)
	}

	l.m.Lock()
	l.sel = sel
	l.addr = addrs
	l.m.Unlock()

	return nil
}

// SetServersAddr replaces the fleet with addrs, all at weight 1.
func (l *ServerList) SetServersAddr(addrs []net.Addr) error {
	servers := make([]Server, 0, len(addrs))
	for _, addr := range addrs {
		srv, err := addrServer(addr)
		if err != nil {
			return err
		}
		servers = append(servers, srv)
	}
	return l.SetServers(servers...)
}

// PickServer returns the address the key's requests should go to.
func (l *ServerList) PickServer(key string) (net.Addr, error) {
	l.m.RLock()
	defer l.m.RUnlock()

	if l.sel == nil || len(l.addr) == 0 {
		return nil, memcache.ErrNoServers
	}

	idx := l.sel.PickWithRedistribution(key, CmdOther)
	if int(idx) >= len(l.addr) {
		return nil, memcache.ErrNoServers
	}
	return l.addr[idx], nil
}

// Each calls fn with every address currently registered.
func (l *ServerList) Each(fn func(net.Addr) error) error {
	l.m.RLock()
	addrs := l.addr
	l.m.RUnlock()

	for _, addr := range addrs {
		if err := fn(addr); err != nil {
			return err
		}
	}
	return nil
}

func instanceAddr(inst *ServerInstance) (net.Addr, error) {
	switch inst.Transport {
	case TransportUnix:
		return &net.UnixAddr{Name: inst.Hostname, Net: "unix"}, nil
	case TransportTCP:
		return net.ResolveTCPAddr("tcp", fmt.Sprintf("%s:%d", inst.Hostname, inst.Port))
	default:
		return nil, fmt.Errorf("%w: unsupported transport", ErrInvalidArguments)
	}
}

func addrServer(addr net.Addr) (Server, error) {
	switch a := addr.(type) {
	case *net.TCPAddr:
		return Server{Hostname: a.IP.String(), Port: uint16(a.Port)}, nil
	case *net.UnixAddr:
		return Server{Hostname: a.Name, Transport: TransportUnix}, nil
	default:
		return Server{}, fmt.Errorf("%w: unsupported type %T (%q)", ErrInvalidArguments, addr, addr)
	}
}
