package service

import (
	"context"
	"fmt"
	"net"
	"slices"
	"strings"
	"sync"
	"time"
)

// NetIfListerOptions tunes which interfaces NetIfLister reports.
type NetIfListerOptions struct {
	TTL             time.Duration // cache TTL, default 15s
	IncludeLoopback bool
	IncludeDown     bool
}

func (o *NetIfListerOptions) setDefaults() {
	if o.TTL <= 0 {
		o.TTL = 15 * time.Second
	}
}

// NetIfAddr is one address bound to an interface.
type NetIfAddr struct {
	Family string `json:"family"` // "ipv4" | "ipv6"
	Addr   string `json:"addr"`
	Scope  string `json:"scope"` // "global" | "link" | "loopback"
}

// NetIf is a host interface a channel can be pinned to via net_interface.
type NetIf struct {
	Name  string      `json:"name"`
	Index int         `json:"index"`
	MAC   string      `json:"mac"`
	MTU   int         `json:"mtu"`
	Up    bool        `json:"up"`
	Addrs []NetIfAddr `json:"addrs"`
}

// NetIfLister lists host network interfaces with a small in-memory cache.
type NetIfLister struct {
	mu      sync.RWMutex
	cache   []NetIf
	expires time.Time
	opts    NetIfListerOptions

	now        func() time.Time
	interfaces func() ([]net.Interface, error)
	addrs      func(net.Interface) ([]net.Addr, error)
}

// NewNetIfLister creates the lister with provided options.
func NewNetIfLister(opts NetIfListerOptions) *NetIfLister {
	opts.setDefaults()
	return &NetIfLister{
		opts:       opts,
		now:        time.Now,
		interfaces: net.Interfaces,
		addrs:      func(ifc net.Interface) ([]net.Addr, error) { return ifc.Addrs() },
	}
}

// Invalidate clears the cache so the next call refetches immediately.
func (s *NetIfLister) Invalidate() {
	s.mu.Lock()
	s.cache = nil
	s.expires = time.Time{}
	s.mu.Unlock()
}

// List returns the host interfaces sorted by name.
func (s *NetIfLister) List(ctx context.Context) ([]NetIf, error) {
	s.mu.RLock()
	if s.cache != nil && s.now().Before(s.expires) {
		out := slices.Clone(s.cache)
		s.mu.RUnlock()
		return out, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	// another goroutine may have refreshed meanwhile
	if s.cache != nil && s.now().Before(s.expires) {
		return slices.Clone(s.cache), nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ifaces, err := s.list()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}
	s.cache = ifaces
	s.expires = s.now().Add(s.opts.TTL)
	return slices.Clone(s.cache), nil
}

func (s *NetIfLister) list() ([]NetIf, error) {
	sysIfaces, err := s.interfaces()
	if err != nil {
		return nil, err
	}

	out := make([]NetIf, 0, len(sysIfaces))
	for _, ifc := range sysIfaces {
		up := ifc.Flags&net.FlagUp != 0
		if !up && !s.opts.IncludeDown {
			continue
		}
		if ifc.Flags&net.FlagLoopback != 0 && !s.opts.IncludeLoopback {
			continue
		}

		addrs, _ := s.addrs(ifc)
		ips := make([]NetIfAddr, 0, len(addrs))
		for _, a := range addrs {
			var ip net.IP
			switch v := a.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			if ip == nil {
				continue
			}
			fam := "ipv6"
			if v4 := ip.To4(); v4 != nil {
				fam, ip = "ipv4", v4
			}
			ips = append(ips, NetIfAddr{Family: fam, Addr: ip.String(), Scope: classifyScope(ip)})
		}

		out = append(out, NetIf{
			Name:  ifc.Name,
			Index: ifc.Index,
			MAC:   ifc.HardwareAddr.String(),
			MTU:   ifc.MTU,
			Up:    up,
			Addrs: ips,
		})
	}

	slices.SortFunc(out, func(a, b NetIf) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

func classifyScope(ip net.IP) string {
	switch {
	case ip.IsLoopback():
		return "loopback"
	case ip.IsLinkLocalUnicast():
		return "link"
	default:
		return "global"
	}
}
