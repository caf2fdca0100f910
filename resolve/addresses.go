// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package resolve

import (
	"cmp"
	"context"
	"fmt"
	"net"
	"net/netip"
	"slices"

	"github.com/wlynxg/anet"
)

// Address is one local address candidates may be gathered on.
type Address struct {
	IP        netip.Addr `cbor:"ip"`
	Interface string     `cbor:"interface,omitempty"`
}

// AddressDiscoverer lists local addresses. An empty list is a valid
// result, not an error.
type AddressDiscoverer interface {
	DiscoverAddresses(ctx context.Context) ([]Address, error)
}

// IPs extracts the addresses.
func IPs(addresses []Address) []netip.Addr {
	ips := make([]netip.Addr, len(addresses))
	for i, address := range addresses {
		ips[i] = address.IP
	}
	return ips
}

// InterfaceDiscoverer enumerates the host's up interfaces. It uses
// anet, which works on Android where net.Interfaces is denied.
type InterfaceDiscoverer struct {
	IncludeLoopback  bool
	IncludeLinkLocal bool
}

// DiscoverAddresses implements AddressDiscoverer. The result is sorted
// by interface name, then address.
func (d InterfaceDiscoverer) DiscoverAddresses(ctx context.Context) ([]Address, error) {
	interfaces, err := anet.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("listing interfaces: %w", err)
	}

	var addresses []Address
	for i := range interfaces {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		iface := &interfaces[i]
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		if iface.Flags&net.FlagLoopback != 0 && !d.IncludeLoopback {
			continue
		}
		interfaceAddrs, err := anet.InterfaceAddrsByInterface(iface)
		if err != nil {
			return nil, fmt.Errorf("listing addresses of %s: %w", iface.Name, err)
		}
		for _, interfaceAddr := range interfaceAddrs {
			ip, ok := addrIP(interfaceAddr)
			if !ok || !d.keep(ip) {
				continue
			}
			addresses = append(addresses, Address{IP: ip, Interface: iface.Name})
		}
	}
	slices.SortFunc(addresses, func(a, b Address) int {
		return cmp.Or(cmp.Compare(a.Interface, b.Interface), a.IP.Compare(b.IP))
	})
	return addresses, nil
}

func (d InterfaceDiscoverer) keep(ip netip.Addr) bool {
	switch {
	case ip.IsUnspecified(), ip.IsMulticast():
		return false
	case ip.IsLoopback():
		return d.IncludeLoopback
	case ip.IsLinkLocalUnicast():
		return d.IncludeLinkLocal
	}
	return true
}

func addrIP(addr net.Addr) (netip.Addr, bool) {
	var ip net.IP
	switch v := addr.(type) {
	case *net.IPNet:
		ip = v.IP
	case *net.IPAddr:
		ip = v.IP
	default:
		return netip.Addr{}, false
	}
	parsed, ok := netip.AddrFromSlice(ip)
	return parsed.Unmap(), ok
}

// routeProbe is a documentation address; routing a UDP socket to it
// selects the default-route interface without sending anything.
const routeProbe = "192.0.2.1:9"

// DefaultRouteAddress returns the local address the kernel picks for
// traffic on the default route.
func DefaultRouteAddress() (netip.Addr, error) {
	conn, err := net.Dial("udp4", routeProbe)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("probing default route: %w", err)
	}
	defer conn.Close()
	local, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return netip.Addr{}, fmt.Errorf("probing default route: unexpected local address %v", conn.LocalAddr())
	}
	addr, ok := netip.AddrFromSlice(local.IP)
	if !ok {
		return netip.Addr{}, fmt.Errorf("probing default route: invalid local address %v", local.IP)
	}
	return addr.Unmap(), nil
}
