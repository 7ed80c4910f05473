// Package mdns locates the radio on the local network so the LO tuner can
// reach it without a configured address.
package mdns

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

// DefaultService is advertised by the IIO daemon on Pluto-class radios.
const DefaultService = "_iio._tcp"

// Host is one discovered radio.
type Host struct {
	Instance  string
	Hostname  string
	Addresses []net.IP
	Port      int
	TXT       []string
}

// Address returns the first IPv4 address, else the first address, else the
// hostname without its trailing dot.
func (h Host) Address() string {
	for _, ip := range h.Addresses {
		if ip.To4() != nil {
			return ip.String()
		}
	}
	if len(h.Addresses) > 0 {
		return h.Addresses[0].String()
	}
	return strings.TrimSuffix(h.Hostname, ".")
}

// Discover browses service on the local domain until timeout or ctx ends and
// returns the hosts found, deduplicated and sorted by hostname.
func Discover(ctx context.Context, service string, timeout time.Duration) ([]Host, error) {
	if service == "" {
		service = DefaultService
	}
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("mdns resolver: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	found := make(map[string]Host)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case e, ok := <-entries:
				if !ok {
					return
				}
				if e == nil {
					continue
				}
				h := fromEntry(e)
				found[fmt.Sprintf("%s|%d", h.Hostname, h.Port)] = h
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := resolver.Browse(ctx, service, "local.", entries); err != nil {
		return nil, fmt.Errorf("mdns browse %s: %w", service, err)
	}
	<-done

	out := make([]Host, 0, len(found))
	for _, h := range found {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Hostname == out[j].Hostname {
			return out[i].Port < out[j].Port
		}
		return out[i].Hostname < out[j].Hostname
	})
	return out, nil
}

// Select returns the first host whose instance or hostname contains match,
// case-insensitively. An empty match selects the first host.
func Select(hosts []Host, match string) (Host, bool) {
	match = strings.ToLower(match)
	for _, h := range hosts {
		if match == "" ||
			strings.Contains(strings.ToLower(h.Instance), match) ||
			strings.Contains(strings.ToLower(h.Hostname), match) {
			return h, true
		}
	}
	return Host{}, false
}

func fromEntry(e *zeroconf.ServiceEntry) Host {
	addrs := make([]net.IP, 0, len(e.AddrIPv4)+len(e.AddrIPv6))
	addrs = append(addrs, e.AddrIPv4...)
	addrs = append(addrs, e.AddrIPv6...)
	return Host{
		// zeroconf leaves "\ " escapes in instance names.
		Instance:  strings.ReplaceAll(e.Instance, `\ `, " "),
		Hostname:  e.HostName,
		Addresses: addrs,
		Port:      e.Port,
		TXT:       append([]string(nil), e.Text...),
	}
}
