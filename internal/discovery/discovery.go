// Package discovery advertises and browses for mesh nodes on the local
// network segment via mDNS/DNS-SD, giving a freshly joined node a way to
// find peers before it has gossip-learned any from the DHT (spec §4.2:
// peer discovery alongside the permissioned mesh protocols).
package discovery

import (
	"context"
	"fmt"
	"net"

	"github.com/grandcat/zeroconf"

	"github.com/luxfi/zhtp-core/internal/identity"
	"github.com/luxfi/zhtp-core/internal/zlog"
)

const serviceName = "_zhtp._tcp"
const serviceDomain = "local."

// Found is one resolved peer advertisement.
type Found struct {
	NodeID   identity.NodeID
	HostName string
	Port     int
	AddrsV4  []net.IP
	AddrsV6  []net.IP
}

// Advertiser publishes this node's presence via mDNS.
type Advertiser struct {
	server *zeroconf.Server
}

// Advertise registers an mDNS service record carrying the node's ID
// (hex-encoded into the TXT record) and mesh listen port. Call Shutdown
// to unregister.
func Advertise(self identity.NodeID, port int) (*Advertiser, error) {
	server, err := zeroconf.Register(
		self.String(),
		serviceName,
		serviceDomain,
		port,
		[]string{"node_id=" + self.String()},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("discovery: register mdns service: %w", err)
	}
	return &Advertiser{server: server}, nil
}

// Shutdown unregisters the mDNS service record.
func (a *Advertiser) Shutdown() {
	a.server.Shutdown()
}

// Browse resolves mDNS entries for serviceName on the local segment for
// the lifetime of ctx, reporting each discovered peer on the returned
// channel. log receives a line per malformed entry (missing node_id
// TXT record) rather than failing the whole browse.
func Browse(ctx context.Context, log zlog.Logger) (<-chan Found, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("discovery: create mdns resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	found := make(chan Found)

	go func() {
		defer close(found)
		for entry := range entries {
			nodeID, ok := nodeIDFromTXT(entry.Text)
			if !ok {
				if log != nil {
					log.Warn("discovery: mdns entry missing node_id", "host", entry.HostName)
				}
				continue
			}
			found <- Found{
				NodeID:   nodeID,
				HostName: entry.HostName,
				Port:     entry.Port,
				AddrsV4:  entry.AddrIPv4,
				AddrsV6:  entry.AddrIPv6,
			}
		}
	}()

	if err := resolver.Browse(ctx, serviceName, serviceDomain, entries); err != nil {
		return nil, fmt.Errorf("discovery: browse mdns: %w", err)
	}
	return found, nil
}

func nodeIDFromTXT(text []string) (identity.NodeID, bool) {
	const prefix = "node_id="
	for _, t := range text {
		if len(t) > len(prefix) && t[:len(prefix)] == prefix {
			id, err := identity.ParseNodeID(t[len(prefix):])
			if err != nil {
				return identity.NodeID{}, false
			}
			return id, true
		}
	}
	return identity.NodeID{}, false
}
