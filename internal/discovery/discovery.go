// Package discovery sizes the worker pool from a memberlist gossip group:
// every worker process joins the group, and the master counts members.
package discovery

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/memberlist"

	"matmr/internal/logger"
)

// EventDelegate implements memberlist.EventDelegate for handling membership changes
type EventDelegate struct {
	discovery *NodeDiscovery
}

func (ed *EventDelegate) NotifyJoin(node *memberlist.Node) {
	ed.discovery.handleNodeJoin(node)
}

func (ed *EventDelegate) NotifyLeave(node *memberlist.Node) {
	ed.discovery.handleNodeLeave(node)
}

func (ed *EventDelegate) NotifyUpdate(node *memberlist.Node) {
	ed.discovery.handleNodeJoin(node)
}

// NodeDiscovery tracks the members of the pool
type NodeDiscovery struct {
	memberlist *memberlist.Memberlist
	logger     *logger.Logger
	mu         sync.RWMutex

	nodeAddresses map[string]string // nodeID -> host:port
	changed       chan struct{}
	localNodeID   string
}

// Config for node discovery
type Config struct {
	NodeID    string   // Unique node identifier
	BindAddr  string   // Address to bind to
	BindPort  int      // Port to bind to; 0 picks a free one
	JoinAddrs []string // Addresses to join (format: "host:port")
	Logger    *logger.Logger
}

// NewNodeDiscovery creates a pool member and joins JoinAddrs if given
func NewNodeDiscovery(cfg Config) (*NodeDiscovery, error) {
	lg := cfg.Logger
	if lg == nil {
		lg = logger.New("INFO")
	}
	if cfg.BindAddr == "" {
		cfg.BindAddr = "127.0.0.1"
	}
	lg.Info("Initializing node discovery: node_id=%s addr=%s:%d", cfg.NodeID, cfg.BindAddr, cfg.BindPort)

	nd := &NodeDiscovery{
		logger:        lg,
		localNodeID:   cfg.NodeID,
		nodeAddresses: make(map[string]string),
		changed:       make(chan struct{}, 1),
	}

	mlConfig := memberlist.DefaultLocalConfig()
	mlConfig.Name = cfg.NodeID
	mlConfig.BindAddr = cfg.BindAddr
	mlConfig.BindPort = cfg.BindPort
	mlConfig.AdvertisePort = cfg.BindPort
	mlConfig.RetransmitMult = 3
	mlConfig.ProbeInterval = 1 * time.Second
	mlConfig.ProbeTimeout = 500 * time.Millisecond
	mlConfig.GossipInterval = 200 * time.Millisecond
	mlConfig.GossipNodes = 3
	mlConfig.Events = &EventDelegate{discovery: nd}
	if lg.Level() > logger.DEBUG {
		mlConfig.LogOutput = io.Discard
	}

	ml, err := memberlist.Create(mlConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create memberlist: %w", err)
	}
	nd.memberlist = ml

	if len(cfg.JoinAddrs) > 0 {
		if _, err := ml.Join(cfg.JoinAddrs); err != nil {
			lg.Warn("Failed to join pool: %v (continuing alone)", err)
		} else {
			lg.Info("Joined pool with %d members", ml.NumMembers())
		}
	}

	return nd, nil
}

// Join contacts addrs until at least one answers or ctx ends.
func (nd *NodeDiscovery) Join(ctx context.Context, addrs []string) error {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		n, err := nd.memberlist.Join(addrs)
		if err == nil && n > 0 {
			nd.logger.Info("Joined pool via %d of %d peers, members=%d", n, len(addrs), nd.NumMembers())
			return nil
		}
		nd.logger.Debug("Join attempt failed: %v", err)
		select {
		case <-ctx.Done():
			return fmt.Errorf("failed to join %v: %w", addrs, ctx.Err())
		case <-ticker.C:
		}
	}
}

// LocalAddr is the host:port other members should join
func (nd *NodeDiscovery) LocalAddr() string {
	n := nd.memberlist.LocalNode()
	return net.JoinHostPort(n.Addr.String(), strconv.Itoa(int(n.Port)))
}

// GetMembers returns nodeID -> address for every known member
func (nd *NodeDiscovery) GetMembers() map[string]string {
	nd.mu.RLock()
	defer nd.mu.RUnlock()

	result := make(map[string]string, len(nd.nodeAddresses))
	for k, v := range nd.nodeAddresses {
		result[k] = v
	}
	return result
}

// NumMembers returns the number of live members, this node included
func (nd *NodeDiscovery) NumMembers() int {
	return nd.memberlist.NumMembers()
}

// PoolSize is the number of workers, i.e. every member except this one.
func (nd *NodeDiscovery) PoolSize() int {
	return nd.NumMembers() - 1
}

// WaitForMembers blocks until at least n members are alive.
func (nd *NodeDiscovery) WaitForMembers(ctx context.Context, n int) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if got := nd.NumMembers(); got >= n {
			nd.logger.Info("Pool ready: members=%d", got)
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %d members (have %d): %w", n, nd.NumMembers(), ctx.Err())
		case <-nd.changed:
		case <-ticker.C:
		}
	}
}

func (nd *NodeDiscovery) notify() {
	select {
	case nd.changed <- struct{}{}:
	default:
	}
}

func (nd *NodeDiscovery) handleNodeJoin(node *memberlist.Node) {
	address := net.JoinHostPort(node.Addr.String(), strconv.Itoa(int(node.Port)))
	nd.mu.Lock()
	nd.nodeAddresses[node.Name] = address
	nd.mu.Unlock()

	nd.logger.Debug("Node joined: node_id=%s address=%s", node.Name, address)
	nd.notify()
}

func (nd *NodeDiscovery) handleNodeLeave(node *memberlist.Node) {
	nd.mu.Lock()
	delete(nd.nodeAddresses, node.Name)
	nd.mu.Unlock()

	nd.logger.Info("Node left: node_id=%s", node.Name)
	nd.notify()
}

// Leave gracefully leaves the pool
func (nd *NodeDiscovery) Leave(timeout time.Duration) error {
	return nd.memberlist.Leave(timeout)
}

// Shutdown stops gossiping
func (nd *NodeDiscovery) Shutdown() error {
	return nd.memberlist.Shutdown()
}
