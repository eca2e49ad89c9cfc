package main

import (
	"time"

	"github.com/lunatic-solutions/lunatic/id"
	"github.com/lunatic-solutions/lunatic/internal/obslog"
)

// config holds a node's assembly-time settings, built from Option values
// the same way internal/obslog.Logger is configured.
type config struct {
	nodeID      id.NodeId
	envID       id.EnvironmentId
	listenAddr  string
	mtu         int
	streams     int
	lookupRates map[time.Duration]int
	logger      *obslog.Logger
}

// Option configures a node at construction time.
type Option func(*config)

// WithNodeID sets the node's own cluster id (spec §4.7, §6 "node_id()").
func WithNodeID(nodeID id.NodeId) Option {
	return func(c *config) { c.nodeID = nodeID }
}

// WithEnvironmentID sets the id of the single Environment this node's
// driver hosts (spec §3 "Environment").
func WithEnvironmentID(envID id.EnvironmentId) Option {
	return func(c *config) { c.envID = envID }
}

// WithListenAddr sets the host:port the gRPC transport server binds to
// (spec §4.6 "reliable transport").
func WithListenAddr(addr string) Option {
	return func(c *config) { c.listenAddr = addr }
}

// WithMTU sets the distributed client's chunk size (spec §4.6 "configured
// MTU").
func WithMTU(mtu int) Option {
	return func(c *config) { c.mtu = mtu }
}

// WithStreams sets the number of parallel streams each per-node worker
// opens (spec §4.6, default 10).
func WithStreams(streams int) Option {
	return func(c *config) { c.streams = streams }
}

// WithLookupThrottle sets the lookup_nodes rate limit windows (spec §4.7
// lookup throttling); nil/empty means unrestricted.
func WithLookupThrottle(rates map[time.Duration]int) Option {
	return func(c *config) { c.lookupRates = rates }
}

// WithLogger sets the structured logger every component shares.
func WithLogger(logger *obslog.Logger) Option {
	return func(c *config) { c.logger = logger }
}

func resolveConfig(opts []Option) *config {
	c := &config{
		nodeID:     1,
		envID:      1,
		listenAddr: "127.0.0.1:9000",
		mtu:        16 << 10,
		streams:    10,
		logger:     obslog.Disabled,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(c)
	}
	if c.logger == nil {
		c.logger = obslog.Disabled
	}
	return c
}
