package node

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/pixperk/printmesh/pkg/mutex"
)

type Config struct {
	NodeID      uint64
	ListenAddr  string            // bind address for the mesh service
	Peers       map[uint64]string // peer id -> "host:port", fixed for the run
	PrinterAddr string

	AckTimeout     time.Duration
	ReleaseTimeout time.Duration
	PrintTimeout   time.Duration

	// job generator; disabled when MinJobWait is zero
	MinJobWait time.Duration
	MaxJobWait time.Duration

	StatusInterval time.Duration

	JournalPath string // optional sqlite event journal
	MetricsAddr string // optional prometheus listener

	Logger hclog.Logger
}

func DefaultConfig(nodeID uint64) Config {
	mc := mutex.DefaultConfig()
	return Config{
		NodeID:         nodeID,
		ListenAddr:     "127.0.0.1:0",
		Peers:          map[uint64]string{},
		PrinterAddr:    "localhost:50051",
		AckTimeout:     mc.AckTimeout,
		ReleaseTimeout: mc.ReleaseTimeout,
		PrintTimeout:   mc.PrintTimeout,
		MinJobWait:     3 * time.Second,
		MaxJobWait:     7 * time.Second,
		StatusInterval: 2 * time.Second,
	}
}

func (c *Config) validate() error {
	if c.NodeID == 0 {
		return fmt.Errorf("node id must be nonzero")
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address required")
	}
	if _, self := c.Peers[c.NodeID]; self {
		return fmt.Errorf("peer set must not contain the node's own id %d", c.NodeID)
	}
	if c.MaxJobWait < c.MinJobWait {
		return fmt.Errorf("max job wait %s below min %s", c.MaxJobWait, c.MinJobWait)
	}
	return nil
}

// ParsePeers parses a comma-separated "id=host:port" list, e.g.
// "2=localhost:7002,3=localhost:7003".
func ParsePeers(s string) (map[uint64]string, error) {
	peers := make(map[uint64]string)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, addr, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("peer %q: want id=host:port", part)
		}
		pid, err := strconv.ParseUint(id, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("peer %q: bad id: %w", part, err)
		}
		if pid == 0 {
			return nil, fmt.Errorf("peer %q: id must be nonzero", part)
		}
		if !strings.Contains(addr, ":") {
			return nil, fmt.Errorf("peer %q: bad address %q", part, addr)
		}
		if _, dup := peers[pid]; dup {
			return nil, fmt.Errorf("peer id %d listed twice", pid)
		}
		peers[pid] = addr
	}
	return peers, nil
}
