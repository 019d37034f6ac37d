package common

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/lni/dragonboat/v4/config"
)

// --------------------------------------------------------------------------
// helper functions for to interface with Dragonboat (for the membership shard)
// --------------------------------------------------------------------------

// Dragonboat uses RTT (Round Trip Time) to determine the timing of elections and heartbeats.
// These default values are selected according to the RAFT Paper
const (
	electionRTTFactor  = 10
	heartbeatRTTFactor = 1
)

// ToDragonboatConfig converts the ServerConfig to the Dragonboat config of the membership shard
func (c *ServerConfig) ToDragonboatConfig() config.Config {
	return config.Config{
		ReplicaID:          uint64(c.MachineID),
		ShardID:            c.MembershipShardID,
		ElectionRTT:        electionRTTFactor,
		HeartbeatRTT:       heartbeatRTTFactor,
		CheckQuorum:        true,
		SnapshotEntries:    c.SnapshotEntries,
		CompactionOverhead: c.CompactionOverhead,
	}
}

// ToNodeHostConfig creates a NodeHostConfig for Dragonboat
func (c *ServerConfig) ToNodeHostConfig() config.NodeHostConfig {
	return config.NodeHostConfig{
		WALDir:         c.DataDir + "/raft",
		NodeHostDir:    c.DataDir + "/raft",
		RTTMillisecond: c.RTTMillisecond,
		RaftAddress:    c.ClusterMembers[uint64(c.MachineID)],
	}
}

// --------------------------------------------------------------------------
// Defaults
// --------------------------------------------------------------------------

const (
	// DefaultMaxFrameSize is the largest frame accepted in either direction
	DefaultMaxFrameSize = 16 * 1024 * 1024
	// DefaultIdBatchSize is the number of ids granted per ALLOCATE_IDS request
	DefaultIdBatchSize = 1000
	// DefaultResource is the name of the graph store resource
	DefaultResource = "neostore"
)

// --------------------------------------------------------------------------
// Server configuration struct
// --------------------------------------------------------------------------

// ServerConfig holds all configuration parameters of an HA node
type ServerConfig struct {
	// Identity of this machine in the cluster, also the raft replica id
	MachineID int32

	// HA endpoint (tcp address or unix socket path)
	Endpoint      string
	TimeoutSecond int64
	MaxFrameSize  int
	MaxWorkers    int

	// Executor settings
	IdBatchSize     int
	DefaultResource string

	// Slave settings
	PullIntervalMillis int64

	// Dragonboat parameters of the membership shard
	MembershipShardID  uint64
	RTTMillisecond     uint64
	SnapshotEntries    uint64
	CompactionOverhead uint64
	ClusterMembers     map[uint64]string

	// Storage
	DataDir string

	// Metrics endpoint, empty disables it
	MetricsEndpoint string

	// Logging configuration
	LogLevel string
}

// DefaultServerConfig returns a configuration for a single machine on localhost
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		MachineID:          1,
		Endpoint:           "127.0.0.1:6361",
		TimeoutSecond:      20,
		MaxFrameSize:       DefaultMaxFrameSize,
		MaxWorkers:         256,
		IdBatchSize:        DefaultIdBatchSize,
		DefaultResource:    DefaultResource,
		PullIntervalMillis: 0,
		MembershipShardID:  1,
		RTTMillisecond:     100,
		SnapshotEntries:    100,
		CompactionOverhead: 50,
		DataDir:            "data",
		LogLevel:           "info",
	}
}

// IsCluster reports whether other members are configured
func (c *ServerConfig) IsCluster() bool {
	return len(c.ClusterMembers) > 0
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// HA settings
	addSection("HA Server")
	addField("Machine ID", strconv.Itoa(int(c.MachineID)))
	addField("Endpoint", c.Endpoint)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Max Frame Size", fmt.Sprintf("%d bytes", c.MaxFrameSize))
	addField("Max Workers", strconv.Itoa(c.MaxWorkers))
	addField("Id Batch Size", strconv.Itoa(c.IdBatchSize))
	addField("Default Resource", c.DefaultResource)
	addField("Pull Interval", fmt.Sprintf("%d ms", c.PullIntervalMillis))

	// Storage
	addSection("Storage")
	addField("Data Directory", c.DataDir)

	// Logging configuration
	addSection("Logging")
	addField("Log Level", c.LogLevel)
	if c.MetricsEndpoint != "" {
		addField("Metrics Endpoint", c.MetricsEndpoint)
	}

	if c.IsCluster() {
		// RAFT parameters
		addSection("Membership (RAFT)")
		addField("Shard ID", strconv.FormatUint(c.MembershipShardID, 10))
		addField("RAFT Address", c.ClusterMembers[uint64(c.MachineID)])
		addField("Round Trip Time (ms)", fmt.Sprintf("%d ms", c.RTTMillisecond))
		addField("Election RTT (ms)", fmt.Sprintf("%d", c.RTTMillisecond*electionRTTFactor))
		addField("Heartbeat RTT (ms)", fmt.Sprintf("%d", c.RTTMillisecond*heartbeatRTTFactor))
		addField("Snapshot Entries", fmt.Sprintf("%d", c.SnapshotEntries))
		addField("Compaction Overhead", fmt.Sprintf("%d", c.CompactionOverhead))

		sb.WriteString("  Initial Members:\n")

		// Sort keys for consistent output
		var keys []uint64
		for k := range c.ClusterMembers {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

		for _, k := range keys {
			sb.WriteString(fmt.Sprintf("    Machine %d: %s\n", k, c.ClusterMembers[k]))
		}
	}
	return sb.String()
}

// --------------------------------------------------------------------------
// Client configuration struct
// --------------------------------------------------------------------------

// ClientConfig controls how a slave talks to the master
type ClientConfig struct {
	Endpoint             string
	TimeoutSecond        int
	ConnectRetries       int
	ConnectBackoffMillis int
	MaxIdleConnections   int
	MaxFrameSize         int

	// Socket settings, zero values keep the OS defaults
	WriteBufferSize int
	ReadBufferSize  int
	TCPNoDelay      bool
	TCPKeepAliveSec int
	TCPLingerSec    int
}

// DefaultClientConfig returns the client configuration used by slaves
func DefaultClientConfig(endpoint string) ClientConfig {
	return ClientConfig{
		Endpoint:             endpoint,
		TimeoutSecond:        20,
		ConnectRetries:       5,
		ConnectBackoffMillis: 500,
		MaxIdleConnections:   5,
		MaxFrameSize:         DefaultMaxFrameSize,
		TCPNoDelay:           true,
		TCPLingerSec:         -1,
	}
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// General Client Settings
	addSection("Client Configuration")
	addField("Endpoint", c.Endpoint)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Connect Retries", strconv.Itoa(c.ConnectRetries))
	addField("Connect Backoff", fmt.Sprintf("%d ms", c.ConnectBackoffMillis))
	addField("Max Idle Connections", strconv.Itoa(c.MaxIdleConnections))
	addField("Max Frame Size", fmt.Sprintf("%d bytes", c.MaxFrameSize))

	// Socket Settings
	addSection("Socket")
	addField("TCP No Delay", strconv.FormatBool(c.TCPNoDelay))
	addField("TCP Keep Alive", fmt.Sprintf("%d sec", c.TCPKeepAliveSec))
	addField("TCP Linger", fmt.Sprintf("%d sec", c.TCPLingerSec))

	return sb.String()
}
