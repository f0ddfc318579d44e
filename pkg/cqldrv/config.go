package cqldrv

import (
	"crypto/tls"
	"time"

	"github.com/cqldrv/cqldrv/pkg/cqlproto"
	"github.com/cqldrv/cqldrv/pkg/sasl"
)

// Compression names the body-compression algorithm negotiated at Startup.
type Compression int

const (
	CompressionNone Compression = iota
	CompressionLZ4
	CompressionSnappy
)

func (c Compression) compressor() (cqlproto.Compressor, bool) {
	switch c {
	case CompressionLZ4:
		return cqlproto.LZ4Compressor{}, true
	case CompressionSnappy:
		return cqlproto.SnappyCompressor{}, true
	default:
		return nil, false
	}
}

func (c Compression) name() string {
	switch c {
	case CompressionLZ4:
		return "lz4"
	case CompressionSnappy:
		return "snappy"
	default:
		return ""
	}
}

// EventSet is the multiset of server-event kinds a session registers for.
type EventSet struct {
	TopologyChange bool
	StatusChange   bool
	SchemaChange   bool
}

func (s EventSet) types() []cqlproto.EventType {
	var out []cqlproto.EventType
	if s.TopologyChange {
		out = append(out, cqlproto.EventTopologyChange)
	}
	if s.StatusChange {
		out = append(out, cqlproto.EventStatusChange)
	}
	if s.SchemaChange {
		out = append(out, cqlproto.EventSchemaChange)
	}
	return out
}

// ClusterConfig enumerates the driver's configuration surface: contact
// points, protocol/compression negotiation, pooling, event subscription,
// and the pluggable policies (reconnection, retry, load balancing,
// speculative execution).
type ClusterConfig struct {
	// Hosts is the initial contact-point list, "host:port" or bare host
	// (DefaultPort is assumed).
	Hosts []string
	// DefaultPort is used for any Hosts entry lacking an explicit port.
	DefaultPort int

	ProtocolVersion cqlproto.Version
	Compression     Compression

	TCPNoDelay   bool
	BufferSize   int
	Heartbeat    time.Duration

	// ConnsPerNode is the number of pooled connections maintained to each
	// UP node.
	ConnsPerNode int
	// MaxInFlightPerConn is the per-connection soft limit on outstanding
	// requests.
	MaxInFlightPerConn int

	Keyspace string

	Events EventSet

	Reconnection ReconnectionPolicy
	Retry        RetryPolicy
	LoadBalancer LoadBalancer
	Speculative  SpeculativePolicy

	DefaultConsistency       cqlproto.Consistency
	DefaultSerialConsistency cqlproto.Consistency
	DefaultIdempotence       bool

	Authenticator sasl.Mechanism

	TLSConfig *tls.Config

	ConnectTimeout time.Duration
	RequestTimeout time.Duration

	Logger Logger
	Hooks  []Hook
}

// DefaultClusterConfig returns a ClusterConfig with reasonable
// production defaults: protocol v4, no compression, round-robin load
// balancing, exponential reconnection, and local-quorum consistency.
func DefaultClusterConfig(hosts ...string) *ClusterConfig {
	return &ClusterConfig{
		Hosts:                    hosts,
		DefaultPort:              9042,
		ProtocolVersion:          cqlproto.ProtocolV4,
		Compression:              CompressionNone,
		TCPNoDelay:               true,
		BufferSize:               4096,
		Heartbeat:                30 * time.Second,
		ConnsPerNode:             2,
		MaxInFlightPerConn:       1024,
		Events:                   EventSet{TopologyChange: true, StatusChange: true, SchemaChange: true},
		Reconnection:             NewExponentialReconnectionPolicy(time.Second, time.Minute, 0),
		Retry:                    DefaultRetryPolicy{},
		LoadBalancer:             NewRoundRobinPolicy(),
		Speculative:              NoSpeculativeExecution{},
		DefaultConsistency:       cqlproto.ConsistencyLocalQuorum,
		DefaultSerialConsistency: cqlproto.ConsistencySerial,
		ConnectTimeout:           5 * time.Second,
		RequestTimeout:           12 * time.Second,
		Logger:                   nopLogger{},
	}
}

func (cfg *ClusterConfig) logger() Logger {
	if cfg.Logger == nil {
		return nopLogger{}
	}
	return cfg.Logger
}

func (cfg *ClusterConfig) hooks() hooks {
	return hooks(cfg.Hooks)
}
