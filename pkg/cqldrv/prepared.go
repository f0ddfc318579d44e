package cqldrv

import (
	"context"
	"sync"

	"github.com/cqldrv/cqldrv/pkg/cqlproto"
)

// PreparedStatement is the result of a successful Prepare call: the id
// every node's prepared-statement cache keys on, plus the bind and result
// metadata needed to encode Execute parameters and decode rows.
type PreparedStatement struct {
	Query         string
	Keyspace      string
	ID            []byte
	BoundMetadata cqlproto.RowsMetadata
	ResultMeta    cqlproto.RowsMetadata
}

// RoutingKey derives the Execute routing key from positionalValues using
// the partition-key column positions the server returned in
// BoundMetadata.PartitionKeyIndexes. A single partition-key column's value
// is used as-is; a composite key is packed as CQL does it internally:
// [len:uint16][bytes][0x00] per component.
func (p *PreparedStatement) RoutingKey(positionalValues [][]byte) []byte {
	idx := p.BoundMetadata.PartitionKeyIndexes
	if len(idx) == 0 {
		return nil
	}
	if len(idx) == 1 {
		i := int(idx[0])
		if i >= len(positionalValues) {
			return nil
		}
		return positionalValues[i]
	}
	var out []byte
	for _, i := range idx {
		if int(i) >= len(positionalValues) {
			return nil
		}
		v := positionalValues[i]
		out = append(out, byte(len(v)>>8), byte(len(v)))
		out = append(out, v...)
		out = append(out, 0)
	}
	return out
}

// preparedCache is the per-session cache of prepared statements keyed by
// (keyspace, query) text, mirroring the "prepare once, execute everywhere"
// contract every node in the cluster is expected to honor identically.
type preparedCache struct {
	mu    sync.RWMutex
	byKey map[string]*PreparedStatement
}

func newPreparedCache() *preparedCache {
	return &preparedCache{byKey: make(map[string]*PreparedStatement)}
}

func preparedCacheKey(keyspace, query string) string {
	return keyspace + "\x00" + query
}

func (c *preparedCache) get(keyspace, query string) (*PreparedStatement, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ps, ok := c.byKey[preparedCacheKey(keyspace, query)]
	return ps, ok
}

func (c *preparedCache) put(ps *PreparedStatement) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byKey[preparedCacheKey(ps.Keyspace, ps.Query)] = ps
}

// prepareOn sends a Prepare request for query over c and returns the
// resulting PreparedStatement, without touching the cache; callers decide
// whether and how to cache it (attemptOnNode re-prepares on a node that
// returned UNPREPARED and stores the fresh result in the cache).
func prepareOn(ctx context.Context, c *conn, v cqlproto.Version, keyspace, query string) (*PreparedStatement, error) {
	w := &cqlproto.Writer{}
	cqlproto.EncodePrepare(w, &cqlproto.PrepareBody{Query: query, Keyspace: keyspace}, v)

	frame, err := c.sendRequest(ctx, cqlproto.OpPrepare, 0, w.Out)
	if err != nil {
		return nil, err
	}
	if frame.Opcode == cqlproto.OpError {
		return nil, newServerError(cqlproto.DecodeError(&cqlproto.Reader{Src: frame.Body}))
	}
	if frame.Opcode != cqlproto.OpResult {
		return nil, ErrUnexpectedResponse
	}

	r := &cqlproto.Reader{Src: frame.Body}
	result, err := cqlproto.DecodeResult(r, v)
	if err != nil {
		return nil, err
	}
	if result.Kind != cqlproto.ResultPrepared {
		return nil, ErrUnexpectedResponse
	}

	return &PreparedStatement{
		Query:         query,
		Keyspace:      keyspace,
		ID:            result.Prepared.ID,
		BoundMetadata: result.Prepared.BoundMetadata,
		ResultMeta:    result.Prepared.ResultMetadata,
	}, nil
}
