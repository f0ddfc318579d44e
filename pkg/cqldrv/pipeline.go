package cqldrv

import (
	"context"
	"time"

	"github.com/cqldrv/cqldrv/pkg/cqlproto"
)

// Statement is one request to execute: either a plain CQL string or a
// prepared statement bound to positional values. The zero value of
// Consistency (ANY) means "use the session's configured default", so a
// Statement requests ANY only when that default is itself ANY.
type Statement struct {
	Query    string
	Prepared *PreparedStatement

	PositionalValues [][]byte
	ValueIsNull      []bool
	ValueIsNotSet    []bool

	Consistency       cqlproto.Consistency
	SerialConsistency cqlproto.Consistency
	PageSize          int32
	PagingState       []byte

	Idempotent bool
	Keyspace   string
	RoutingKey []byte
}

func (s *Statement) params(defaultConsistency, defaultSerial cqlproto.Consistency) cqlproto.QueryParams {
	p := cqlproto.QueryParams{
		Consistency:       s.Consistency,
		PositionalValues:  s.PositionalValues,
		ValueIsNull:       s.ValueIsNull,
		ValueIsNotSet:     s.ValueIsNotSet,
		PageSize:          s.PageSize,
		PagingState:       s.PagingState,
		SerialConsistency: s.SerialConsistency,
	}
	if p.Consistency == cqlproto.ConsistencyAny && defaultConsistency != cqlproto.ConsistencyAny {
		p.Consistency = defaultConsistency
	}
	if len(p.PositionalValues) > 0 {
		p.Flags |= cqlproto.QFValues
	}
	if p.PageSize > 0 {
		p.Flags |= cqlproto.QFPageSize
	}
	if len(p.PagingState) > 0 {
		p.Flags |= cqlproto.QFPagingState
	}
	if p.SerialConsistency == 0 && defaultSerial != 0 {
		p.SerialConsistency = defaultSerial
	}
	if p.SerialConsistency != 0 {
		p.Flags |= cqlproto.QFSerialConsistency
	}
	if s.Keyspace != "" {
		p.Keyspace = s.Keyspace
		p.Flags |= cqlproto.QFKeyspace
	}
	return p
}

func (s *Statement) routingHint() RoutingHint {
	h := RoutingHint{Keyspace: s.Keyspace, RoutingKey: s.RoutingKey}
	if len(s.RoutingKey) > 0 {
		h.HasToken = true
		h.Token = murmur3Token(s.RoutingKey)
	}
	return h
}

// attemptResult is what one node attempt produced, successful or not.
type attemptResult struct {
	node  *Node
	frame *cqlproto.Frame
	err   error
}

// execute runs the full request pipeline for stmt against sess: query-plan
// construction, pooled-connection selection, speculative execution,
// UNPREPARED recovery, and retry-policy-driven node/consistency fallback.
func (sess *Session) execute(ctx context.Context, stmt *Statement) (*cqlproto.ResultBody, error) {
	cfg := sess.cfg
	plan := cfg.LoadBalancer.Plan(sess.cluster.Nodes(), stmt.routingHint())

	var attempts []NodeAttempt
	spec := cfg.Speculative.Decide(stmt.Idempotent)

	// Sized to the most attempts that can ever be simultaneously in
	// flight (the first attempt plus every speculative one): a same-node
	// or next-node retry only ever replaces an attempt that was just
	// consumed off this channel, so it never pushes the concurrent count
	// past that cap. Every in-flight goroutine can therefore always send
	// its result without blocking, even ones still running after execute
	// has already returned — no goroutine is left stuck trying to send
	// to a channel nobody reads anymore.
	resultCh := make(chan attemptResult, 1+spec.MaxSpec)
	inFlight := 0
	specLaunched := 0
	var specTimer *time.Timer
	var specCh <-chan time.Time

	launchNext := func() bool {
		node, ok := plan.Next()
		if !ok {
			return false
		}
		inFlight++
		go func() {
			frame, err := sess.attemptOnNode(ctx, stmt, node)
			resultCh <- attemptResult{node: node, frame: frame, err: err}
		}()
		return true
	}

	if !launchNext() {
		return nil, &NoHostAvailableError{}
	}
	if spec.Enabled {
		specTimer = time.NewTimer(spec.After)
		specCh = specTimer.C
		defer specTimer.Stop()
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-specCh:
			if specLaunched < spec.MaxSpec && launchNext() {
				specLaunched++
				specTimer.Reset(spec.After)
			} else {
				specCh = nil
			}

		case res := <-resultCh:
			inFlight--
			if res.err == nil {
				return decodeResultFrame(res.frame, cfg.ProtocolVersion)
			}

			attempts = append(attempts, NodeAttempt{Node: res.node.Endpoint, Err: res.err})
			requested := stmt.Consistency
			if requested == cqlproto.ConsistencyAny {
				requested = cfg.DefaultConsistency
			}
			verdict := cfg.Retry.Decide(res.err, requested, len(attempts)-1, stmt.Idempotent)

			switch verdict.Decision {
			case RetryIgnore:
				return &cqlproto.ResultBody{Kind: cqlproto.ResultVoid}, nil
			case RetrySameNode:
				if verdict.OverrideConsistency {
					stmt.Consistency = verdict.Consistency
				}
				inFlight++
				node := res.node
				go func() {
					frame, err := sess.attemptOnNode(ctx, stmt, node)
					resultCh <- attemptResult{node: node, frame: frame, err: err}
				}()
			case RetryNextNode:
				if verdict.OverrideConsistency {
					stmt.Consistency = verdict.Consistency
				}
				if !launchNext() && inFlight == 0 {
					return nil, &NoHostAvailableError{Attempts: attempts}
				}
			default: // RetryRethrow
				if inFlight == 0 {
					return nil, &NoHostAvailableError{Attempts: attempts}
				}
			}
		}
	}
}

// attemptOnNode runs stmt against one node: acquire a pooled connection,
// send Query or Execute, and transparently re-prepare on ErrUnprepared
// before retrying once on the same connection.
func (sess *Session) attemptOnNode(ctx context.Context, stmt *Statement, node *Node) (*cqlproto.Frame, error) {
	c, ok := sess.conns.pick(node)
	if !ok {
		return nil, ErrConnDead
	}

	frame, err := sess.sendStatement(ctx, c, stmt)
	if err != nil {
		return nil, err
	}
	if frame.Opcode != cqlproto.OpError {
		return frame, nil
	}

	eb := cqlproto.DecodeError(&cqlproto.Reader{Src: frame.Body})
	if eb.Code == cqlproto.ErrUnprepared && stmt.Prepared != nil {
		reprepared, err := prepareOn(ctx, c, sess.cfg.ProtocolVersion, stmt.Prepared.Keyspace, stmt.Prepared.Query)
		if err != nil {
			return nil, newServerError(eb)
		}
		sess.prepared.put(reprepared)
		stmt.Prepared = reprepared
		return sess.sendStatement(ctx, c, stmt)
	}
	return nil, newServerError(eb)
}

func (sess *Session) sendStatement(ctx context.Context, c *conn, stmt *Statement) (*cqlproto.Frame, error) {
	v := sess.cfg.ProtocolVersion
	params := stmt.params(sess.cfg.DefaultConsistency, sess.cfg.DefaultSerialConsistency)

	w := &cqlproto.Writer{}
	if stmt.Prepared != nil {
		cqlproto.EncodeExecute(w, &cqlproto.ExecuteBody{PreparedID: stmt.Prepared.ID, Params: params}, v)
		return c.sendRequest(ctx, cqlproto.OpExecute, 0, w.Out)
	}
	cqlproto.EncodeQuery(w, &cqlproto.QueryBody{Query: stmt.Query, Params: params}, v)
	return c.sendRequest(ctx, cqlproto.OpQuery, 0, w.Out)
}

func decodeResultFrame(frame *cqlproto.Frame, v cqlproto.Version) (*cqlproto.ResultBody, error) {
	r := &cqlproto.Reader{Src: frame.Body}
	return cqlproto.DecodeResult(r, v)
}
