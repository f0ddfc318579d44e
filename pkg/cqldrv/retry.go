package cqldrv

import "github.com/cqldrv/cqldrv/pkg/cqlproto"

// RetryDecision is what a RetryPolicy tells the pipeline to do after a
// server or transport error.
type RetryDecision int

const (
	RetryRethrow RetryDecision = iota
	RetryIgnore
	RetrySameNode
	RetryNextNode
)

// RetryVerdict is a RetryDecision plus an optional consistency override,
// applied when the policy decides a retry should downgrade consistency
// (e.g. UnavailableException retried at one-less consistency).
type RetryVerdict struct {
	Decision   RetryDecision
	Consistency cqlproto.Consistency
	// OverrideConsistency is set when Consistency should replace the
	// statement's original consistency for the retry attempt.
	OverrideConsistency bool
}

// RetryPolicy decides what happens to a failed attempt, consulted with the
// error, the consistency level that was requested, the zero-based attempt
// count, and whether the statement is idempotent.
type RetryPolicy interface {
	Decide(err error, consistency cqlproto.Consistency, attempt int, isIdempotent bool) RetryVerdict
}

// DefaultRetryPolicy implements the standard retryability table:
// Unavailable downgrades consistency and moves to the next node,
// Overloaded/IsBootstrapping move to the next node untouched, ReadTimeout
// retries the same node once when the server reports enough replicas
// responded but no data was returned, WriteTimeout retries only for
// idempotent statements or batch-log writes. Unprepared is handled
// entirely by the pipeline before ever reaching a RetryPolicy and is not
// matched here.
type DefaultRetryPolicy struct{}

func (DefaultRetryPolicy) Decide(err error, consistency cqlproto.Consistency, attempt int, isIdempotent bool) RetryVerdict {
	se, ok := asServerError(err)
	if !ok {
		// Transport/wire errors: one retry on the next node, then give up.
		if attempt == 0 {
			return RetryVerdict{Decision: RetryNextNode}
		}
		return RetryVerdict{Decision: RetryRethrow}
	}

	switch se.Code {
	case cqlproto.ErrUnavailable:
		if attempt > 0 {
			return RetryVerdict{Decision: RetryRethrow}
		}
		if downgraded, ok := oneLessConsistency(consistency); ok {
			return RetryVerdict{Decision: RetryNextNode, Consistency: downgraded, OverrideConsistency: true}
		}
		return RetryVerdict{Decision: RetryRethrow}

	case cqlproto.ErrOverloaded, cqlproto.ErrIsBootstrapping:
		if attempt == 0 {
			return RetryVerdict{Decision: RetryNextNode}
		}
		return RetryVerdict{Decision: RetryRethrow}

	case cqlproto.ErrReadTimeout:
		if attempt == 0 && se.Body != nil && se.Body.ReadTimeoutExtra != nil {
			ex := se.Body.ReadTimeoutExtra
			if ex.Received >= ex.BlockFor && !ex.DataPresent {
				return RetryVerdict{Decision: RetrySameNode}
			}
		}
		return RetryVerdict{Decision: RetryRethrow}

	case cqlproto.ErrWriteTimeout:
		if attempt == 0 && (isIdempotent || isBatchLogWrite(se)) {
			return RetryVerdict{Decision: RetrySameNode}
		}
		return RetryVerdict{Decision: RetryRethrow}

	default:
		return RetryVerdict{Decision: RetryRethrow}
	}
}

func asServerError(err error) (*ServerError, bool) {
	se, ok := err.(*ServerError)
	return se, ok
}

func isBatchLogWrite(se *ServerError) bool {
	return se.Body != nil && se.Body.WriteTimeoutExtra != nil && se.Body.WriteTimeoutExtra.WriteType == "BATCH_LOG"
}

// oneLessConsistency implements the "retry at one-less consistency"
// downgrade path for UnavailableException, following the strength
// ordering ALL > EACH_QUORUM > QUORUM/LOCAL_QUORUM > TWO > ONE/LOCAL_ONE.
// ANY has no weaker level and is not downgraded.
func oneLessConsistency(c cqlproto.Consistency) (cqlproto.Consistency, bool) {
	switch c {
	case cqlproto.ConsistencyAll:
		return cqlproto.ConsistencyQuorum, true
	case cqlproto.ConsistencyEachQuorum:
		return cqlproto.ConsistencyQuorum, true
	case cqlproto.ConsistencyQuorum, cqlproto.ConsistencyLocalQuorum:
		return cqlproto.ConsistencyTwo, true
	case cqlproto.ConsistencyThree:
		return cqlproto.ConsistencyTwo, true
	case cqlproto.ConsistencyTwo:
		return cqlproto.ConsistencyOne, true
	default:
		return 0, false
	}
}

// FallthroughOnWriteTimeout is an alternative policy that never retries a
// WriteTimeout regardless of idempotence, otherwise delegating to
// DefaultRetryPolicy; useful for callers that would rather surface a
// write-timeout immediately than risk a duplicate write.
type FallthroughOnWriteTimeout struct{}

func (FallthroughOnWriteTimeout) Decide(err error, consistency cqlproto.Consistency, attempt int, isIdempotent bool) RetryVerdict {
	if se, ok := asServerError(err); ok && se.Code == cqlproto.ErrWriteTimeout {
		return RetryVerdict{Decision: RetryRethrow}
	}
	return DefaultRetryPolicy{}.Decide(err, consistency, attempt, isIdempotent)
}
