package cqldrv

import (
	"context"

	"github.com/cqldrv/cqldrv/pkg/cqlproto"
)

// Iter walks the rows of a (possibly multi-page) result set, fetching the
// next page lazily as the caller exhausts the current one. It is not safe
// for concurrent use by more than one goroutine.
type Iter struct {
	ctx  context.Context
	sess *Session
	stmt *Statement

	cols []cqlproto.ColumnSpec
	rows [][][]byte
	pos  int

	hasMore bool
	err     error
	started bool
}

func newIter(ctx context.Context, sess *Session, stmt *Statement) *Iter {
	return &Iter{ctx: ctx, sess: sess, stmt: stmt}
}

// Next advances to the next row, fetching the next page over the network
// if the current page is exhausted and the server indicated more rows
// exist. Returns false at end-of-result or on error; check Err after a
// false return to distinguish the two.
func (it *Iter) Next() bool {
	if it.err != nil {
		return false
	}
	if !it.started {
		it.started = true
		if !it.fetch() {
			return false
		}
	}
	for it.pos >= len(it.rows) {
		if !it.hasMore {
			return false
		}
		if !it.fetch() {
			return false
		}
	}
	it.pos++
	return it.pos <= len(it.rows)
}

func (it *Iter) fetch() bool {
	result, err := it.sess.execute(it.ctx, it.stmt)
	if err != nil {
		it.err = err
		return false
	}
	if result.Kind != cqlproto.ResultRows {
		it.rows = nil
		it.hasMore = false
		return len(it.rows) > 0
	}
	it.cols = result.Rows.Metadata.Columns
	it.rows = result.Rows.Rows
	it.pos = 0
	it.hasMore = result.Rows.Metadata.HasMorePages
	it.stmt.PagingState = result.Rows.Metadata.PagingState
	return len(it.rows) > 0 || it.hasMore
}

// Err returns the first error encountered, if Next ever returned false
// because of one rather than plain end-of-result.
func (it *Iter) Err() error { return it.err }

// Columns returns the column metadata for the current page.
func (it *Iter) Columns() []cqlproto.ColumnSpec { return it.cols }

// Scan decodes the current row's cells into vals, one *cqlproto.Value per
// column in Columns order.
func (it *Iter) Scan(vals []*cqlproto.Value) error {
	if it.pos == 0 || it.pos > len(it.rows) {
		return ErrIterNotPositioned
	}
	row := it.rows[it.pos-1]
	for i := 0; i < len(vals) && i < len(row); i++ {
		if row[i] == nil {
			vals[i] = &cqlproto.Value{Type: it.cols[i].Type, Null: true}
			continue
		}
		v, err := cqlproto.DecodeValue(row[i], it.cols[i].Type)
		if err != nil {
			return err
		}
		vals[i] = v
	}
	return nil
}
