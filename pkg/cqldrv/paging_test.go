package cqldrv

import (
	"context"
	"testing"
	"time"

	"github.com/cqldrv/cqldrv/pkg/cqlproto"
)

// encodePagedRows hand-builds an OpResult/ResultRows body with a single
// varchar column, optionally flagged as having another page to follow.
func encodePagedRows(colName string, values []string, pagingState []byte) []byte {
	w := &cqlproto.Writer{}
	w.Int(int32(cqlproto.ResultRows))
	flags := int32(0)
	if pagingState != nil {
		flags |= int32(cqlproto.RowsFlagHasMorePages)
	}
	w.Int(flags)
	w.Int(int32(1)) // column count
	if pagingState != nil {
		w.Bytes(pagingState, true)
	}
	w.String("ks")
	w.String("tbl")
	w.String(colName)
	w.Short(0x000D) // varchar
	w.Int(int32(len(values)))
	for _, v := range values {
		w.Bytes([]byte(v), true)
	}
	return w.Out
}

func TestIter_SinglePage(t *testing.T) {
	cfg := DefaultClusterConfig("a:9042")
	a := newNode("a:9042", "a:9042", "dc1", "r1", nil)
	sess := newTestSession(cfg, []*Node{a})

	c, srv := liveConnOverPipe(a, cfg)
	defer srv.Close()
	installConn(sess, a, c)

	go serverFrame(t, srv, cqlproto.OpResult, encodePagedRows("name", []string{"alice", "bob"}, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	it := sess.Iter(ctx, &Statement{Query: "SELECT name FROM users"})

	var got []string
	for it.Next() {
		vals := make([]*cqlproto.Value, 1)
		if err := it.Scan(vals); err != nil {
			t.Fatalf("Scan: %v", err)
		}
		got = append(got, vals[0].Str)
	}
	if err := it.Err(); err != nil {
		t.Fatalf("Iter.Err: %v", err)
	}
	if len(got) != 2 || got[0] != "alice" || got[1] != "bob" {
		t.Fatalf("rows = %v, want [alice bob]", got)
	}
}

func TestIter_Scan_BeforeNextReturnsError(t *testing.T) {
	it := &Iter{}
	if err := it.Scan(make([]*cqlproto.Value, 1)); err != ErrIterNotPositioned {
		t.Fatalf("Scan before Next: err = %v, want ErrIterNotPositioned", err)
	}
}

func TestIter_MultiPage_CarriesPagingStateBetweenFetches(t *testing.T) {
	cfg := DefaultClusterConfig("a:9042")
	a := newNode("a:9042", "a:9042", "dc1", "r1", nil)
	sess := newTestSession(cfg, []*Node{a})

	c, srv := liveConnOverPipe(a, cfg)
	defer srv.Close()
	installConn(sess, a, c)

	pageToken := []byte("page-2-token")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	stmt := &Statement{Query: "SELECT name FROM users", PageSize: 2}
	it := newIter(ctx, sess, stmt)

	go serverFrame(t, srv, cqlproto.OpResult, encodePagedRows("name", []string{"alice"}, pageToken))
	if !it.fetch() {
		t.Fatalf("first fetch() = false, want true")
	}
	if string(stmt.PagingState) != string(pageToken) {
		t.Fatalf("stmt.PagingState after first page = %q, want %q", stmt.PagingState, pageToken)
	}
	if !it.hasMore {
		t.Fatalf("hasMore after first page = false, want true")
	}

	go serverFrame(t, srv, cqlproto.OpResult, encodePagedRows("name", []string{"bob"}, nil))
	if !it.fetch() {
		t.Fatalf("second fetch() = false, want true")
	}
	if it.hasMore {
		t.Fatalf("hasMore after final page = true, want false")
	}
	if len(stmt.PagingState) != 0 {
		t.Fatalf("stmt.PagingState after final page = %q, want empty", stmt.PagingState)
	}
}
