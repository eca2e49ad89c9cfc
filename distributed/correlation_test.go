package distributed

import (
	"context"
	"testing"
	"time"

	"github.com/lunatic-solutions/lunatic/id"
)

func TestCorrelationTableRoundTrip(t *testing.T) {
	tbl := newCorrelationTable()
	tbl.Register(id.MessageId(1))
	tbl.Complete(id.MessageId(1), ResponseContent{Code: ResultSpawned, Payload: []byte{1}})

	resp, err := tbl.Await(context.Background(), id.MessageId(1))
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if resp.Code != ResultSpawned {
		t.Fatalf("Code = %d, want ResultSpawned", resp.Code)
	}

	tbl.mu.Lock()
	_, stillThere := tbl.cells[id.MessageId(1)]
	tbl.mu.Unlock()
	if stillThere {
		t.Fatalf("Await should remove the cell once collected")
	}
}

func TestCorrelationTableCompleteUnknownIsNoop(t *testing.T) {
	tbl := newCorrelationTable()
	tbl.Complete(id.MessageId(99), ResponseContent{Code: ResultSpawned})
}

func TestCorrelationTableAwaitUnknown(t *testing.T) {
	tbl := newCorrelationTable()
	if _, err := tbl.Await(context.Background(), id.MessageId(5)); err == nil {
		t.Fatalf("Await on an unregistered id should error")
	}
}

func TestCorrelationTableSweepTimesOutStale(t *testing.T) {
	tbl := newCorrelationTable()
	start := time.Now()
	cur := start
	tbl.now = func() time.Time { return cur }

	tbl.Register(id.MessageId(7))
	cur = start.Add(sweepAge + time.Second)
	tbl.Sweep()

	_, err := tbl.Await(context.Background(), id.MessageId(7))
	if err != ErrResponseTimeout {
		t.Fatalf("Await after sweep error = %v, want ErrResponseTimeout", err)
	}
}

func TestCorrelationTableAwaitRespectsContext(t *testing.T) {
	tbl := newCorrelationTable()
	tbl.Register(id.MessageId(3))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := tbl.Await(ctx, id.MessageId(3)); err == nil {
		t.Fatalf("Await should return the context's error once it expires")
	}
}
