package distributed

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lunatic-solutions/lunatic/id"
)

// ErrResponseTimeout is the error an in-flight response is completed with
// when the 5s sweep finds it still unset (spec §4.6 "Error(Unexpected(
// \"Response timeout.\"))").
var ErrResponseTimeout = errors.New("distributed: response timeout")

// sweepInterval and sweepAge match spec §4.6's fixed periodic sweep.
const (
	sweepInterval = 5 * time.Second
	sweepAge      = 5 * time.Second
)

// cell is the single-shot slot a correlated response is delivered into.
type cell struct {
	ch     chan ResponseContent
	set    bool
	issued time.Time
}

// correlationTable is "in_flight_responses" (spec §4.6): a MessageId keyed
// map of single-shot cells, swept periodically for entries that timed out
// unset or were set but never collected, modeled on eventloop.registry's
// periodic Scavenge pass (generalized here from "GC'd or Settled" to "older
// than 5s and unset"/"older than 5s, set but uncollected").
type correlationTable struct {
	mu    sync.Mutex
	cells map[id.MessageId]*cell

	now func() time.Time
}

func newCorrelationTable() *correlationTable {
	return &correlationTable{cells: make(map[id.MessageId]*cell), now: time.Now}
}

// Register inserts a pending cell for messageID before the request is
// enqueued (spec §4.6 "insert (message_id, cell) into in_flight_responses
// before enqueuing").
func (t *correlationTable) Register(messageID id.MessageId) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cells[messageID] = &cell{ch: make(chan ResponseContent, 1), issued: t.now()}
}

// Complete routes an inbound Response frame to its matching cell, if any
// (spec §4.6 "A background reader routes inbound Response{message_id,
// content} to the matching cell").
func (t *correlationTable) Complete(messageID id.MessageId, resp ResponseContent) {
	t.mu.Lock()
	c, ok := t.cells[messageID]
	t.mu.Unlock()
	if !ok || c.set {
		return
	}
	c.set = true
	c.ch <- resp
}

// Await blocks until messageID's response arrives, ctx is done, or the
// sweep times it out, then removes the entry (spec §4.6 "await_response
// takes from the cell and removes the entry").
func (t *correlationTable) Await(ctx context.Context, messageID id.MessageId) (ResponseContent, error) {
	t.mu.Lock()
	c, ok := t.cells[messageID]
	t.mu.Unlock()
	if !ok {
		return ResponseContent{}, errors.New("distributed: no such in-flight response")
	}

	defer func() {
		t.mu.Lock()
		delete(t.cells, messageID)
		t.mu.Unlock()
	}()

	select {
	case resp := <-c.ch:
		if resp.Code == sweepTimeoutCode {
			return ResponseContent{}, ErrResponseTimeout
		}
		return resp, nil
	case <-ctx.Done():
		return ResponseContent{}, ctx.Err()
	}
}

// sweepTimeoutCode is an internal marker distinguishing a Sweep-induced
// timeout from any real ResponseContent (none of the real result codes,
// spec §4.6, are negative).
const sweepTimeoutCode int32 = -1

// Sweep handles entries older than sweepAge: unset ones are completed with
// ErrResponseTimeout and stay in the table until Await collects them,
// set-but-uncollected ones are evicted (spec §4.6).
func (t *correlationTable) Sweep() {
	cutoff := t.now().Add(-sweepAge)

	t.mu.Lock()
	var stale []id.MessageId
	for mid, c := range t.cells {
		if c.issued.Before(cutoff) {
			stale = append(stale, mid)
		}
	}
	t.mu.Unlock()

	for _, mid := range stale {
		t.mu.Lock()
		c, ok := t.cells[mid]
		complete := ok && !c.set
		if complete {
			c.set = true
		} else if ok {
			delete(t.cells, mid)
		}
		t.mu.Unlock()
		if complete {
			c.ch <- ResponseContent{Code: sweepTimeoutCode}
		}
	}
}

// RunSweeper starts the periodic sweep loop (spec §4.6 "a periodic sweep
// (5s)"), returning once ctx is done.
func (t *correlationTable) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.Sweep()
		case <-ctx.Done():
			return
		}
	}
}
