package distributed

import "context"

// runCongestionWorker implements spec §4.6's congestion worker algorithm:
//
//  1. Block on has_messages.
//  2. Round-robin over per_source_inboxes; for each non-empty source,
//     dequeue one MessageCtx, emit the next chunk, push to the
//     destination's outbox; if the outbox is full, yield and retry later
//     (backpressure to the source).
//  3. After each pass, if all inboxes are empty, go to 1.
//
// resolveOutbox must return (and lazily create, per spec §4.6 "if the
// target NodeId has no outbox yet...") the outbox for a RoutedChunk's node.
func runCongestionWorker(ctx context.Context, in *inboxes, hasMessages *notify, resolveOutbox func(RoutedChunk) *outbox) {
	for {
		if in.Empty() {
			if err := hasMessages.Wait(ctx); err != nil {
				return
			}
		}

		madeProgress := false
		blocked := false
		for {
			rc, ok := in.NextChunk()
			if !ok {
				break
			}
			madeProgress = true

			ob := resolveOutbox(rc)
			if ob == nil {
				// No route to the node at all; drop (nothing downstream
				// can ever deliver it).
				continue
			}
			if !ob.TryPush(rc.Chunk) {
				// Outbox full: put the chunk back so it isn't lost, and
				// back off this pass; the outbox's freed notify will wake
				// us again once the node worker drains it (spec §4.6
				// "yield and retry later").
				in.Requeue(rc)
				blocked = true
				break
			}
		}

		if blocked {
			if err := hasMessages.Wait(ctx); err != nil {
				return
			}
		}

		if !madeProgress && in.Empty() {
			select {
			case <-ctx.Done():
				return
			default:
			}
		}
	}
}
