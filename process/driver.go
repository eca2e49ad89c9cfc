package process

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/lunatic-solutions/lunatic/message"
	"github.com/lunatic-solutions/lunatic/runtimeglue"
	"github.com/lunatic-solutions/lunatic/signal"
)

// Run drives the process to completion (spec §4.3): it races the signal
// inbox against futCh, biased toward signals, until futCh resolves or a
// kill path fires, then tears down exactly once.
//
// futCh is the guest execution future (runtimeglue.GuestInstance.Run's
// result channel); Run does not itself compile or instantiate anything, so
// callers that want the "link establishment race" guarantee must seed any
// pre-spawn signals (see Spawn) before calling Run in the child's
// goroutine.
func (p *Process) Run(ctx context.Context, futCh <-chan runtimeglue.ExecResult) Outcome {
	outcome := p.drive(ctx, futCh)
	p.teardown(outcome)
	return outcome
}

func (p *Process) drive(ctx context.Context, futCh <-chan runtimeglue.ExecResult) Outcome {
	for {
		// Bias toward signals: drain whatever's already queued before
		// considering the guest future at all (spec §4.3 step 1, §5
		// "signals drain biased over messages").
		if sig, ok := p.popSignal(); ok {
			if outcome, done := p.handleSignal(sig); done {
				return outcome
			}
			continue
		}

		select {
		case <-p.wake:
			continue
		case res := <-futCh:
			return outcomeFromExec(res)
		case <-ctx.Done():
			return Outcome{Kind: KindKilled, Err: ctx.Err()}
		}
	}
}

// handleSignal applies one signal per spec §4.3 step 2. done is true when
// the loop must stop (Kill, or a die-when-link-dies-triggered LinkDied).
func (p *Process) handleSignal(sig signal.Signal) (Outcome, bool) {
	switch sig.Kind() {
	case signal.KindMessage:
		p.box.Push(sig.Message())
		return Outcome{}, false

	case signal.KindDieWhenLinkDies:
		p.setDieWhenLinkDies(sig.Flag())
		return Outcome{}, false

	case signal.KindLink:
		p.recordLink(sig.Tag(), sig.Peer())
		return Outcome{}, false

	case signal.KindUnLink:
		p.dropLink(sig.PeerID())
		return Outcome{}, false

	case signal.KindKill:
		return Outcome{Kind: KindKilled}, true

	case signal.KindLinkDied:
		p.dropLink(sig.PeerID())
		if (sig.Reason() == signal.ReasonFailure || sig.Reason() == signal.ReasonNoProcess) && p.getDieWhenLinkDies() {
			return Outcome{Kind: KindKilled}, true
		}
		if sig.Reason() != signal.ReasonNormal {
			p.box.Push(message.NewLinkDied(sig.Tag()))
		}
		return Outcome{}, false

	default:
		return Outcome{}, false
	}
}

func outcomeFromExec(res runtimeglue.ExecResult) Outcome {
	if res.Trap || res.Err != nil {
		return Outcome{Kind: KindNormal, Err: res.Err}
	}
	return Outcome{Kind: KindNormal}
}

// teardown runs exactly once per process (spec §4.3 teardown a-c): removes
// the process from its environment's directory, notifies every live link,
// and marks the process dead so further sends are silently dropped.
func (p *Process) teardown(outcome Outcome) {
	p.env.Remove(p.pid)

	reason := signal.ReasonNormal
	if outcome.Failed() {
		reason = signal.ReasonFailure
	}

	// Fan out LinkDied notifications concurrently: a process with many
	// links shouldn't pay for them serially, and no notification's
	// delivery depends on another's (Send never errors, so the group is
	// just a wait mechanism here).
	var g errgroup.Group
	for _, link := range p.snapshotLinks() {
		link := link
		g.Go(func() error {
			link.peer.Send(signal.LinkDied(p.pid, link.tag, reason))
			return nil
		})
	}
	_ = g.Wait()

	p.dead.Store(true)
}
