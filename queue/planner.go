package queue

import "github.com/ElsterSolutionsOpensource/C12Adapter-sub004/cerrors"

// SizeBudget bounds how much a Planner may pack into one APDU, per spec.md
// §4.H's "estimates for each command the outgoing request size and incoming
// response size... accumulates into an APDU until either the outgoing cap
// or the incoming cap would be breached" rule.
type SizeBudget struct {
	OutCap uint32
	InCap  uint32
}

// unknownReadEstimate is the incoming-size guess for a read whose declared
// length isn't known up front, per spec.md §4.H.
const unknownReadEstimate = 1024

// EstimateOut returns the outgoing wire-size contribution of c.
func EstimateOut(c *Command) int {
	switch c.Tag {
	case TagWrite, TagPartialWrite, TagExecRequest, TagExecRequestResponse:
		return len(c.Request) + 16
	case TagRead, TagPartialRead:
		return 8
	case TagExec, TagExecResponse:
		return 8
	default:
		return 4
	}
}

// EstimateIn returns the expected incoming wire-size contribution of c.
func EstimateIn(c *Command) int {
	if !c.HasResponse() {
		return 4
	}
	if c.Tag == TagPartialRead && c.Length > 0 {
		return int(c.Length) + 8
	}
	return unknownReadEstimate
}

// BatchExecFunc sends one APDU's worth of commands and fills in each
// command's Response/ResponsePresent/Err in place. It returns a non-nil
// error only for a failure that aborts the whole batch (e.g. a transport
// error); per-command NOK responses are recorded on the Command itself so
// sibling commands in the same batch still get a chance to run.
type BatchExecFunc func(batch []*Command) error

// RenegotiateFunc is called when a batch flush fails with an RQTL/RSTL-
// shaped error, so the caller (engine) can lower its negotiated size via
// retry.Renegotiate before the planner retries the same subrange.
type RenegotiateFunc func(err error) (retry bool)

// Planner implements spec.md §4.H's sessionless and session batch planning.
type Planner struct {
	Budget      SizeBudget
	Exec        BatchExecFunc
	Renegotiate RenegotiateFunc
	// PartialExec runs a single oversize command directly through the
	// partial-transfer splitter (spec.md §4.J) instead of batching it.
	PartialExec func(c *Command) error
}

// CommitSessionless walks cmds, splitting at StartSession/EndSession
// boundaries (which only toggle state and carry no wire traffic) and
// executing every contiguous run of service-carrying commands via
// do_q_commit_subrange's batching rule.
func (p *Planner) CommitSessionless(cmds []*Command) error {
	i := 0
	for i < len(cmds) {
		switch cmds[i].Tag {
		case TagStartSession, TagEndSession, TagEndSessionNoThrow, TagConnect, TagDisconnect:
			i++
			continue
		}
		j := i
		for j < len(cmds) {
			switch cmds[j].Tag {
			case TagStartSession, TagEndSession, TagEndSessionNoThrow, TagConnect, TagDisconnect:
				goto flush
			}
			j++
		}
	flush:
		if err := p.commitSubrange(cmds[i:j]); err != nil {
			return err
		}
		i = j
	}
	return nil
}

func (p *Planner) commitSubrange(cmds []*Command) error {
	i := 0
	for i < len(cmds) {
		if EstimateOut(cmds[i]) > int(p.Budget.OutCap) || EstimateIn(cmds[i]) > int(p.Budget.InCap) {
			if p.PartialExec == nil {
				return cerrors.New(cerrors.Software, "InvalidParameter", "command exceeds APDU budget and no partial executor configured")
			}
			if err := p.PartialExec(cmds[i]); err != nil {
				return err
			}
			i++
			continue
		}
		j := i + 1
		outSize := EstimateOut(cmds[i])
		inSize := EstimateIn(cmds[i])
		for j < len(cmds) {
			o := EstimateOut(cmds[j])
			n := EstimateIn(cmds[j])
			if outSize+o > int(p.Budget.OutCap) || inSize+n > int(p.Budget.InCap) {
				break
			}
			outSize += o
			inSize += n
			j++
		}
		if err := p.flush(cmds[i:j]); err != nil {
			return err
		}
		i = j
	}
	return nil
}

func (p *Planner) flush(batch []*Command) error {
	for {
		err := p.Exec(batch)
		if err == nil {
			return nil
		}
		if p.Renegotiate != nil && p.Renegotiate(err) {
			continue
		}
		return err
	}
}

// CommitSession executes cmds against an active session, one at a time
// (onePerApdu) or packed by the same subrange logic as CommitSessionless
// otherwise.
func (p *Planner) CommitSession(cmds []*Command, onePerApdu bool) error {
	if onePerApdu {
		for _, c := range cmds {
			if err := p.flush([]*Command{c}); err != nil {
				return err
			}
		}
		return nil
	}
	return p.commitSubrange(cmds)
}
