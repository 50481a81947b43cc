package queue

import "testing"

func TestCommitSessionlessSplitsAtSessionBoundaries(t *testing.T) {
	var batches [][]*Command
	p := &Planner{
		Budget: SizeBudget{OutCap: 1000, InCap: 10000},
		Exec: func(batch []*Command) error {
			batches = append(batches, batch)
			return nil
		},
	}
	cmds := []*Command{
		{Tag: TagRead, Number: 1},
		{Tag: TagRead, Number: 2},
		{Tag: TagStartSession},
		{Tag: TagRead, Number: 3},
		{Tag: TagEndSession},
	}
	if err := p.CommitSessionless(cmds); err != nil {
		t.Fatal(err)
	}
	if len(batches) != 2 {
		t.Fatalf("expected 2 batches split at the session boundary, got %d", len(batches))
	}
	if len(batches[0]) != 2 || len(batches[1]) != 1 {
		t.Errorf("unexpected batch sizes: %d, %d", len(batches[0]), len(batches[1]))
	}
}

func TestCommitSubrangePacksWithinBudget(t *testing.T) {
	var batches [][]*Command
	p := &Planner{
		Budget: SizeBudget{OutCap: 20, InCap: 10000},
		Exec: func(batch []*Command) error {
			batches = append(batches, batch)
			return nil
		},
	}
	cmds := []*Command{
		{Tag: TagRead, Number: 1}, // EstimateOut = 8
		{Tag: TagRead, Number: 2}, // 8 + 8 = 16 <= 20, fits
		{Tag: TagRead, Number: 3}, // 16 + 8 = 24 > 20, new batch
	}
	if err := p.CommitSessionless(cmds); err != nil {
		t.Fatal(err)
	}
	if len(batches) != 2 {
		t.Fatalf("expected 2 batches, got %d", len(batches))
	}
	if len(batches[0]) != 2 || len(batches[1]) != 1 {
		t.Errorf("unexpected packing: %v", batches)
	}
}

func TestCommitSubrangeUsesPartialExecWhenOversize(t *testing.T) {
	var partialed []*Command
	p := &Planner{
		Budget: SizeBudget{OutCap: 4, InCap: 4},
		Exec: func(batch []*Command) error {
			t.Fatalf("Exec should not be called for an oversize command, got %v", batch)
			return nil
		},
		PartialExec: func(c *Command) error {
			partialed = append(partialed, c)
			return nil
		},
	}
	cmds := []*Command{{Tag: TagWrite, Number: 1, Request: make([]byte, 100)}}
	if err := p.CommitSessionless(cmds); err != nil {
		t.Fatal(err)
	}
	if len(partialed) != 1 {
		t.Fatalf("expected 1 command routed through PartialExec, got %d", len(partialed))
	}
}

func TestCommitSubrangeErrorsWithoutPartialExec(t *testing.T) {
	p := &Planner{
		Budget: SizeBudget{OutCap: 4, InCap: 4},
		Exec: func(batch []*Command) error {
			return nil
		},
	}
	cmds := []*Command{{Tag: TagWrite, Number: 1, Request: make([]byte, 100)}}
	if err := p.CommitSessionless(cmds); err == nil {
		t.Fatal("expected error for an oversize command with no partial executor")
	}
}

func TestFlushRetriesOnRenegotiate(t *testing.T) {
	attempts := 0
	p := &Planner{
		Budget: SizeBudget{OutCap: 1000, InCap: 10000},
		Exec: func(batch []*Command) error {
			attempts++
			if attempts < 2 {
				return errTooBig
			}
			return nil
		},
		Renegotiate: func(err error) bool {
			return err == errTooBig
		},
	}
	cmds := []*Command{{Tag: TagRead, Number: 1}}
	if err := p.CommitSessionless(cmds); err != nil {
		t.Fatal(err)
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts after one renegotiate retry, got %d", attempts)
	}
}

func TestCommitSessionOnePerApdu(t *testing.T) {
	var batches [][]*Command
	p := &Planner{
		Exec: func(batch []*Command) error {
			batches = append(batches, batch)
			return nil
		},
	}
	cmds := []*Command{{Tag: TagRead, Number: 1}, {Tag: TagRead, Number: 2}}
	if err := p.CommitSession(cmds, true); err != nil {
		t.Fatal(err)
	}
	if len(batches) != 2 {
		t.Fatalf("expected one APDU per command, got %d batches", len(batches))
	}
}

type sentinelErr struct{ msg string }

func (e *sentinelErr) Error() string { return e.msg }

var errTooBig = &sentinelErr{"RQTL"}
