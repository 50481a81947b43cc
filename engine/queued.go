package engine

import (
	"github.com/ElsterSolutionsOpensource/C12Adapter-sub004/acse"
	"github.com/ElsterSolutionsOpensource/C12Adapter-sub004/buffer"
	"github.com/ElsterSolutionsOpensource/C12Adapter-sub004/c12"
	"github.com/ElsterSolutionsOpensource/C12Adapter-sub004/cerrors"
	"github.com/ElsterSolutionsOpensource/C12Adapter-sub004/epsem"
	"github.com/ElsterSolutionsOpensource/C12Adapter-sub004/queue"
)

// QConnect, QDisconnect, QStartSession, QEndSession, QEndSessionNoThrow,
// QWriteToMonitor, QTableRead, QTableReadPartial, QTableWrite,
// QTableWritePartial, and the QFunctionExec* family queue a command for a
// later QCommit, per spec.md §4.H. None of these touch the wire.

func (e *Engine) QConnect() { e.q.Push(&queue.Command{Tag: queue.TagConnect}) }

func (e *Engine) QDisconnect() { e.q.Push(&queue.Command{Tag: queue.TagDisconnect}) }

func (e *Engine) QStartSession() { e.q.Push(&queue.Command{Tag: queue.TagStartSession}) }

func (e *Engine) QEndSession() { e.q.Push(&queue.Command{Tag: queue.TagEndSession}) }

func (e *Engine) QEndSessionNoThrow() { e.q.Push(&queue.Command{Tag: queue.TagEndSessionNoThrow}) }

func (e *Engine) QWriteToMonitor(text string) {
	e.q.Push(&queue.Command{Tag: queue.TagWriteToMonitor, Request: []byte(text)})
}

func (e *Engine) QIdentifyMeter(id uint32) {
	e.q.Push(&queue.Command{Tag: queue.TagIdentifyMeter, Number: 1, ID: id})
}

func (e *Engine) QTableRead(table uint16, id uint32) {
	e.q.Push(&queue.Command{Tag: queue.TagRead, Number: uint32(table), ID: id})
}

func (e *Engine) QTableReadPartial(table uint16, offset uint32, length uint16, id uint32) {
	e.q.Push(&queue.Command{Tag: queue.TagPartialRead, Number: uint32(table), Offset: offset, Length: length, ID: id})
}

func (e *Engine) QTableWrite(table uint16, data []byte, id uint32) {
	e.q.Push(&queue.Command{Tag: queue.TagWrite, Number: uint32(table), Request: data, ID: id})
}

func (e *Engine) QTableWritePartial(table uint16, offset uint32, data []byte, id uint32) {
	e.q.Push(&queue.Command{Tag: queue.TagPartialWrite, Number: uint32(table), Offset: offset, Request: data, ID: id})
}

// QFunctionExec queues a procedure invocation with no request payload and no
// response read.
func (e *Engine) QFunctionExec(procNum uint16, id uint32) {
	e.q.Push(&queue.Command{Tag: queue.TagExec, Number: uint32(procNum), ID: id})
}

// QFunctionExecRequest queues a procedure invocation carrying a request
// payload but reading no response.
func (e *Engine) QFunctionExecRequest(procNum uint16, request []byte, id uint32) {
	e.q.Push(&queue.Command{Tag: queue.TagExecRequest, Number: uint32(procNum), Request: request, ID: id})
}

// QFunctionExecResponse queues a bodiless procedure invocation followed by an
// ST8 read.
func (e *Engine) QFunctionExecResponse(procNum uint16, id uint32) {
	e.q.Push(&queue.Command{Tag: queue.TagExecResponse, Number: uint32(procNum), ID: id})
}

// QFunctionExecRequestResponse queues a procedure invocation with both a
// request payload and an ST8 read.
func (e *Engine) QFunctionExecRequestResponse(procNum uint16, request []byte, id uint32) {
	e.q.Push(&queue.Command{Tag: queue.TagExecRequestResponse, Number: uint32(procNum), Request: request, ID: id})
}

// QGetTableData returns the response data queued command (table, id) resolved
// to, or an error if it failed or is not yet resolved.
func (e *Engine) QGetTableData(table uint16, id uint32) ([]byte, error) {
	return e.qGetResponse(queue.TagRead, uint32(table), id)
}

// QGetFunctionData is QGetTableData's analog for a queued procedure exec.
func (e *Engine) QGetFunctionData(procNum uint16, id uint32) ([]byte, error) {
	return e.qGetResponse(queue.TagExecResponse, uint32(procNum), id)
}

func (e *Engine) qGetResponse(family queue.Tag, number, id uint32) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c := queue.FindResponseTarget(e.resolved, family, number, id)
	if c == nil {
		return nil, cerrors.New(cerrors.Software, "InvalidParameter", "no resolved queued command matches this family/number/id")
	}
	return c.Response, c.Err
}

// QAbort discards every queued command without executing any of them.
func (e *Engine) QAbort() {
	e.q.Abort()
}

// QIsDone reports whether an asynchronous QCommit has finished.
func (e *Engine) QIsDone() bool { return !e.activeBackground.Load() }

// QCommit runs every queued command in order. If async, QCommit returns
// immediately and the commands run on a background goroutine; QIsDone and
// QAbort remain callable while it runs, per spec.md §5's background-activity
// rule, but no other Engine method is until it finishes.
func (e *Engine) QCommit(async bool) error {
	if err := e.guardForeground(); err != nil {
		return err
	}
	cmds := e.q.Snapshot()
	e.q.Clear()
	if !async {
		return e.runCommandList(cmds)
	}
	e.activeBackground.Store(true)
	go func() {
		defer e.activeBackground.Store(false)
		e.setAsyncErr(e.runCommandList(cmds))
	}()
	return nil
}

func (e *Engine) setAsyncErr(err error) {
	e.mu.Lock()
	e.asyncErr = err
	e.mu.Unlock()
}

// QAsyncError returns the error (if any) the most recently completed
// asynchronous QCommit finished with.
func (e *Engine) QAsyncError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.asyncErr
}

// runCommandList walks cmds, executing TagConnect/TagDisconnect/
// TagStartSession/TagEndSession/TagEndSessionNoThrow/TagWriteToMonitor
// directly, one at a time and outside any batched APDU, and handing each
// contiguous run of service-carrying commands to the planner.
func (e *Engine) runCommandList(cmds []*queue.Command) error {
	i := 0
	for i < len(cmds) {
		if isBoundaryCommand(cmds[i].Tag) {
			e.runBoundaryCommand(cmds[i])
			i++
			continue
		}
		j := i
		for j < len(cmds) && !isBoundaryCommand(cmds[j].Tag) {
			j++
		}
		var err error
		if e.sess.Sessionless {
			err = e.planner.CommitSessionless(cmds[i:j])
		} else {
			err = e.planner.CommitSession(cmds[i:j], e.cfg.OnePerApdu)
		}
		e.recordResolved(cmds[i:j])
		if err != nil {
			return err
		}
		i = j
	}
	return nil
}

func isBoundaryCommand(t queue.Tag) bool {
	switch t {
	case queue.TagConnect, queue.TagDisconnect, queue.TagStartSession, queue.TagEndSession, queue.TagEndSessionNoThrow, queue.TagWriteToMonitor:
		return true
	default:
		return false
	}
}

func (e *Engine) runBoundaryCommand(c *queue.Command) {
	switch c.Tag {
	case queue.TagConnect:
		c.Err = e.connect()
	case queue.TagDisconnect:
		c.Err = e.disconnect()
	case queue.TagStartSession:
		c.Err = e.startSession()
	case queue.TagEndSession:
		c.Err = e.endSession(false)
	case queue.TagEndSessionNoThrow:
		e.EndSessionNoThrow()
	case queue.TagWriteToMonitor:
		if e.mon != nil {
			e.mon.Write(string(c.Request))
		}
	}
	e.recordResolved([]*queue.Command{c})
}

func (e *Engine) recordResolved(cmds []*queue.Command) {
	e.mu.Lock()
	e.resolved = append(e.resolved, cmds...)
	e.mu.Unlock()
}

// execBatch is the queue.BatchExecFunc: it packs every command in batch into
// one EPSEM body, sends it as a single APDU, and distributes the response
// services back onto the commands in request order. A meter that halts
// after a failing service simply leaves the later commands unresolved
// (ResponsePresent stays false), matching real ANSI C12.22 multi-service
// semantics.
func (e *Engine) execBatch(batch []*queue.Command) error {
	if len(batch) == 0 {
		return nil
	}
	respBody, err := e.roundTripApp(func(b *buffer.Bidi) {
		for _, c := range batch {
			writeQueuedRequest(b, c, e.cfg.MeterLittleEndian, e.sess.ProcedureSequenceNumber)
		}
	}, acse.ResponseAlways)
	if err != nil {
		return err
	}
	p := epsem.NewParser(respBody)
	for _, c := range batch {
		ok, err := p.BeginService()
		if err != nil || !ok {
			break
		}
		parseQueuedResponse(p.Reader(), c)
		p.EndService()
	}
	return nil
}

// execPartialCommand runs a single oversize queued command directly through
// the partial-transfer splitter, bypassing batching.
func (e *Engine) execPartialCommand(c *queue.Command) error {
	switch c.Tag {
	case queue.TagRead:
		data, err := e.tableRead(uint16(c.Number), 0)
		c.Response, c.Err = data, err
		c.ResponsePresent = err == nil
		return nil
	case queue.TagPartialRead:
		data, err := e.tableReadOnce(uint16(c.Number), &c.Offset, &c.Length)
		c.Response, c.Err = data, err
		c.ResponsePresent = err == nil
		return nil
	case queue.TagWrite:
		err := e.tableWrite(uint16(c.Number), c.Request)
		c.Err = err
		c.ResponsePresent = err == nil
		return nil
	case queue.TagPartialWrite:
		err := e.writeOnce(uint16(c.Number), &c.Offset, c.Request)
		c.Err = err
		c.ResponsePresent = err == nil
		return nil
	default:
		return cerrors.New(cerrors.Software, "InvalidParameter", "queued command tag %d cannot be split", c.Tag)
	}
}

func writeQueuedRequest(b *buffer.Bidi, c *queue.Command, littleEndian bool, seq byte) {
	switch c.Tag {
	case queue.TagIdentifyMeter:
		c12.TableReadRequest(b, uint16(c.Number))
	case queue.TagRead:
		c12.TableReadRequest(b, uint16(c.Number))
	case queue.TagPartialRead:
		c12.TableReadPartialRequest(b, uint16(c.Number), c.Offset, c.Length)
	case queue.TagWrite:
		c12.TableWriteRequest(b, uint16(c.Number), c.Request)
	case queue.TagPartialWrite:
		c12.TableWritePartialRequest(b, uint16(c.Number), c.Offset, c.Request)
	case queue.TagExec, queue.TagExecRequest, queue.TagExecRequestResponse:
		var reqBody []byte
		if littleEndian {
			reqBody = c12.ProcedureRequestBodyLE(uint16(c.Number), seq, c.Request)
		} else {
			reqBody = c12.ProcedureRequestBody(uint16(c.Number), seq, c.Request)
		}
		c12.TableWriteRequest(b, uint16(c12.ProcedureInitiateTable), reqBody)
	case queue.TagExecResponse:
		c12.TableReadRequest(b, uint16(c12.ProcedureResponseTable))
	}
}

func parseQueuedResponse(r *buffer.Reader, c *queue.Command) {
	switch c.Tag {
	case queue.TagIdentifyMeter, queue.TagRead, queue.TagPartialRead:
		data, err := readTableReadBody(r)
		c.Response, c.Err = data, err
		c.ResponsePresent = err == nil
	case queue.TagWrite, queue.TagPartialWrite, queue.TagExec, queue.TagExecRequest:
		c.Err = c12.CheckResponse(r)
		c.ResponsePresent = c.Err == nil
	case queue.TagExecResponse, queue.TagExecRequestResponse:
		tableData, err := readTableReadBody(r)
		if err != nil {
			c.Err = err
			return
		}
		res, perr := c12.ParseProcedureResponse(tableData)
		if res != nil {
			c.Response = res.Data
		}
		c.Err = perr
		c.ResponsePresent = perr == nil
	}
}

// readTableReadBody reads one TableRead/TableReadPartial response (status,
// u16 len, len bytes, checksum) directly off a shared cursor, mirroring
// c12.TableReadResponse but without requiring its own standalone slice.
func readTableReadBody(r *buffer.Reader) ([]byte, error) {
	if err := c12.CheckResponse(r); err != nil {
		return nil, err
	}
	length, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	data, err := r.ReadBytes(int(length))
	if err != nil {
		return nil, err
	}
	check, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	if !c12.VerifyChecksum(data, check) {
		return nil, cerrors.New(cerrors.Meter, "InvalidChecksum", "table read checksum mismatch")
	}
	return data, nil
}
