// Package engine wires packages A-J (buffer, ber, eax, acse, epsem, c12,
// retry, queue, session, partial) into the protocol façade of spec.md
// §4.K: Engine plays the same wiring role sol.Manager plays for the
// teacher — one object owning the transport, the session state, the
// optional keep-alive goroutine, and the synchronous/queued call surface —
// scaled down to one meter connection per Engine rather than many BMC
// sessions, since spec.md §1 excludes multi-connection dispatch.
package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/ElsterSolutionsOpensource/C12Adapter-sub004/acse"
	"github.com/ElsterSolutionsOpensource/C12Adapter-sub004/ber"
	"github.com/ElsterSolutionsOpensource/C12Adapter-sub004/buffer"
	"github.com/ElsterSolutionsOpensource/C12Adapter-sub004/c12"
	"github.com/ElsterSolutionsOpensource/C12Adapter-sub004/cerrors"
	"github.com/ElsterSolutionsOpensource/C12Adapter-sub004/channel"
	"github.com/ElsterSolutionsOpensource/C12Adapter-sub004/eax"
	"github.com/ElsterSolutionsOpensource/C12Adapter-sub004/epsem"
	"github.com/ElsterSolutionsOpensource/C12Adapter-sub004/monitor"
	"github.com/ElsterSolutionsOpensource/C12Adapter-sub004/partial"
	"github.com/ElsterSolutionsOpensource/C12Adapter-sub004/queue"
	"github.com/ElsterSolutionsOpensource/C12Adapter-sub004/retry"
	"github.com/ElsterSolutionsOpensource/C12Adapter-sub004/session"
)

// maxRenegotiateReplans bounds how many times TableRead/TableWrite will
// re-plan after an RQTL/RSTL size renegotiation before giving up, so a peer
// that never settles on a workable size can't loop forever.
const maxRenegotiateReplans = 4

// incomingIdentity records the AP titles and security-related fields an
// incoming APDU carried, for the forensic accessors of spec.md §4.K.
type incomingIdentity struct {
	CalledAPTitle      string
	CallingAPTitle     string
	SecurityMode       acse.SecurityMode
	CallingAEQualifier uint32
}

// Engine is one client-side C12.22 protocol instance.
type Engine struct {
	cfg Config
	ch  channel.Channel
	mon monitor.Monitor

	sess *session.State
	key  *eax.Key

	q       queue.Queue
	planner *queue.Planner
	keeper  *session.Keeper

	// activeBackground enforces spec.md §5's rule that only q_abort,
	// q_is_done, and the keep-alive setter may be called while an async
	// commit is running.
	activeBackground atomic.Bool

	mu               sync.Mutex
	lastOutgoingAPDU []byte
	lastIncomingAPDU []byte
	incoming         incomingIdentity
	resolved         []*queue.Command
	asyncErr         error

	cred credentials
}

// New constructs an Engine bound to ch, using cfg's session parameters and
// mon (which may be nil) for trace/counter callbacks.
func New(cfg Config, ch channel.Channel, mon monitor.Monitor) *Engine {
	if mon == nil {
		mon = ch.Monitor()
	}
	sess := session.NewState()
	sess.Sessionless = cfg.Sessionless
	sess.CallingAPTitle = cfg.CallingAPTitle
	sess.CalledAPTitle = cfg.CalledAPTitle
	sess.IssueSecurityFlag = cfg.Sessionless && cfg.IssueSecurityOnStartSession
	sess.RecomputeDerivedSizes()

	e := &Engine{cfg: cfg, ch: ch, mon: mon, sess: sess}
	e.cred.init(cfg.PasswordList, cfg.SecurityKeyList)
	e.planner = &queue.Planner{
		Budget:      queue.SizeBudget{OutCap: sess.EffectiveMaxApduOut, InCap: sess.EffectiveMaxApduIn},
		Exec:        e.execBatch,
		Renegotiate: e.renegotiateOnNok,
		PartialExec: e.execPartialCommand,
	}
	return e
}

// guardForeground rejects calls not permitted while an async commit is
// running, per spec.md §5.
func (e *Engine) guardForeground() error {
	if e.activeBackground.Load() {
		return cerrors.New(cerrors.Software, "InvalidOperationDuringActiveBackgroundCommunication",
			"this call is not permitted while an asynchronous commit is in progress")
	}
	if err := e.takeKeeperError(); err != nil {
		return err
	}
	return nil
}

func (e *Engine) checkCancelled() error {
	if err := e.ch.CheckCancelled(); err != nil {
		return err
	}
	return nil
}

// Connect applies channel timeout parameters and opens the transport.
func (e *Engine) Connect() error {
	if err := e.guardForeground(); err != nil {
		return err
	}
	return e.connect()
}

func (e *Engine) connect() error {
	e.applyChannelParameters()
	return e.ch.Connect()
}

func (e *Engine) applyChannelParameters() {
	e.ch.SetReadTimeout(e.cfg.ReceiveTimeoutMs)
	e.ch.SetWriteTimeout(e.cfg.WriteTimeoutMs)
}

// Disconnect stops any keep-alive task and closes the transport.
func (e *Engine) Disconnect() error {
	if err := e.guardForeground(); err != nil {
		return err
	}
	return e.disconnect()
}

func (e *Engine) disconnect() error {
	e.stopKeeper()
	return e.ch.Disconnect()
}

// IsConnected reports the transport's connection state.
func (e *Engine) IsConnected() bool { return e.ch.IsConnected() }

// IsInSession reports whether the session layer currently considers itself
// logged on (or, in sessionless mode, armed), for diagnostics.
func (e *Engine) IsInSession() bool { return e.sess.InSession() }

// Counters returns a snapshot of the session's link/application-layer
// success/retry/fail counters.
func (e *Engine) Counters() session.Counters { return e.sess.Counters }

// NegotiatedSizes returns the current negotiated and effective APDU size
// limits, for diagnostics.
func (e *Engine) NegotiatedSizes() (negIn, negOut, effIn, effOut uint32) {
	return e.sess.NegotiatedMaxApduIn, e.sess.NegotiatedMaxApduOut, e.sess.EffectiveMaxApduIn, e.sess.EffectiveMaxApduOut
}

// LastAPDUs returns the most recently sent and received APDU bytes, for
// forensic/monitor use (spec.md §4.K).
func (e *Engine) LastAPDUs() (outgoing, incoming []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]byte(nil), e.lastOutgoingAPDU...), append([]byte(nil), e.lastIncomingAPDU...)
}

// IncomingAPTitles returns the called/calling AP titles the last incoming
// APDU carried.
func (e *Engine) IncomingAPTitles() (called, calling string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.incoming.CalledAPTitle, e.incoming.CallingAPTitle
}

// IncomingSecurityMode returns the security mode the last incoming APDU's
// EPSEM control byte carried.
func (e *Engine) IncomingSecurityMode() acse.SecurityMode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.incoming.SecurityMode
}

// IncomingCallingAEQualifier returns the calling AE qualifier bitmask the
// last incoming APDU carried, if any.
func (e *Engine) IncomingCallingAEQualifier() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.incoming.CallingAEQualifier
}

// SetSecurityKey installs the AES-128 key EAX encrypts/authenticates with.
// Forbidden while an async commit is active, per spec.md §5.
func (e *Engine) SetSecurityKey(key []byte) error {
	if err := e.guardForeground(); err != nil {
		return err
	}
	k, err := eax.NewKey(key)
	if err != nil {
		return err
	}
	e.key = k
	return nil
}

// roundTrip sends one APDU built by buildBody and, unless respControl is
// ResponseNever, reads and parses the response, returning the cleartext
// EPSEM service content (control byte already stripped).
func (e *Engine) roundTrip(buildBody func(*buffer.Bidi), respControl acse.ResponseControl) ([]byte, error) {
	if err := e.checkCancelled(); err != nil {
		return nil, err
	}

	// Every wire round trip — application calls, session lifecycle, and the
	// keeper's own SendKeepAlive — funnels through here, so suspending around
	// the whole thing is what actually keeps the keeper off the wire while a
	// foreground call is using it (spec.md §5).
	e.suspendKeeper()
	defer e.resumeKeeper()

	body := buffer.NewBidi(e.sess.HeaderReserve())
	buildBody(body)

	hdr := acse.Header{
		ApplicationContext: e.cfg.ApplicationContext,
		CalledAPTitle:      e.cfg.CalledAPTitle,
		CallingAPTitle:     e.cfg.CallingAPTitle,
	}
	invID := e.sess.NextInvocationID()
	hdr.CallingInvocationID = &invID

	control := acse.EpsemControl{SecurityMode: e.cfg.SecurityMode, ResponseControl: respControl}

	apTitleOctets, _ := ber.EncodeUIDValue(e.cfg.CallingAPTitle)

	var key *eax.Key
	needsAuth := false
	if e.cfg.SecurityMode != acse.SecurityClear {
		key = e.cred.currentKey(e.key)
		needsAuth = e.sess.NeedsAuthValue()
		if needsAuth {
			kid := e.cred.currentKeyID()
			iv := e.sess.NextIV()
			hdr.AuthKeyID = &kid
			hdr.AuthIV = &iv
		}
	}

	apdu, err := acse.Encode(acse.EncodeInput{
		Header:        hdr,
		Control:       control,
		Body:          body.Body(),
		Key:           key,
		ApTitleOctets: apTitleOctets,
	})
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.lastOutgoingAPDU = apdu
	e.mu.Unlock()

	if err := e.ch.WriteBuffer(apdu); err != nil {
		if e.mon != nil {
			e.mon.OnDataLinkLayerFail(err)
		}
		return nil, err
	}
	if e.mon != nil {
		e.mon.OnDataLinkLayerSuccess()
	}
	if needsAuth {
		e.sess.MarkAuthValueSent()
	}

	if respControl == acse.ResponseNever {
		return nil, nil
	}

	respApdu, err := e.readAPDU()
	if err != nil {
		if respControl == acse.ResponseOnException && isZeroByteReadTimeout(err) {
			// spec.md §7: a zero-byte read timeout under on-exception
			// response control is a successful "no response expected"
			// outcome, not an error.
			return nil, nil
		}
		return nil, err
	}

	e.mu.Lock()
	e.lastIncomingAPDU = respApdu
	e.mu.Unlock()

	h, epsemControl, respBody, err := acse.Parse(acse.ParseInput{
		APDU:                 respApdu,
		Key:                  key,
		CallingAPTitleOctets: apTitleOctets,
		FallbackKeyID:        hdr.AuthKeyID,
		FallbackIV:           hdr.AuthIV,
	})
	if err != nil {
		return nil, err
	}

	if err := e.checkTampering(h, invID); err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.incoming = incomingIdentity{CalledAPTitle: h.CalledAPTitle, CallingAPTitle: h.CallingAPTitle, SecurityMode: epsemControl.SecurityMode}
	if h.CallingAEQualifier != nil {
		e.incoming.CallingAEQualifier = *h.CallingAEQualifier
	}
	e.mu.Unlock()

	return respBody, nil
}

// roundTripApp is roundTrip plus spec.md §4.F's password-list fallback
// shape for sessionless mode: when IssueSecurityFlag is set, every
// application request gets a Security service prepended, and its
// status-only response consumed off the front of the reply before the
// caller parses its own service's response bytes.
func (e *Engine) roundTripApp(buildBody func(*buffer.Bidi), respControl acse.ResponseControl) ([]byte, error) {
	body, err := e.roundTrip(func(b *buffer.Bidi) {
		if e.sess.Sessionless && e.sess.IssueSecurityFlag {
			c12.SecuritySessionlessRequest(b, e.cred.currentPassword(), e.cfg.UserID)
		}
		buildBody(b)
	}, respControl)
	if err != nil {
		return nil, err
	}
	if !e.sess.Sessionless || !e.sess.IssueSecurityFlag || body == nil {
		return body, nil
	}
	p := epsem.NewParser(body)
	if _, err := p.BeginService(); err != nil {
		return nil, err
	}
	r := p.Reader()
	if err := c12.CheckResponse(r); err != nil {
		return nil, err
	}
	p.EndService()
	r.ResetEnd()
	return r.ReadBytes(r.Remaining())
}

func isZeroByteReadTimeout(err error) bool {
	ce, ok := cerrors.AsError(err)
	return ok && ce.Code == "ChannelReadTimeout" && ce.BytesRead == 0
}

// checkTampering implements spec.md §4.D's post-parse tampering checks: the
// called-invocation-id must echo what we sent, and AP titles must
// cross-match.
func (e *Engine) checkTampering(h *acse.Header, sentInvocationID uint32) error {
	if h.CalledInvocationID != nil && *h.CalledInvocationID != sentInvocationID {
		return e.tamperingError("calling invocation id mismatch")
	}
	if h.CalledAPTitle != "" && h.CalledAPTitle != e.cfg.CallingAPTitle {
		return e.tamperingError("called AP title does not match our calling AP title")
	}
	if h.CallingAPTitle != "" && h.CallingAPTitle != e.cfg.CalledAPTitle {
		return e.tamperingError("calling AP title does not match our called AP title")
	}
	return nil
}

func (e *Engine) tamperingError(msg string) error {
	// Tampering is not in the session-preserving set (ISSS/RNO/SME), so the
	// ordinary EndSessionOnApplicationLayerError policy flag governs it too.
	if e.cfg.RetryPolicy.EndSessionOnApplicationLayerError {
		e.dropSession()
	}
	return cerrors.New(cerrors.Security, "PossibleTamperingDetected", "%s", msg)
}

// readAPDU reads one complete APDU (tag, BER length, body) off the channel.
func (e *Engine) readAPDU() ([]byte, error) {
	head, err := e.readExact(2)
	if err != nil {
		return nil, err
	}
	if head[0] != acse.TagOuter {
		return nil, cerrors.New(cerrors.Meter, "BadFileFormat", "expected outer tag 0x60, got 0x%02X", head[0])
	}
	lengthOctetCount := 0
	if head[1]&0x80 != 0 {
		lengthOctetCount = int(head[1] &^ 0x80)
		if lengthOctetCount == 0 || lengthOctetCount > 3 {
			return nil, cerrors.New(cerrors.Meter, "BadFileFormat", "invalid BER length octet count %d", lengthOctetCount)
		}
	}
	extra, err := e.readExact(lengthOctetCount)
	if err != nil {
		return nil, err
	}
	ln := decodeLengthFrom(head[1], extra)

	if uint32(ln) > e.sess.EffectiveMaxApduIn {
		return nil, cerrors.New(cerrors.Communication, "C12ServiceResponseRSTL",
			"incoming APDU body of %d bytes exceeds effective max %d", ln, e.sess.EffectiveMaxApduIn)
	}

	body, err := e.readExact(ln)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 2+len(extra)+len(body))
	out = append(out, head...)
	out = append(out, extra...)
	out = append(out, body...)
	return out, nil
}

func decodeLengthFrom(first byte, extra []byte) int {
	if first < 0x80 {
		return int(first)
	}
	n := 0
	for _, b := range extra {
		n = n<<8 | int(b)
	}
	return n
}

func (e *Engine) readExact(n int) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	out := make([]byte, n)
	got := 0
	for got < n {
		m, err := e.ch.ReadBuffer(out[got:], e.cfg.ReceiveTimeoutMs)
		got += m
		if err != nil {
			return out[:got], err
		}
		if m == 0 {
			break
		}
	}
	if got < n {
		return out[:got], cerrors.New(cerrors.Communication, "ChannelReadTimeout", "read timed out after %d of %d bytes", got, n).WithBytesRead(got)
	}
	return out, nil
}

// withAppRetry runs fn under the application-layer retry arbitrator,
// dropping the session on a fatal, non-session-preserving NOK error when
// EndSessionOnApplicationLayerError is set (spec.md §4.G).
func (e *Engine) withAppRetry(name string, fn func() error) error {
	err := retry.Do(context.Background(), e.cfg.RetryPolicy, retry.App, classifyApp, fn, e.mon, name, &e.sess.Counters)
	if err != nil {
		e.maybeDropSession(err)
		return cerrors.Annotate(err, name)
	}
	return nil
}

func classifyApp(err error) retry.Class {
	if err == nil {
		return retry.Retryable
	}
	var nok *c12.NokResponse
	if errors.As(err, &nok) {
		if nok.Code.Retryable() || nok.Code == c12.RQTL || nok.Code == c12.RSTL {
			return retry.Retryable
		}
		return retry.Fatal
	}
	if ce, ok := cerrors.AsError(err); ok {
		if ce.Code == "OperationCancelled" {
			return retry.Cancelled
		}
		if ce.Kind == cerrors.Communication {
			return retry.Retryable
		}
	}
	return retry.Fatal
}

func classifyProcedure(err error) retry.Class {
	var bad *c12.BadProcedureResult
	if errors.As(err, &bad) {
		if bad.Code == c12.ResultRetryable {
			return retry.Retryable
		}
		return retry.Fatal
	}
	return classifyApp(err)
}

func (e *Engine) maybeDropSession(err error) {
	var nok *c12.NokResponse
	if !errors.As(err, &nok) {
		return
	}
	if retry.ShouldEndSession(e.cfg.RetryPolicy, nok.Code) {
		e.dropSession()
	}
}

func (e *Engine) dropSession() {
	if !e.sess.InSession() {
		return
	}
	e.stopKeeper()
	_, _ = e.roundTrip(func(b *buffer.Bidi) { c12.TerminateRequest(b) }, acse.ResponseNever)
	e.sess.Reset()
}

// renegotiateOnNok is the queue.RenegotiateFunc: on an RQTL/RSTL NOK it
// lowers the corresponding negotiated size (retry.Renegotiate) and reports
// retry=true so the planner's flush loop resends the same batch.
func (e *Engine) renegotiateOnNok(err error) bool {
	var nok *c12.NokResponse
	if !errors.As(err, &nok) {
		return false
	}
	if nok.Code != c12.RQTL && nok.Code != c12.RSTL {
		return false
	}
	retry.Renegotiate(e.sess, nok.Code, nok.MaxApduSize())
	e.planner.Budget = queue.SizeBudget{OutCap: e.sess.EffectiveMaxApduOut, InCap: e.sess.EffectiveMaxApduIn}
	return true
}

// tableReadOnce performs a single TableRead or TableReadPartial round trip
// (no splitting), under application-layer retry.
func (e *Engine) tableReadOnce(table uint16, offset *uint32, length *uint16) ([]byte, error) {
	var out []byte
	err := e.withAppRetry("TableRead", func() error {
		return e.withCredentialRotation(func() error {
			respBody, ierr := e.roundTripApp(func(b *buffer.Bidi) {
				if offset != nil {
					c12.TableReadPartialRequest(b, table, *offset, *length)
				} else {
					c12.TableReadRequest(b, table)
				}
			}, acse.ResponseAlways)
			if ierr != nil {
				return ierr
			}
			data, perr := c12.TableReadResponse(respBody)
			if perr != nil {
				return perr
			}
			out = data
			return nil
		})
	})
	return out, err
}

func (e *Engine) writeOnce(table uint16, offset *uint32, data []byte) error {
	return e.withAppRetry("TableWrite", func() error {
		return e.withCredentialRotation(func() error {
			respBody, ierr := e.roundTripApp(func(b *buffer.Bidi) {
				if offset != nil {
					c12.TableWritePartialRequest(b, table, *offset, data)
				} else {
					c12.TableWriteRequest(b, table, data)
				}
			}, acse.ResponseAlways)
			if ierr != nil {
				return ierr
			}
			return c12.StatusOnlyResponse(respBody)
		})
	})
}

// TableRead reads table n. If expectedLen is 0 or fits within the
// negotiated per-request read cap, a single TableRead service is issued;
// otherwise the read is transparently decomposed into TableReadPartial
// chunks by the partial-transfer splitter (spec.md §4.J), even though the
// caller asked for the non-partial API.
func (e *Engine) TableRead(table uint16, expectedLen int) ([]byte, error) {
	if err := e.guardForeground(); err != nil {
		return nil, err
	}
	return e.tableRead(table, expectedLen)
}

func (e *Engine) tableRead(table uint16, expectedLen int) ([]byte, error) {
	capSize := int(e.sess.MaxReadTableSize)
	if expectedLen <= 0 || expectedLen <= capSize {
		return e.tableReadOnce(table, nil, nil)
	}
	return partial.ReadTable(func(offset uint32, length uint16) ([]byte, error) {
		return e.tableReadOnce(table, &offset, &length)
	}, expectedLen, uint16(capSize), e.cfg.Progress)
}

// TableReadPartial performs exactly one partial read at offset, of length
// bytes, with no splitting.
func (e *Engine) TableReadPartial(table uint16, offset uint32, length uint16) ([]byte, error) {
	if err := e.guardForeground(); err != nil {
		return nil, err
	}
	return e.tableReadOnce(table, &offset, &length)
}

// TableWrite writes data to table n, transparently decomposed into
// TableWritePartial chunks when it exceeds the negotiated per-request write
// cap, and re-planned after an RQTL/RSTL size renegotiation (spec.md §4.G,
// scenario 4).
func (e *Engine) TableWrite(table uint16, data []byte) error {
	if err := e.guardForeground(); err != nil {
		return err
	}
	return e.tableWrite(table, data)
}

func (e *Engine) tableWrite(table uint16, data []byte) error {
	for attempt := 0; attempt <= maxRenegotiateReplans; attempt++ {
		capSize := int(e.sess.MaxWriteTableSize)
		var err error
		if len(data) <= capSize {
			err = e.writeOnce(table, nil, data)
		} else {
			err = partial.WriteTable(func(offset uint32, chunk []byte) error {
				return e.writeOnce(table, &offset, chunk)
			}, data, uint16(capSize), e.cfg.Progress)
		}
		if err == nil {
			return nil
		}
		if !e.renegotiateOnNok(err) {
			return err
		}
	}
	return cerrors.New(cerrors.Communication, "C12ServiceResponseRQTL", "size renegotiation did not converge after %d attempts", maxRenegotiateReplans)
}

// TableWritePartial performs exactly one partial write at offset, with no
// splitting.
func (e *Engine) TableWritePartial(table uint16, offset uint32, data []byte) error {
	if err := e.guardForeground(); err != nil {
		return err
	}
	return e.writeOnce(table, &offset, data)
}

// ExecuteFunction invokes procedure procNum: writes ST7, then — unless the
// skip-read-ST8 policy says otherwise — reads ST8 under the
// application-layer procedure retry counter (spec.md §4.F). The ST8
// sequence-number echo is deliberately not checked against what was sent
// (spec.md §9's documented Open Question).
func (e *Engine) ExecuteFunction(procNum uint16, request []byte, wantResponse bool) (*c12.ProcedureResult, error) {
	if err := e.guardForeground(); err != nil {
		return nil, err
	}
	seq := e.sess.ProcedureSequenceNumber
	var reqBody []byte
	if e.cfg.MeterLittleEndian {
		reqBody = c12.ProcedureRequestBodyLE(procNum, seq, request)
	} else {
		reqBody = c12.ProcedureRequestBody(procNum, seq, request)
	}

	if err := e.writeOnce(uint16(c12.ProcedureInitiateTable), nil, reqBody); err != nil {
		return nil, err
	}

	readST8 := true
	if e.cfg.AlwaysReadFunctionResponse == ResponseWhenPresent && !wantResponse {
		readST8 = false
	}
	if !readST8 {
		return nil, nil
	}

	var result *c12.ProcedureResult
	err := retry.Do(context.Background(), e.cfg.RetryPolicy, retry.Procedure, classifyProcedure, func() error {
		data, ierr := e.tableReadOnce(uint16(c12.ProcedureResponseTable), nil, nil)
		if ierr != nil {
			return ierr
		}
		res, perr := c12.ParseProcedureResponse(data)
		result = res
		return perr
	}, e.mon, "ExecuteFunction", &e.sess.Counters)
	if err != nil {
		e.maybeDropSession(err)
		return result, cerrors.Annotate(err, "ExecuteFunction")
	}
	return result, nil
}

// SendKeepAlive implements session.KeepAliveSender: either a short Wait or
// a one-byte partial ST1 read, per UseReadInKeepSessionAlive.
func (e *Engine) SendKeepAlive() error {
	if e.cfg.UseReadInKeepSessionAlive {
		_, err := e.tableReadOnce(1, uint32Ptr(0), uint16Ptr(1))
		return err
	}
	return e.withAppRetry("Wait", func() error {
		return e.withCredentialRotation(func() error {
			respBody, ierr := e.roundTripApp(func(b *buffer.Bidi) { c12.WaitRequest(b, 0) }, acse.ResponseAlways)
			if ierr != nil {
				return ierr
			}
			return c12.StatusOnlyResponse(respBody)
		})
	})
}

func uint32Ptr(v uint32) *uint32 { return &v }
func uint16Ptr(v uint16) *uint16 { return &v }

func (e *Engine) startKeeper() {
	if !e.cfg.KeepSessionAlive || e.keeper != nil {
		return
	}
	e.keeper = session.NewKeeper(e, e.cfg.SessionIdleTimeout, e.cfg.UseReadInKeepSessionAlive)
	e.keeper.Start()
}

func (e *Engine) stopKeeper() {
	if e.keeper == nil {
		return
	}
	e.keeper.Stop()
	e.keeper = nil
}

// suspendKeeper/resumeKeeper implement spec.md §5's "foreground service
// entering pre-empts keep-alive" ordering rule. roundTrip wraps every wire
// round trip in this pair, so the keeper never writes to or reads from the
// channel concurrently with a foreground call; takeKeeperError (called from
// guardForeground, which every public entry point checks first) delivers
// any error the keeper captured while unattended to the next caller.
func (e *Engine) suspendKeeper() {
	if e.keeper != nil {
		e.keeper.Suspend()
	}
}

func (e *Engine) resumeKeeper() {
	if e.keeper != nil {
		e.keeper.Resume()
	}
}

// takeKeeperError surfaces any error the background keep-alive task
// observed since the last foreground call.
func (e *Engine) takeKeeperError() error {
	if e.keeper == nil {
		return nil
	}
	return e.keeper.TakeError()
}
