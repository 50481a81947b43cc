package session

import "testing"

func TestNewStateDefaultsToMinimum(t *testing.T) {
	s := NewState()
	if s.NegotiatedMaxApduOut != MinimumMaximumApduTotalSize {
		t.Errorf("expected minimum default, got %d", s.NegotiatedMaxApduOut)
	}
	if s.MaxReadTableSize == 0 {
		t.Error("expected RecomputeDerivedSizes to have run from NewState")
	}
}

func TestSetInSessionAndInSession(t *testing.T) {
	s := NewState()
	if s.InSession() {
		t.Error("expected fresh state to not be in session")
	}
	s.SetInSession(true)
	if !s.InSession() {
		t.Error("expected InSession to reflect SetInSession(true)")
	}
}

func TestResetClearsSessionFields(t *testing.T) {
	s := NewState()
	s.SetInSession(true)
	s.ProcedureSequenceNumber = 5
	s.Counters.AppSuccess = 3
	s.Reset()
	if s.IsInSession {
		t.Error("expected Reset to clear IsInSession")
	}
	if s.ProcedureSequenceNumber != 0 {
		t.Error("expected Reset to clear ProcedureSequenceNumber")
	}
	if s.Counters != (Counters{}) {
		t.Error("expected Reset to clear Counters")
	}
}

func TestHeaderReserveLegacyWorkaround(t *testing.T) {
	s := NewState()
	s.NegotiatedMaxApduIn = 40000
	s.NegotiatedMaxApduOut = 40000
	s.RecomputeDerivedSizes()
	if s.HeaderReserve() != MaximumLegacyApduHeaderSize {
		t.Errorf("expected legacy header reserve for large sizes, got %d", s.HeaderReserve())
	}
}

func TestHeaderReserveProperSizeForSmallApdus(t *testing.T) {
	s := NewState()
	if s.HeaderReserve() != MaximumProperApduHeaderSize {
		t.Errorf("expected proper header reserve at minimum sizes, got %d", s.HeaderReserve())
	}
}

func TestRecomputeDerivedSizesAccountsForSecurity(t *testing.T) {
	s := NewState()
	s.NegotiatedMaxApduIn = 1000
	s.NegotiatedMaxApduOut = 1000
	s.RecomputeDerivedSizes()
	withoutSecurity := s.MaxReadTableSize

	s.IssueSecurityFlag = true
	s.RecomputeDerivedSizes()
	withSecurity := s.MaxReadTableSize

	if withSecurity >= withoutSecurity {
		t.Errorf("expected security overhead to shrink read size: without=%d with=%d", withoutSecurity, withSecurity)
	}
}

func TestNextInvocationIDIncrements(t *testing.T) {
	s := NewState()
	first := s.NextInvocationID()
	second := s.NextInvocationID()
	if second != first+1 {
		t.Errorf("expected increment, got %d then %d", first, second)
	}
}

func TestSetClientIVConsumedOnce(t *testing.T) {
	s := NewState()
	s.SetClientIV(0xDEADBEEF)
	first := s.NextIV()
	if first != 0xDEADBEEF {
		t.Errorf("expected caller-assigned IV, got 0x%X", first)
	}
	second := s.NextIV()
	if second == 0xDEADBEEF {
		t.Error("expected auto-generated IV after the assigned one is consumed")
	}
}

func TestNeedsAuthValueSessionVsSessionless(t *testing.T) {
	s := NewState()
	s.Sessionless = true
	if !s.NeedsAuthValue() {
		t.Error("sessionless mode should always need the auth value")
	}
	s.MarkAuthValueSent()
	if !s.NeedsAuthValue() {
		t.Error("MarkAuthValueSent should be a no-op in sessionless mode")
	}

	s2 := NewState()
	if !s2.NeedsAuthValue() {
		t.Error("expected first session use to need the auth value")
	}
	s2.MarkAuthValueSent()
	if s2.NeedsAuthValue() {
		t.Error("expected NeedsAuthValue to be false after MarkAuthValueSent in session mode")
	}
}
