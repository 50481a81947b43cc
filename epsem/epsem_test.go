package epsem

import (
	"testing"

	"github.com/ElsterSolutionsOpensource/C12Adapter-sub004/buffer"
)

func TestSendServiceFraming(t *testing.T) {
	b := buffer.NewBidi(0)
	SendService(b, 0x52)
	want := []byte{0x01, 0x52}
	if string(b.Body()) != string(want) {
		t.Errorf("got % X, want % X", b.Body(), want)
	}
}

func TestSendServiceWithDataFraming(t *testing.T) {
	b := buffer.NewBidi(0)
	SendServiceWithData(b, 0x30, []byte{0x00, 0x01})
	want := []byte{0x03, 0x30, 0x00, 0x01}
	if string(b.Body()) != string(want) {
		t.Errorf("got % X, want % X", b.Body(), want)
	}
}

func TestBeginServiceSingleEntry(t *testing.T) {
	b := buffer.NewBidi(0)
	SendServiceWithData(b, 0x30, []byte{0xAA, 0xBB})
	p := NewParser(b.Body())

	ok, err := p.BeginService()
	if err != nil || !ok {
		t.Fatalf("BeginService: ok=%v err=%v", ok, err)
	}
	code, err := p.ServiceCode()
	if err != nil || code != 0x30 {
		t.Fatalf("ServiceCode: %v %v", code, err)
	}
	rest, err := p.Reader().ReadBytes(2)
	if err != nil || string(rest) != "\xAA\xBB" {
		t.Fatalf("body: % X %v", rest, err)
	}
	p.EndService()

	ok, err = p.BeginService()
	if err != nil {
		t.Fatalf("second BeginService errored: %v", err)
	}
	if ok {
		t.Fatal("expected no more services")
	}
}

func TestBeginServiceMultipleEntries(t *testing.T) {
	b := buffer.NewBidi(0)
	SendService(b, 0x00)
	SendServiceWithData(b, 0x30, []byte{0x01, 0x02, 0x03})
	p := NewParser(b.Body())

	ok, err := p.BeginService()
	if err != nil || !ok {
		t.Fatalf("first BeginService: ok=%v err=%v", ok, err)
	}
	code, _ := p.ServiceCode()
	if code != 0x00 {
		t.Fatalf("expected first code 0x00, got 0x%02X", code)
	}
	p.EndService()

	ok, err = p.BeginService()
	if err != nil || !ok {
		t.Fatalf("second BeginService: ok=%v err=%v", ok, err)
	}
	code, _ = p.ServiceCode()
	if code != 0x30 {
		t.Fatalf("expected second code 0x30, got 0x%02X", code)
	}
	rest, err := p.Reader().ReadBytes(3)
	if err != nil || string(rest) != "\x01\x02\x03" {
		t.Fatalf("second body: % X %v", rest, err)
	}
}

func TestBeginServiceDoesNotDesyncWhenBodyUnread(t *testing.T) {
	b := buffer.NewBidi(0)
	SendServiceWithData(b, 0x30, []byte{0x11, 0x22, 0x33})
	SendService(b, 0x00)
	p := NewParser(b.Body())

	ok, err := p.BeginService()
	if err != nil || !ok {
		t.Fatal("expected first service")
	}
	p.ServiceCode() // leaves the 3 data bytes unread
	p.EndService()

	ok, err = p.BeginService()
	if err != nil || !ok {
		t.Fatalf("expected second service after skip: ok=%v err=%v", ok, err)
	}
	code, err := p.ServiceCode()
	if err != nil || code != 0x00 {
		t.Fatalf("expected second code 0x00, got 0x%02X err=%v", code, err)
	}
}

func TestBeginServiceEmptyBody(t *testing.T) {
	p := NewParser(nil)
	ok, err := p.BeginService()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected no services in an empty body")
	}
}
