package memtpm

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/tpm-tis/tpmtis/internal/backend"
)

func tpm2Command(code uint32) []byte {
	buf := make([]byte, 10)
	binary.BigEndian.PutUint16(buf[0:2], tpm2STNoSessions)
	binary.BigEndian.PutUint32(buf[2:6], uint32(len(buf)))
	binary.BigEndian.PutUint32(buf[6:10], code)
	return buf
}

func awaitCompletion(t *testing.T, ch chan backend.CompletionResult) backend.CompletionResult {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for completion")
	}
	return backend.CompletionResult{}
}

func TestNewDefaultsBufferSize(t *testing.T) {
	be, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := be.BufferSize(); got != defaultBufferSize {
		t.Fatalf("BufferSize = %d, want %d", got, defaultBufferSize)
	}
}

func TestNewRejectsNegativeBufferSize(t *testing.T) {
	if _, err := New(Config{BufferSize: -1}); err == nil {
		t.Fatalf("expected error for negative buffer size")
	}
}

func TestNewHonorsFailStartup(t *testing.T) {
	be, err := New(Config{FailStartup: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !be.HadStartupError() {
		t.Fatalf("HadStartupError = false, want true")
	}
	if err := be.Startup(4096); err == nil {
		t.Fatalf("expected Startup to fail")
	}
}

func TestStartupSetsBufferSize(t *testing.T) {
	be, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := be.Startup(128); err != nil {
		t.Fatalf("Startup: %v", err)
	}
	if got := be.BufferSize(); got != 128 {
		t.Fatalf("BufferSize after Startup = %d, want 128", got)
	}
}

func TestSubmitRejectsShortCommand(t *testing.T) {
	be, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := be.Submit(backend.Command{In: []byte{0, 1, 2}}); err == nil {
		t.Fatalf("expected error for command shorter than the header")
	}
}

func TestSubmitRejectsConcurrentCommand(t *testing.T) {
	be, err := New(Config{ResponseDelay: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ch := make(chan backend.CompletionResult, 1)
	be.SetCompletionHandler(func(r backend.CompletionResult) { ch <- r })

	out := make([]byte, 10)
	if err := be.Submit(backend.Command{In: tpm2Command(0x100), Out: out}); err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	if err := be.Submit(backend.Command{In: tpm2Command(0x100), Out: out}); err == nil {
		t.Fatalf("expected second Submit to fail while first is in flight")
	}
	awaitCompletion(t, ch)
}

func TestSubmitSuccessResponse(t *testing.T) {
	be, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ch := make(chan backend.CompletionResult, 1)
	be.SetCompletionHandler(func(r backend.CompletionResult) { ch <- r })

	out := make([]byte, 10)
	if err := be.Submit(backend.Command{In: tpm2Command(0x100), Out: out}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	res := awaitCompletion(t, ch)

	if res.N != 10 {
		t.Fatalf("response length = %d, want 10", res.N)
	}
	if res.SelftestDone {
		t.Fatalf("SelftestDone = true for a non-selftest command")
	}
	if tag := binary.BigEndian.Uint16(out[0:2]); tag != tpm2STNoSessions {
		t.Fatalf("response tag = 0x%x, want 0x%x", tag, tpm2STNoSessions)
	}
	if rc := binary.BigEndian.Uint32(out[6:10]); rc != rcSuccess {
		t.Fatalf("response code = 0x%x, want success", rc)
	}
}

func TestSubmitSelfTestSetsSelftestDone(t *testing.T) {
	be, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ch := make(chan backend.CompletionResult, 1)
	be.SetCompletionHandler(func(r backend.CompletionResult) { ch <- r })

	out := make([]byte, 10)
	if err := be.Submit(backend.Command{In: tpm2Command(tpm2CCSelfTest), Out: out}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	res := awaitCompletion(t, ch)

	if !res.SelftestDone {
		t.Fatalf("SelftestDone = false for TPM2_SelfTest")
	}
}

func TestCancelMidFlight(t *testing.T) {
	be, err := New(Config{ResponseDelay: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ch := make(chan backend.CompletionResult, 1)
	be.SetCompletionHandler(func(r backend.CompletionResult) { ch <- r })

	out := make([]byte, 10)
	if err := be.Submit(backend.Command{In: tpm2Command(tpm2CCSelfTest), Out: out}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	be.Cancel()
	res := awaitCompletion(t, ch)

	if res.SelftestDone {
		t.Fatalf("SelftestDone = true for a canceled command")
	}
	if rc := binary.BigEndian.Uint32(out[6:10]); rc != rcCanceled {
		t.Fatalf("response code = 0x%x, want canceled (0x%x)", rc, rcCanceled)
	}
}

func TestCancelWithNoCommandInFlightIsNoop(t *testing.T) {
	be, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	be.Cancel()
}

func TestResetRestoresEstablishedFlag(t *testing.T) {
	be, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := be.ResetEstablishedFlag(3); err != nil {
		t.Fatalf("ResetEstablishedFlag: %v", err)
	}
	if be.EstablishedFlag() {
		t.Fatalf("EstablishedFlag = true after ResetEstablishedFlag")
	}
	if err := be.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if !be.EstablishedFlag() {
		t.Fatalf("EstablishedFlag = false after Reset, want true")
	}
}

var _ backend.Backend = (*Backend)(nil)
