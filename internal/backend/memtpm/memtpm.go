// Package memtpm implements an in-process, deterministic backend.Backend.
// It understands just enough of the TPM2 command/response header format to
// answer TPM2_SelfTest in a way that exercises the device's selftest-done
// latch, and otherwise echoes a fixed-size success response. It carries no
// cryptographic state and exists for tests and the tpmtisctl demo harness,
// not as a real TPM.
package memtpm

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tpm-tis/tpmtis/internal/backend"
)

const (
	tpm2CCSelfTest = 0x143

	tpm2STNoSessions = 0x8001
	rcSuccess        = 0x00000000
	rcCanceled       = 0x00000909

	defaultBufferSize = 4096
)

// Config configures a memtpm.Backend.
type Config struct {
	// BufferSize overrides the default 4096-byte command/response buffer.
	BufferSize int `yaml:"buffer_size"`
	// FailStartup makes HadStartupError report true forever, simulating a
	// backend that could not initialize.
	FailStartup bool `yaml:"fail_startup"`
	// ResponseDelay adds a fixed delay before each command completes, to
	// exercise callers that depend on asynchronous completion.
	ResponseDelay time.Duration `yaml:"response_delay"`
}

// Backend is a deterministic, in-process stand-in for a real TPM 2.0.
type Backend struct {
	mu sync.Mutex

	cfg Config

	established bool
	startupErr  bool

	onComplete func(backend.CompletionResult)
	cancel     chan struct{}
	inFlight   bool

	log *slog.Logger
}

// New constructs a memtpm.Backend from cfg.
func New(cfg Config) (*Backend, error) {
	if cfg.BufferSize == 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.BufferSize < 0 {
		return nil, fmt.Errorf("memtpm: buffer size must be positive, got %d", cfg.BufferSize)
	}
	return &Backend{
		cfg:         cfg,
		established: true,
		startupErr:  cfg.FailStartup,
		log:         slog.With("backend", "memtpm"),
	}, nil
}

func (b *Backend) Version() backend.TPMVersion { return backend.Version2_0 }

func (b *Backend) BufferSize() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cfg.BufferSize
}

func (b *Backend) Reset() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.established = true
	return nil
}

func (b *Backend) Startup(bufferSize int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.startupErr {
		return fmt.Errorf("memtpm: configured to fail startup")
	}
	b.cfg.BufferSize = bufferSize
	return nil
}

// Submit parses the TPM2 command header out of cmd.In and runs the
// (trivial) response in a goroutine, delivering the result through the
// registered completion handler. cmd.Out must have room for at least a
// 10-byte response header.
func (b *Backend) Submit(cmd backend.Command) error {
	if len(cmd.In) < 10 {
		return fmt.Errorf("memtpm: command too short (%d bytes)", len(cmd.In))
	}
	commandCode := binary.BigEndian.Uint32(cmd.In[6:10])

	b.mu.Lock()
	if b.inFlight {
		b.mu.Unlock()
		return fmt.Errorf("memtpm: a command is already in flight")
	}
	b.inFlight = true
	cancel := make(chan struct{})
	b.cancel = cancel
	b.mu.Unlock()

	go b.run(commandCode, cmd.Out, cancel)
	return nil
}

func (b *Backend) run(commandCode uint32, out []byte, cancel chan struct{}) {
	b.mu.Lock()
	delay := b.cfg.ResponseDelay
	b.mu.Unlock()
	if delay <= 0 {
		delay = time.Microsecond
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	var canceled bool
	select {
	case <-timer.C:
	case <-cancel:
		canceled = true
	}

	rc := uint32(rcSuccess)
	if canceled {
		rc = rcCanceled
	}

	n := b.writeResponse(out, rc)

	b.mu.Lock()
	b.inFlight = false
	handler := b.onComplete
	b.mu.Unlock()

	if handler != nil {
		handler(backend.CompletionResult{
			N:            n,
			SelftestDone: !canceled && commandCode == tpm2CCSelfTest,
		})
	}
}

func (b *Backend) writeResponse(out []byte, rc uint32) int {
	const respLen = 10
	if len(out) < respLen {
		b.log.Warn("response buffer too small", "have", len(out), "need", respLen)
		return 0
	}
	binary.BigEndian.PutUint16(out[0:2], tpm2STNoSessions)
	binary.BigEndian.PutUint32(out[2:6], respLen)
	binary.BigEndian.PutUint32(out[6:10], rc)
	return respLen
}

// Cancel requests cancellation of the in-flight command, if any.
func (b *Backend) Cancel() {
	b.mu.Lock()
	cancel := b.cancel
	b.cancel = nil
	b.mu.Unlock()
	if cancel != nil {
		close(cancel)
	}
}

func (b *Backend) EstablishedFlag() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.established
}

func (b *Backend) ResetEstablishedFlag(locality int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.established = false
	return nil
}

func (b *Backend) HadStartupError() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.startupErr
}

func (b *Backend) SetCompletionHandler(fn func(backend.CompletionResult)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onComplete = fn
}

var _ backend.Backend = (*Backend)(nil)
