package tpmtis

import (
	"sync"

	"github.com/tpm-tis/tpmtis/internal/backend"
)

// fakeBackend is a hand-rolled backend.Backend for device tests: Submit
// just records the command, and tests drive completion themselves by
// calling onCompletionLocked directly rather than going through the
// backend's own callback, so tests stay synchronous.
type fakeBackend struct {
	mu sync.Mutex

	version     backend.TPMVersion
	bufferSize  int
	established bool
	startupErr  bool

	submitted   []backend.Command
	cancelCount int
	resetLocty  int

	onComplete func(backend.CompletionResult)
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		version:     backend.Version2_0,
		bufferSize:  64,
		established: true,
		resetLocty:  -1,
	}
}

func (b *fakeBackend) Version() backend.TPMVersion { return b.version }

func (b *fakeBackend) BufferSize() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bufferSize
}

func (b *fakeBackend) Reset() error { return nil }

func (b *fakeBackend) Startup(bufferSize int) error { return nil }

func (b *fakeBackend) Submit(cmd backend.Command) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.submitted = append(b.submitted, cmd)
	return nil
}

func (b *fakeBackend) Cancel() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelCount++
}

func (b *fakeBackend) EstablishedFlag() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.established
}

func (b *fakeBackend) ResetEstablishedFlag(locality int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resetLocty = locality
	b.established = false
	return nil
}

func (b *fakeBackend) HadStartupError() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.startupErr
}

func (b *fakeBackend) SetCompletionHandler(fn func(backend.CompletionResult)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onComplete = fn
}

func (b *fakeBackend) lastSubmitted() backend.Command {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.submitted[len(b.submitted)-1]
}

func (b *fakeBackend) submitCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.submitted)
}

var _ backend.Backend = (*fakeBackend)(nil)
