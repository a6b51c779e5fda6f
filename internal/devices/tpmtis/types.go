package tpmtis

import (
	"fmt"

	"github.com/tpm-tis/tpmtis/internal/backend"
)

// FSMState is the per-locality finite state. The COMMAND_READY write in
// writeStsLocked switches over all five states; the other transitions
// (FIFO writes, TPM_GO, RESPONSE_RETRY) test only the states they act on
// and leave the rest unchanged.
type FSMState int

const (
	StateIdle FSMState = iota
	StateReady
	StateReception
	StateExecution
	StateCompletion
)

func (s FSMState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReady:
		return "ready"
	case StateReception:
		return "reception"
	case StateExecution:
		return "execution"
	case StateCompletion:
		return "completion"
	default:
		return fmt.Sprintf("FSMState(%d)", int(s))
	}
}

// TPMVersion identifies which TPM family the backend implements. It changes
// which STS/INTERFACE_ID/INTF_CAPABILITY defaults the device resets to.
// It is an alias of backend.TPMVersion so device code can use the short
// name while backend implementations live in their own package free of any
// dependency on tpmtis.
type TPMVersion = backend.TPMVersion

const (
	VersionUnspec = backend.VersionUnspec
	Version1_2    = backend.Version1_2
	Version2_0    = backend.Version2_0
)

// Locality holds the per-locality register state: FSM state, the ACCESS,
// STS, INTERFACE_ID, INT_ENABLE, and INT_STATUS register values.
type Locality struct {
	state   FSMState
	access  AccessBits
	sts     StatusBits
	ifaceID uint32
	inte    InterruptEnableBits
	ints    InterruptStatusBits
}

// Command describes a single in-flight request handed to the backend. In
// is the exact byte slice submitted (backed by the device's shared
// buffer); Out is a capacity-bounded slice the backend fills with its
// response, reporting the response length as CompletionResult.N. The
// backend contract allows In and Out to share the same underlying array.
// Alias of backend.Command; see TPMVersion.
type Command = backend.Command

// CompletionResult is delivered by a Backend to the device's completion
// callback once a submitted Command has produced a response. Alias of
// backend.CompletionResult.
type CompletionResult = backend.CompletionResult

// Backend is the contract the device requires from an out-of-process TPM
// implementation. The device holds at most one Backend and at most one
// outstanding Command at a time. Alias of backend.Backend.
type Backend = backend.Backend
