// Package mssim implements a backend.Backend that forwards commands to a
// Microsoft TPM2 simulator over its two-socket TCP protocol: one socket
// carries TPM commands, the other carries platform control commands
// (power, NV, cancel, reset). Framing and command codes are grounded on
// the wire protocol used by the go-tpm2 mssim transport.
package mssim

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/tpm-tis/tpmtis/internal/backend"
)

const (
	cmdPowerOn    uint32 = 1
	cmdCancelOn   uint32 = 9
	cmdCancelOff  uint32 = 10
	cmdNVOn       uint32 = 11
	cmdReset      uint32 = 17
	cmdSessionEnd uint32 = 20

	cmdTPMSendCommand uint32 = 8

	defaultBufferSize = 4096
)

// Config configures a connection to a TPM simulator.
type Config struct {
	// Host is the simulator's address; defaults to "localhost".
	Host string `yaml:"host"`
	// Port is the TPM command channel port; the platform channel runs on
	// Port+1. Defaults to 2321, the simulator's conventional port.
	Port uint16 `yaml:"port"`
	// Version tells the device which TPM family the simulator implements
	// ("1.2" or "2.0"); the wire protocol itself doesn't expose this.
	// Defaults to "2.0".
	Version string `yaml:"version"`
	// DialTimeout bounds the initial connection attempt.
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

func (c Config) addr(port uint16) string {
	host := c.Host
	if host == "" {
		host = "localhost"
	}
	return net.JoinHostPort(host, fmt.Sprintf("%d", port))
}

// Backend is a backend.Backend that proxies to a TPM simulator over TCP.
type Backend struct {
	mu sync.Mutex

	version  backend.TPMVersion
	tpmConn  net.Conn
	platConn net.Conn

	established bool
	startupErr  bool

	onComplete func(backend.CompletionResult)
	inFlight   bool

	log *slog.Logger
}

// Dial connects to a TPM simulator per cfg and powers it on.
func Dial(cfg Config) (*Backend, error) {
	port := cfg.Port
	if port == 0 {
		port = 2321
	}
	dialer := net.Dialer{Timeout: cfg.DialTimeout}

	tpmConn, err := dialer.Dial("tcp", cfg.addr(port))
	if err != nil {
		return nil, fmt.Errorf("mssim: connect to TPM socket: %w", err)
	}
	platConn, err := dialer.Dial("tcp", cfg.addr(port+1))
	if err != nil {
		tpmConn.Close()
		return nil, fmt.Errorf("mssim: connect to platform socket: %w", err)
	}

	version := backend.Version2_0
	if cfg.Version == "1.2" {
		version = backend.Version1_2
	}

	b := &Backend{
		version:     version,
		tpmConn:     tpmConn,
		platConn:    platConn,
		established: true,
		log:         slog.With("backend", "mssim", "addr", cfg.addr(port)),
	}

	if err := b.platformCommand(cmdPowerOn); err != nil {
		b.Close()
		return nil, fmt.Errorf("mssim: power on: %w", err)
	}
	if err := b.platformCommand(cmdNVOn); err != nil {
		b.Close()
		return nil, fmt.Errorf("mssim: NV on: %w", err)
	}

	return b, nil
}

// Close shuts down both sockets to the simulator.
func (b *Backend) Close() error {
	binary.Write(b.platConn, binary.BigEndian, cmdSessionEnd)
	binary.Write(b.tpmConn, binary.BigEndian, cmdSessionEnd)
	platErr := b.platConn.Close()
	tpmErr := b.tpmConn.Close()
	if tpmErr != nil {
		return tpmErr
	}
	return platErr
}

func (b *Backend) platformCommand(cmd uint32) error {
	if err := binary.Write(b.platConn, binary.BigEndian, cmd); err != nil {
		return fmt.Errorf("send command %d: %w", cmd, err)
	}
	var resp uint32
	if err := binary.Read(b.platConn, binary.BigEndian, &resp); err != nil {
		return fmt.Errorf("read response to command %d: %w", cmd, err)
	}
	if resp != 0 {
		return fmt.Errorf("platform command %d returned error code %d", cmd, resp)
	}
	return nil
}

func (b *Backend) Version() backend.TPMVersion { return b.version }

func (b *Backend) BufferSize() int { return defaultBufferSize }

func (b *Backend) Reset() error {
	return b.platformCommand(cmdReset)
}

func (b *Backend) Startup(bufferSize int) error { return nil }

// Submit writes cmd.In to the TPM socket framed as a TPM_SEND_COMMAND
// request and reads the response asynchronously.
func (b *Backend) Submit(cmd backend.Command) error {
	b.mu.Lock()
	if b.inFlight {
		b.mu.Unlock()
		return fmt.Errorf("mssim: a command is already in flight")
	}
	b.inFlight = true
	b.mu.Unlock()

	locality := byte(cmd.Locality)
	if err := binary.Write(b.tpmConn, binary.BigEndian, cmdTPMSendCommand); err != nil {
		return b.failInFlight(err)
	}
	if _, err := b.tpmConn.Write([]byte{locality}); err != nil {
		return b.failInFlight(err)
	}
	if err := binary.Write(b.tpmConn, binary.BigEndian, uint32(len(cmd.In))); err != nil {
		return b.failInFlight(err)
	}
	if _, err := b.tpmConn.Write(cmd.In); err != nil {
		return b.failInFlight(err)
	}

	go b.awaitResponse(cmd.Out)
	return nil
}

func (b *Backend) failInFlight(err error) error {
	b.mu.Lock()
	b.inFlight = false
	b.mu.Unlock()
	return fmt.Errorf("mssim: submit command: %w", err)
}

func (b *Backend) awaitResponse(out []byte) {
	var size uint32
	n := 0
	if err := binary.Read(b.tpmConn, binary.BigEndian, &size); err != nil {
		b.log.Warn("read response size failed", "err", err)
	} else {
		n = int(size)
		if n > len(out) {
			n = len(out)
		}
		if _, err := readFull(b.tpmConn, out[:n]); err != nil {
			b.log.Warn("read response body failed", "err", err)
		}
		var trailer uint32
		if err := binary.Read(b.tpmConn, binary.BigEndian, &trailer); err != nil {
			b.log.Warn("read response trailer failed", "err", err)
		}
	}

	b.mu.Lock()
	b.inFlight = false
	handler := b.onComplete
	b.mu.Unlock()

	if handler != nil {
		handler(backend.CompletionResult{N: n})
	}
}

func readFull(r net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Cancel requests the simulator cancel whatever command is outstanding on
// the TPM socket, via the platform channel's cancel toggle.
func (b *Backend) Cancel() {
	if err := b.platformCommand(cmdCancelOn); err != nil {
		b.log.Warn("cancel on failed", "err", err)
		return
	}
	if err := b.platformCommand(cmdCancelOff); err != nil {
		b.log.Warn("cancel off failed", "err", err)
	}
}

// EstablishedFlag reports a locally tracked flag: the simulator protocol
// used here has no command for querying platform establishment. The flag
// is true after Dial and is cleared only by ResetEstablishedFlag.
func (b *Backend) EstablishedFlag() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.established
}

// ResetEstablishedFlag clears the locally tracked flag only; nothing is sent
// to the simulator, since the wire protocol has no equivalent platform
// command.
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
