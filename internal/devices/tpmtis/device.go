// Package tpmtis implements a TIS/PTP FIFO TPM interface: a five-locality
// MMIO register window that brokers command/response traffic between a
// guest and a Backend. This file holds construction, lifecycle, and the
// MMIO dispatcher.
package tpmtis

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/tpm-tis/tpmtis/internal/chipset"
	"github.com/tpm-tis/tpmtis/internal/hv"
)

// Size is the total MMIO window the device occupies: one 4 KiB page per
// locality.
const Size = uint64(NumLocalities) << localityShift

// Device implements the TIS FIFO TPM interface. All guest-visible state
// lives behind a single mutex held across a full register operation,
// rather than locked per-field.
type Device struct {
	mu sync.Mutex

	base    uint64
	irqLine chipset.LineInterrupt
	irqNum  uint32
	backend Backend

	loc [NumLocalities]Locality

	activeLocty   int
	nextLocty     int
	abortingLocty int

	buffer     []byte
	bufferSize int
	rwOffset   int

	cmdLocality int

	beVersion TPMVersion

	completions chan CompletionResult
	stopCh      chan struct{}
	wg          sync.WaitGroup
	started     bool

	log *slog.Logger
}

// New constructs a Device at the given MMIO base address, backed by the
// supplied Backend and reporting interrupts on irqLine. irqNum is the
// vector value exposed, read-only, through INT_VECTOR; it must be in
// [0, 15].
func New(base uint64, backend Backend, irqNum uint32, irqLine chipset.LineInterrupt) (*Device, error) {
	if backend == nil {
		return nil, fmt.Errorf("tpmtis: backend is required")
	}
	if irqNum > 15 {
		return nil, fmt.Errorf("tpmtis: IRQ %d is outside valid range of 0 to 15", irqNum)
	}
	if irqLine == nil {
		irqLine = chipset.LineInterruptDetached()
	}

	d := &Device{
		base:        base,
		backend:     backend,
		irqNum:      irqNum,
		irqLine:     irqLine,
		completions: make(chan CompletionResult, 1),
		stopCh:      make(chan struct{}),
		log:         slog.With("device", "tpmtis"),
	}
	backend.SetCompletionHandler(d.enqueueCompletion)
	return d, nil
}

// Init implements hv.Device.
func (d *Device) Init(vm hv.VirtualMachine) error {
	return nil
}

// MMIORegions implements hv.MemoryMappedIODevice.
func (d *Device) MMIORegions() []hv.MMIORegion {
	return []hv.MMIORegion{{Address: d.base, Size: Size}}
}

// SupportsMmio implements chipset.ChipsetDevice.
func (d *Device) SupportsMmio() *chipset.MmioIntercept {
	return &chipset.MmioIntercept{
		Regions: []hv.MMIORegion{{Address: d.base, Size: Size}},
		Handler: d,
	}
}

// Start implements chipset.ChangeDeviceState. It starts the dedicated
// completion-delivery goroutine that serializes backend callbacks with MMIO
// access, so a completion is always applied under the same mutex as a
// register access rather than racing in on the backend's own goroutine.
func (d *Device) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return nil
	}
	d.started = true
	d.wg.Add(1)
	go d.runCompletions()
	return d.resetLocked()
}

// Stop implements chipset.ChangeDeviceState.
func (d *Device) Stop() error {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return nil
	}
	d.started = false
	d.mu.Unlock()

	close(d.stopCh)
	d.wg.Wait()
	return nil
}

// Reset implements chipset.ChangeDeviceState, restoring all localities and
// the FSM to their power-on state.
func (d *Device) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.resetLocked()
}

func (d *Device) runCompletions() {
	defer d.wg.Done()
	for {
		select {
		case <-d.stopCh:
			return
		case res := <-d.completions:
			d.mu.Lock()
			d.onCompletionLocked(res)
			d.mu.Unlock()
		}
	}
}

func (d *Device) enqueueCompletion(res CompletionResult) {
	d.completions <- res
}

// decode splits a device-relative MMIO address into the locality it
// targets, the dword-aligned register offset within that locality's page,
// and the byte shift for sub-dword access.
func decode(addr uint64) (locality int, reg uint32, shift uint) {
	locality = int((addr >> localityShift) & 0x7)
	reg = uint32(addr) & 0xffc
	shift = uint(addr&0x3) * 8
	return
}

// clampSize prevents an access from crossing a 4-byte boundary.
func clampSize(addr uint64, size int) int {
	max := 4 - int(addr&0x3)
	if size > max {
		return max
	}
	return size
}

// ReadMMIO implements chipset.MmioHandler.
func (d *Device) ReadMMIO(addr uint64, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	off := addr - d.base
	if d.backend.HadStartupError() {
		for i := range data {
			data[i] = 0
		}
		return nil
	}

	locality, reg, shift := decode(off)
	size := clampSize(off, len(data))

	if isFIFORegister(reg) {
		// The FIFO ignores sub-dword positioning entirely: each byte
		// read is the next response byte, not a byte lane of a
		// conceptual 32-bit register.
		d.readFIFOBytesLocked(locality, data[:size])
	} else {
		val := d.readRegisterLocked(locality, reg, size)
		val >>= shift
		for i := 0; i < size; i++ {
			data[i] = byte(val >> (uint(i) * 8))
		}
	}
	for i := size; i < len(data); i++ {
		data[i] = 0xff
	}
	return nil
}

// WriteMMIO implements chipset.MmioHandler.
func (d *Device) WriteMMIO(addr uint64, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	off := addr - d.base
	locality, reg, shift := decode(off)

	if locality == 4 {
		return nil
	}
	if d.backend.HadStartupError() {
		return nil
	}

	size := clampSize(off, len(data))

	if isFIFORegister(reg) {
		d.writeFIFOBytesLocked(locality, data[:size])
		return nil
	}

	var val uint32
	for i := 0; i < size && i < len(data); i++ {
		val |= uint32(data[i]) << (uint(i) * 8)
	}
	laneMask := sizeMask(size)
	val &= laneMask
	val <<= shift
	laneMask <<= shift

	d.writeRegisterLocked(locality, reg, val, laneMask)
	return nil
}

func isFIFORegister(reg uint32) bool {
	if reg >= regDataFIFO && reg < regDataFIFO+4 {
		return true
	}
	return reg >= regDataXFIFOStart && reg <= regDataXFIFOEnd
}

func sizeMask(size int) uint32 {
	switch size {
	case 1:
		return 0xff
	case 2:
		return 0xffff
	default:
		return 0xffffffff
	}
}

// readRegisterLocked dispatches a read of a non-FIFO register (the FIFO
// range is special-cased in ReadMMIO before this is ever called).
// Out-of-range localities (5, 6, 7; the TIS window only defines 5 pages)
// and unlisted registers read back as all-ones.
func (d *Device) readRegisterLocked(locality int, reg uint32, size int) uint32 {
	if locality < 0 || locality >= NumLocalities {
		return 0xffffffff
	}
	switch reg {
	case regAccess:
		return d.readAccessLocked(locality)
	case regIntEnable:
		return uint32(d.loc[locality].inte)
	case regIntVector:
		return d.irqNum
	case regIntStatus:
		return uint32(d.loc[locality].ints)
	case regIntfCapability:
		return d.intfCapability()
	case regSts:
		return d.readStsLocked(locality, size)
	case regInterfaceID:
		return d.loc[locality].ifaceID
	case regDidVid:
		return didVidValue()
	case regRid:
		return tpmRID
	default:
		return 0xffffffff
	}
}

// writeRegisterLocked dispatches a write to a non-FIFO register. laneMask
// is the (already-shifted) set of bits the guest's access actually covers,
// needed by registers like INT_ENABLE where a sub-dword write must not
// disturb bytes outside its own width.
func (d *Device) writeRegisterLocked(locality int, reg uint32, val uint32, laneMask uint32) {
	if locality < 0 || locality >= NumLocalities {
		return
	}
	switch reg {
	case regAccess:
		d.writeAccessLocked(locality, AccessBits(val))
	case regIntEnable:
		d.writeIntEnableLocked(locality, InterruptEnableBits(val), InterruptEnableBits(laneMask))
	case regIntVector:
		// hard-wired, ignore
	case regIntStatus:
		d.writeIntStatusLocked(locality, InterruptStatusBits(val))
	case regSts:
		d.writeStsLocked(locality, StatusBits(val))
	case regInterfaceID:
		d.writeInterfaceIDLocked(val)
	}
}

func (d *Device) intfCapability() uint32 {
	switch d.beVersion {
	case Version1_2:
		return capabilities1_2
	case Version2_0:
		return capabilities2_0
	default:
		return 0
	}
}
