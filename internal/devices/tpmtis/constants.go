package tpmtis

// Per-locality register offsets within one 4 KiB locality page.
const (
	regAccess          = 0x000
	regIntEnable       = 0x008
	regIntVector       = 0x00c
	regIntStatus       = 0x010
	regIntfCapability  = 0x014
	regSts             = 0x018
	regDataFIFO        = 0x024
	regInterfaceID     = 0x030
	regDataXFIFOStart  = 0x080
	regDataXFIFOEnd    = 0x0bc
	regDidVid          = 0xf00
	regRid             = 0xf04
)

// NumLocalities is the number of 4 KiB register pages the device exposes,
// fixed by the TIS specification.
const NumLocalities = 5

// localityShift is the address bit offset that selects the locality page.
const localityShift = 12

// localityNone is the sentinel used for active_locty/next_locty/aborting_locty
// when no locality holds that role.
const localityNone = -1

// bufferMax is the hard cap on the per-command buffer size.
const bufferMax = 4096

// noDataByte is returned for FIFO reads outside COMPLETION state.
const noDataByte = 0xff

// AccessBits are the bit flags of the per-locality ACCESS register.
type AccessBits uint8

const (
	AccessTPMEstablishment AccessBits = 1 << 0
	AccessRequestUse       AccessBits = 1 << 1
	AccessPendingRequest   AccessBits = 1 << 2
	AccessSeize            AccessBits = 1 << 3
	AccessBeenSeized       AccessBits = 1 << 4
	AccessActiveLocality   AccessBits = 1 << 5
	AccessRegValidSts      AccessBits = 1 << 7
)

// StatusBits are the bit flags of the per-locality STS register.
type StatusBits uint32

const (
	StatusResponseRetry         StatusBits = 1 << 1
	StatusSelftestDone          StatusBits = 1 << 2
	StatusExpect                StatusBits = 1 << 3
	StatusDataAvailable         StatusBits = 1 << 4
	StatusTPMGo                 StatusBits = 1 << 5
	StatusCommandReady          StatusBits = 1 << 6
	StatusValid                 StatusBits = 1 << 7
	StatusCommandCancel         StatusBits = 1 << 24
	StatusResetEstablishmentBit StatusBits = 1 << 25
	statusFamilyShift                      = 26
	StatusFamilyMask            StatusBits = 0x3 << statusFamilyShift
	statusFamily1_2             StatusBits = 0 << statusFamilyShift
	statusFamily2_0             StatusBits = 1 << statusFamilyShift

	// statusPersistentMask is what tpm_tis_sts_set preserves across an
	// otherwise-full overwrite of the status flags: the sticky selftest
	// bit and the TPM-family identification bits.
	statusPersistentMask = StatusSelftestDone | StatusFamilyMask

	statusBurstShift = 8
)

// statusWritableMask is the set of STS bits a guest write can ever select,
// after the TPM2.0-only bits have been peeled off and handled separately.
const statusWritableMask = StatusCommandReady | StatusTPMGo | StatusResponseRetry

// InterruptEnableBits are the bit flags of the per-locality INT_ENABLE register.
type InterruptEnableBits uint32

const (
	IntEnableDataAvailable   InterruptEnableBits = 1 << 0
	IntEnableStsValid        InterruptEnableBits = 1 << 1
	IntEnableLocalityChanged InterruptEnableBits = 1 << 2
	intPolarityShift                             = 3
	IntPolarityMask          InterruptEnableBits = 0x3 << intPolarityShift
	IntPolarityLowLevel      InterruptEnableBits = 1 << intPolarityShift
	IntEnableCommandReady    InterruptEnableBits = 1 << 7
	IntEnabled               InterruptEnableBits = 1 << 31

	// intEnableWritableMask is what a guest write to INT_ENABLE may change.
	intEnableWritableMask = IntEnabled | IntPolarityMask | IntsSupported
)

// InterruptStatusBits are the bit flags shared by INT_ENABLE (as a mask of
// supported interrupts) and INT_STATUS (as the asserted/cleared bits).
type InterruptStatusBits = InterruptEnableBits

const (
	IntDataAvailable   = IntEnableDataAvailable
	IntStsValid        = IntEnableStsValid
	IntLocalityChanged = IntEnableLocalityChanged
	IntCommandReady    = IntEnableCommandReady

	IntsSupported = IntDataAvailable | IntStsValid | IntLocalityChanged | IntCommandReady
)

// capDataTransfer64B, capBurstCountDynamic and capInterruptLowLevel are the
// fixed bits of INTF_CAPABILITY independent of TPM family.
const (
	capInterfaceVersion1_3      = 2 << 28
	capInterfaceVersion1_3ForV2 = 3 << 28
	capDataTransfer64B          = 3 << 9
	capBurstCountDynamic        = 0 << 8
	capInterruptLowLevel        = 1 << 4
)

const (
	capabilities1_2 = capInterruptLowLevel | capBurstCountDynamic | capDataTransfer64B |
		capInterfaceVersion1_3 | uint32(IntsSupported)
	capabilities2_0 = capInterruptLowLevel | capBurstCountDynamic | capDataTransfer64B |
		capInterfaceVersion1_3ForV2 | uint32(IntsSupported)
)

// INTERFACE_ID bit layout (TPM2.0 FIFO interface descriptor).
const (
	ifaceIDInterfaceTIS1_3 = 0xf
	ifaceIDInterfaceFIFO   = 0x0
	ifaceIDVersionFIFO     = 0 << 4
	ifaceIDCap5Localities  = 1 << 8
	ifaceIDCapTISSupported = 1 << 13
	// IfaceIDIntSelLock is the write-1-to-lock bit; once set on any
	// locality's write, it is ORed into every locality's INTERFACE_ID
	// irrevocably.
	IfaceIDIntSelLock = 1 << 19

	ifaceIDFlags1_2 = ifaceIDInterfaceTIS1_3 | ^uint32(0xf)
	ifaceIDFlags2_0 = ifaceIDInterfaceFIFO | ifaceIDVersionFIFO |
		ifaceIDCap5Localities | ifaceIDCapTISSupported
)

// Identification registers.
const (
	tpmVID  = 0x1014
	tpmDID  = 0x0001
	tpmRID  = 0x01
)

func didVidValue() uint32 {
	return uint32(tpmDID)<<16 | uint32(tpmVID)
}
