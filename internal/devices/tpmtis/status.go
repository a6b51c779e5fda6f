package tpmtis

// stsSetLocked overwrites the flag bits of STS while preserving the sticky
// SELFTEST_DONE bit and the TPM-family identification bits, matching
// tpm_tis_sts_set in the original device: those two are cached state the
// backend otherwise has no durable way to report back.
func (d *Device) stsSetLocked(locality int, flags StatusBits) {
	loc := &d.loc[locality]
	loc.sts &= statusPersistentMask
	loc.sts |= flags
}

// commandSize reads the paramSize field of a TPM command header: 2 bytes
// of tag followed by a 4-byte big-endian total size.
func commandSize(buf []byte) int {
	if len(buf) < 6 {
		return 0
	}
	return int(uint32(buf[2])<<24 | uint32(buf[3])<<16 | uint32(buf[4])<<8 | uint32(buf[5]))
}

// readStsLocked computes the STS register value, which folds in the
// dynamically computed burst count. A locality other than the active one
// always reads back zero: the source's val accumulator for this register
// is only ever assigned inside the active-locality branch.
func (d *Device) readStsLocked(locality int, size int) uint32 {
	if d.activeLocty != locality {
		return 0
	}

	loc := &d.loc[locality]
	var burst uint32
	if loc.sts&StatusDataAvailable != 0 {
		avail := commandSize(d.buffer)
		if avail > d.bufferSize {
			avail = d.bufferSize
		}
		burst = uint32(avail - d.rwOffset)
	} else {
		avail := uint32(d.bufferSize - d.rwOffset)
		if size == 1 && avail > 0xff {
			avail = 0xff
		}
		burst = avail
	}
	return (burst << statusBurstShift) | uint32(loc.sts)
}

// writeStsLocked handles a guest write to STS: the TPM2-only cancel and
// establishment-reset side effects, then the command-ready/go/retry state
// transitions.
func (d *Device) writeStsLocked(locality int, val StatusBits) {
	if d.activeLocty != locality {
		return
	}
	loc := &d.loc[locality]

	if d.beVersion == Version2_0 {
		if val&StatusCommandCancel != 0 && loc.state == StateExecution {
			d.backend.Cancel()
		}
		if val&StatusResetEstablishmentBit != 0 && (locality == 3 || locality == 4) {
			_ = d.backend.ResetEstablishedFlag(locality)
		}
	}

	val &= statusWritableMask

	switch {
	case val == StatusCommandReady:
		switch loc.state {
		case StateReady:
			d.rwOffset = 0
		case StateIdle:
			d.stsSetLocked(locality, StatusCommandReady)
			loc.state = StateReady
			d.raiseIRQLocked(locality, IntCommandReady)
		case StateExecution, StateReception:
			d.prepAbortLocked(locality, locality)
		case StateCompletion:
			d.rwOffset = 0
			loc.state = StateReady
			if loc.sts&StatusCommandReady == 0 {
				d.stsSetLocked(locality, StatusCommandReady)
				d.raiseIRQLocked(locality, IntCommandReady)
			}
			loc.sts &^= StatusDataAvailable
		}

	case val == StatusTPMGo:
		if loc.state == StateReception && loc.sts&StatusExpect == 0 {
			d.sendToBackendLocked(locality)
		}

	case val == StatusResponseRetry:
		if loc.state == StateCompletion {
			d.rwOffset = 0
			d.stsSetLocked(locality, StatusValid|StatusDataAvailable)
		}
	}
}
