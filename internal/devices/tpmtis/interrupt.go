package tpmtis

// raiseIRQLocked asserts irqLine and latches irqmask into INT_STATUS if
// locality has that interrupt both globally enabled and unmasked.
func (d *Device) raiseIRQLocked(locality int, irqmask InterruptEnableBits) {
	if !d.isValidLocality(locality) {
		return
	}
	loc := &d.loc[locality]
	if loc.inte&IntEnabled != 0 && loc.inte&irqmask != 0 {
		d.irqLine.SetLevel(true)
		loc.ints |= InterruptStatusBits(irqmask)
	}
}

// writeIntEnableLocked handles a guest write to INT_ENABLE. Only the
// locality that currently owns the interface may change it. laneMask
// confines the clear to the byte lanes the guest's access actually
// touched, mirroring tpm_tis_mmio_write's size/shift-derived mask: a
// narrower-than-4-byte write must not clobber IntEnabled (bit 31) or any
// other bit outside the bytes it wrote.
func (d *Device) writeIntEnableLocked(locality int, val, laneMask InterruptEnableBits) {
	if d.activeLocty != locality {
		return
	}
	loc := &d.loc[locality]
	loc.inte &^= laneMask & intEnableWritableMask
	loc.inte |= val & intEnableWritableMask
}

// writeIntStatusLocked handles a guest write to INT_STATUS: writing a 1
// clears the corresponding latched bit (write-1-to-clear).
func (d *Device) writeIntStatusLocked(locality int, val InterruptStatusBits) {
	if d.activeLocty != locality {
		return
	}
	loc := &d.loc[locality]
	if val&IntsSupported != 0 && loc.ints&IntsSupported != 0 {
		loc.ints &^= val
		if loc.ints == 0 {
			d.irqLine.SetLevel(false)
		}
	}
	loc.ints &^= val & IntsSupported
}
