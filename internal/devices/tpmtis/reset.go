package tpmtis

// resetLocked implements the device reset sequence: query the backend for
// its TPM family and buffer size, tell it to reset and restart, then put
// every locality back to its power-on defaults.
func (d *Device) resetLocked() error {
	d.beVersion = d.backend.Version()
	d.bufferSize = d.backend.BufferSize()
	if d.bufferSize > bufferMax {
		d.bufferSize = bufferMax
	}
	if d.bufferSize <= 0 {
		d.bufferSize = bufferMax
	}
	d.buffer = make([]byte, d.bufferSize)

	if err := d.backend.Reset(); err != nil {
		return err
	}

	d.activeLocty = localityNone
	d.nextLocty = localityNone
	d.abortingLocty = localityNone
	d.rwOffset = 0

	for c := 0; c < NumLocalities; c++ {
		loc := &d.loc[c]
		loc.access = AccessRegValidSts
		loc.inte = IntPolarityLowLevel
		loc.ints = 0
		loc.state = StateIdle

		switch d.beVersion {
		case Version1_2:
			loc.sts = statusFamily1_2
			loc.ifaceID = ifaceIDFlags1_2
		case Version2_0:
			loc.sts = statusFamily2_0
			loc.ifaceID = ifaceIDFlags2_0
		default:
			loc.sts = 0
			loc.ifaceID = 0
		}
	}

	return d.backend.Startup(d.bufferSize)
}
