package tpmtis

// readFIFOBytesLocked fills data with the next len(data) response bytes.
// Unlike every other register, DATA_FIFO/DATA_XFIFO are a raw byte stream:
// each requested byte advances rwOffset independently, with no dword
// shifting applied. Only the active locality ever sees real data; any
// other locality reads back all-ones, matching the register's default
// unset value.
func (d *Device) readFIFOBytesLocked(locality int, data []byte) {
	if d.activeLocty != locality {
		for i := range data {
			data[i] = noDataByte
		}
		return
	}
	for i := range data {
		data[i] = d.dataReadByteLocked(locality)
	}
}

// dataReadByteLocked returns the next byte of the response buffer, or
// noDataByte outside COMPLETION state. Reading the last byte of a response
// flips STS back to just VALID and signals STS_VALID.
func (d *Device) dataReadByteLocked(locality int) byte {
	loc := &d.loc[locality]
	if loc.sts&StatusDataAvailable == 0 {
		return noDataByte
	}

	length := commandSize(d.buffer)
	if length > d.bufferSize {
		length = d.bufferSize
	}

	b := d.buffer[d.rwOffset]
	d.rwOffset++
	if d.rwOffset >= length {
		d.stsSetLocked(locality, StatusValid)
		d.raiseIRQLocked(locality, IntStsValid)
	}
	return b
}

// writeFIFOBytesLocked appends len(data) command bytes. Only the active
// locality's writes are accepted, and only in READY/RECEPTION state; IDLE,
// EXECUTION and COMPLETION silently drop the bytes, matching the original
// device's "drop the byte" branch.
func (d *Device) writeFIFOBytesLocked(locality int, data []byte) {
	if d.activeLocty != locality {
		return
	}
	loc := &d.loc[locality]
	switch loc.state {
	case StateIdle, StateExecution, StateCompletion:
		return
	}

	if loc.state == StateReady {
		loc.state = StateReception
		d.stsSetLocked(locality, StatusExpect|StatusValid)
	}

	for _, b := range data {
		if loc.sts&StatusExpect == 0 {
			break
		}
		if d.rwOffset < d.bufferSize {
			d.buffer[d.rwOffset] = b
			d.rwOffset++
		} else {
			d.stsSetLocked(locality, StatusValid)
		}
	}

	if d.rwOffset > 5 && loc.sts&StatusExpect != 0 {
		needIRQ := loc.sts&StatusValid == 0
		length := commandSize(d.buffer)
		if length > d.rwOffset {
			d.stsSetLocked(locality, StatusExpect|StatusValid)
		} else {
			d.stsSetLocked(locality, StatusValid)
		}
		if needIRQ {
			d.raiseIRQLocked(locality, IntStsValid)
		}
	}
}

// sendToBackendLocked hands the accumulated command buffer to the backend
// and moves the locality to EXECUTION. rwOffset is left as the request
// length; the backend's completion callback resets it to 0.
func (d *Device) sendToBackendLocked(locality int) {
	d.loc[locality].state = StateExecution
	d.cmdLocality = locality

	out := d.buffer
	in := d.buffer[:d.rwOffset]

	if err := d.backend.Submit(Command{Locality: locality, In: in, Out: out}); err != nil {
		d.log.Warn("submit to backend failed", "locality", locality, "err", err)
	}
}
