package tpmtis

// onCompletionLocked is invoked, serialized with all MMIO access, once the
// backend has delivered a response for the command handed to
// sendToBackendLocked. It moves the submitting locality to COMPLETION,
// finishes any deferred abort that was waiting on this command, and
// signals DATA_AVAILABLE.
func (d *Device) onCompletionLocked(res CompletionResult) {
	locality := d.cmdLocality
	d.log.Debug("command completed", "locality", locality, "bytes", res.N)

	if res.SelftestDone {
		for l := 0; l < NumLocalities; l++ {
			d.loc[l].sts |= StatusSelftestDone
		}
	}

	d.stsSetLocked(locality, StatusValid|StatusDataAvailable)
	d.loc[locality].state = StateCompletion
	d.rwOffset = 0

	if d.isValidLocality(d.nextLocty) {
		d.abortLocked()
	}

	d.raiseIRQLocked(locality, IntDataAvailable|IntStsValid)
}

// writeInterfaceIDLocked handles the one writable bit of INTERFACE_ID: once
// a guest sets the lock bit it is irrevocably ORed into every locality's
// copy of the register.
func (d *Device) writeInterfaceIDLocked(val uint32) {
	if val&IfaceIDIntSelLock == 0 {
		return
	}
	for l := 0; l < NumLocalities; l++ {
		d.loc[l].ifaceID |= IfaceIDIntSelLock
	}
}
