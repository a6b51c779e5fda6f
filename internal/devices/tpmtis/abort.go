package tpmtis

// prepAbortLocked begins aborting whatever locality currently owns the
// interface in favor of newLocty. If a command is in flight it asks the
// backend to cancel and defers the locality switch to onCompletionLocked;
// otherwise the switch happens immediately.
func (d *Device) prepAbortLocked(locty, newLocty int) {
	d.abortingLocty = locty
	d.nextLocty = newLocty

	for l := 0; l < NumLocalities; l++ {
		if d.loc[l].state == StateExecution {
			d.backend.Cancel()
			return
		}
	}

	d.abortLocked()
}

// abortLocked performs the deferred locality switch that prepAbortLocked
// set up.
func (d *Device) abortLocked() {
	d.rwOffset = 0

	if d.abortingLocty == d.nextLocty {
		d.loc[d.abortingLocty].state = StateReady
		d.stsSetLocked(d.abortingLocty, StatusCommandReady)
		d.raiseIRQLocked(d.abortingLocty, IntCommandReady)
	}

	d.newActiveLocalityLocked(d.nextLocty)

	d.nextLocty = localityNone
	d.abortingLocty = localityNone
}
