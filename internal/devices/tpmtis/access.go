package tpmtis

// readAccessLocked computes the ACCESS register value for locality. SEIZE
// is an internal arbitration bit and is never shown to the guest; the
// pending-request bit is derived on every read rather than stored.
func (d *Device) readAccessLocked(locality int) uint32 {
	val := d.loc[locality].access &^ AccessSeize
	if d.checkRequestUseExceptLocked(locality) {
		val |= AccessPendingRequest
	}
	if !d.backend.EstablishedFlag() {
		val |= AccessTPMEstablishment
	}
	return uint32(val)
}

// checkRequestUseExceptLocked reports whether any locality other than
// locality currently has REQUEST_USE pending.
func (d *Device) checkRequestUseExceptLocked(locality int) bool {
	for l := 0; l < NumLocalities; l++ {
		if l == locality {
			continue
		}
		if d.loc[l].access&AccessRequestUse != 0 {
			return true
		}
	}
	return false
}

// writeAccessLocked processes a guest write to ACCESS: locality arbitration
// (request/release/seize).
func (d *Device) writeAccessLocked(locality int, val AccessBits) {
	setNewLocty := true

	if val&AccessSeize != 0 {
		val &^= AccessRequestUse | AccessActiveLocality
	}

	activeLocty := d.activeLocty

	if val&AccessActiveLocality != 0 {
		if d.activeLocty == locality {
			newLocty := localityNone
			for c := NumLocalities - 1; c >= 0; c-- {
				if d.loc[c].access&AccessRequestUse != 0 {
					newLocty = c
					break
				}
			}
			if newLocty != localityNone {
				setNewLocty = false
				d.prepAbortLocked(locality, newLocty)
			} else {
				activeLocty = localityNone
			}
		} else {
			d.loc[locality].access &^= AccessRequestUse
		}
	}

	if val&AccessBeenSeized != 0 {
		d.loc[locality].access &^= AccessBeenSeized
	}

	if val&AccessSeize != 0 {
		for (d.isValidLocality(d.activeLocty) && locality > d.activeLocty) ||
			!d.isValidLocality(d.activeLocty) {
			if d.loc[locality].access&AccessSeize != 0 {
				break
			}

			higherSeize := false
			for l := locality + 1; l < NumLocalities; l++ {
				if d.loc[l].access&AccessSeize != 0 {
					higherSeize = true
					break
				}
			}
			if higherSeize {
				break
			}

			for l := 0; l < locality; l++ {
				d.loc[l].access &^= AccessSeize
			}

			d.loc[locality].access |= AccessSeize
			setNewLocty = false
			d.prepAbortLocked(d.activeLocty, locality)
			break
		}
	}

	if val&AccessRequestUse != 0 {
		if d.activeLocty != locality {
			if d.isValidLocality(d.activeLocty) {
				d.loc[locality].access |= AccessRequestUse
			} else {
				activeLocty = locality
			}
		}
	}

	if setNewLocty {
		d.newActiveLocalityLocked(activeLocty)
	}
}

func (d *Device) isValidLocality(locality int) bool {
	return locality >= 0 && locality < NumLocalities
}

// newActiveLocalityLocked switches the active locality, clearing and
// setting ACCESS bits on the old and new owners and raising
// IntLocalityChanged if the owner actually changed.
func (d *Device) newActiveLocalityLocked(newActive int) {
	changed := d.activeLocty != newActive

	if changed && d.isValidLocality(d.activeLocty) {
		isSeize := d.isValidLocality(newActive) && d.loc[newActive].access&AccessSeize != 0

		var mask AccessBits
		if isSeize {
			mask = ^AccessActiveLocality
		} else {
			mask = ^(AccessActiveLocality | AccessRequestUse)
		}
		d.loc[d.activeLocty].access &= mask

		if isSeize {
			d.loc[d.activeLocty].access |= AccessBeenSeized
		}
	}

	d.activeLocty = newActive

	if d.isValidLocality(newActive) {
		d.loc[newActive].access |= AccessActiveLocality
		d.loc[newActive].access &^= AccessRequestUse | AccessSeize
	}

	if changed {
		d.raiseIRQLocked(d.activeLocty, IntLocalityChanged)
	}
}
