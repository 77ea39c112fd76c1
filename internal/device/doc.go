// Package device holds what shellylink knows about a Shelly device beyond
// its live presence: the identity rule every topic-derived identifier must
// pass, and the append-only event journal of presence and switch changes.
//
// Identity:
//
//	device.ValidID("shellyplus1-aabbcc") // true
//	device.ValidID("bogus")              // false
//
// Journal:
//
//	h := device.NewSQLiteEventHistory(db.DB)
//	events, err := h.GetHistory(ctx, "shellyplus1-aabbcc", 50)
//
// The journal is written by internal/recorder from the presence tracker's
// streams. It never stores display names or saved-device lists.
package device
