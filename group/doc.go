// Package group implements the zone-grouping coordinator.
//
// Grouping links zones so that one (the master) drives playback on the
// others (members). The coordinator is the sole owner of membership records;
// they are never stored in the property store. It builds the grouping
// command frames, tracks their confirmation through each zone's sync engine,
// and applies grouping feedback so that the records stay mutually
// consistent: a member's master always lists it, a master's members always
// point back, and a standalone zone appears in no member list.
//
// When a master's group dissolves, every member reverts to standalone in the
// same update, so no observer sees a member pointing at a master that is no
// longer one.
package group
