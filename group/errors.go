package group

import "errors"

var (
	// ErrUnknownZone means the zone is not registered with the coordinator.
	ErrUnknownZone = errors.New("group: unknown zone")

	// ErrSelfGroup means a zone was asked to group with itself.
	ErrSelfGroup = errors.New("group: zone cannot join itself")

	// ErrAlreadyGrouped means the zone already belongs to a group that
	// conflicts with the requested change.
	ErrAlreadyGrouped = errors.New("group: zone already grouped")

	// ErrNotGrouped means the operation needs the zone to be in a group.
	ErrNotGrouped = errors.New("group: zone not grouped")
)
