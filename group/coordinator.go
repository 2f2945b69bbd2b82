package group

import (
	"fmt"
	"sort"
	"sync"

	"github.com/vsslctrl/vsslctrl/frame"
	"github.com/vsslctrl/vsslctrl/logging"
	"github.com/vsslctrl/vsslctrl/state"
)

// Wire constants for command group 0x4B / feedback group 0x4C.
const (
	commandGroup  byte = 0x4B
	feedbackGroup byte = 0x4C

	// noSource in a feedback payload, or as the member byte in a dissolve
	// command, means "no group".
	noSource byte = 0xFF

	// removeSlot in the slot position of a command removes the payload
	// zone from whatever group it is in.
	removeSlot byte = 0xFF
)

// FeedbackGroup is the command group grouping feedback arrives on. The
// feedback router hands such frames to ApplyFeedback instead of the sync
// engine.
const FeedbackGroup = feedbackGroup

// Role is a zone's position in the grouping topology.
type Role uint8

const (
	// RoleStandalone means the zone plays its own source.
	RoleStandalone Role = iota

	// RoleMaster means the zone's source drives one or more members.
	RoleMaster

	// RoleMember means the zone renders its master's source.
	RoleMember
)

func (r Role) String() string {
	switch r {
	case RoleStandalone:
		return "standalone"
	case RoleMaster:
		return "master"
	case RoleMember:
		return "member"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

// Record is one zone's confirmed grouping state.
type Record struct {
	Role Role

	// Master is set when Role is RoleMember.
	Master state.ZoneID

	// Members is set when Role is RoleMaster, sorted ascending.
	Members []state.ZoneID
}

// Tracker is the slice of the sync engine the coordinator confirms through.
type Tracker interface {
	TrackPending(key state.Key) (*state.Confirmation, error)
	Resolve(key state.Key, err error)
}

type zoneHandle struct {
	sender  state.Sender
	tracker Tracker
}

// Coordinator owns the grouping records of every registered zone.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Coordinator struct {
	log      *logging.Logger
	onChange func(zone state.ZoneID, rec Record)

	mu      sync.Mutex
	zones   map[state.ZoneID]zoneHandle
	records map[state.ZoneID]Record
}

// New creates a Coordinator. onChange fires once per zone whose record
// changed, outside the coordinator lock; it may be nil.
func New(log *logging.Logger, onChange func(state.ZoneID, Record)) *Coordinator {
	if log == nil {
		log = logging.Default()
	}
	return &Coordinator{
		log:      log,
		onChange: onChange,
		zones:    make(map[state.ZoneID]zoneHandle),
		records:  make(map[state.ZoneID]Record),
	}
}

// Register adds a zone. Every zone starts standalone.
func (c *Coordinator) Register(zone state.ZoneID, sender state.Sender, tracker Tracker) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.zones[zone] = zoneHandle{sender: sender, tracker: tracker}
	c.records[zone] = Record{Role: RoleStandalone}
}

// Record returns the zone's confirmed grouping state.
func (c *Coordinator) Record(zone state.ZoneID) (Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[zone]
	return copyRecord(rec), ok
}

// AddMember asks the device to join member to master's group. The returned
// confirmation resolves when the member's grouping feedback lands.
func (c *Coordinator) AddMember(master, member state.ZoneID) (*state.Confirmation, error) {
	if master == member {
		return nil, fmt.Errorf("%w: zone %d", ErrSelfGroup, master)
	}

	c.mu.Lock()
	mh, ok := c.zones[master]
	if !ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %d", ErrUnknownZone, master)
	}
	memberHandle, ok := c.zones[member]
	if !ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %d", ErrUnknownZone, member)
	}

	if rec := c.records[master]; rec.Role == RoleMember {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: master %d is a member of zone %d", ErrAlreadyGrouped, master, rec.Master)
	}
	switch rec := c.records[member]; rec.Role {
	case RoleMaster:
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: member %d masters its own group", ErrAlreadyGrouped, member)
	case RoleMember:
		if rec.Master != master {
			c.mu.Unlock()
			return nil, fmt.Errorf("%w: member %d belongs to zone %d", ErrAlreadyGrouped, member, rec.Master)
		}
	}
	c.mu.Unlock()

	buf, err := frame.Encode(commandGroup, byte(master), []byte{byte(member)})
	if err != nil {
		return nil, err
	}
	conf, err := memberHandle.tracker.TrackPending(state.KeyGroup)
	if err != nil {
		return nil, err
	}
	if err := mh.sender.Send(buf); err != nil {
		memberHandle.tracker.Resolve(state.KeyGroup, err)
		return nil, err
	}

	c.log.Debug("group add requested", "master", int(master), "member", int(member))
	return conf, nil
}

// RemoveMember asks the device to drop member from its group.
func (c *Coordinator) RemoveMember(member state.ZoneID) (*state.Confirmation, error) {
	c.mu.Lock()
	handle, ok := c.zones[member]
	if !ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %d", ErrUnknownZone, member)
	}
	if c.records[member].Role != RoleMember {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: zone %d", ErrNotGrouped, member)
	}
	c.mu.Unlock()

	buf, err := frame.Encode(commandGroup, removeSlot, []byte{byte(member)})
	if err != nil {
		return nil, err
	}
	conf, err := handle.tracker.TrackPending(state.KeyGroup)
	if err != nil {
		return nil, err
	}
	if err := handle.sender.Send(buf); err != nil {
		handle.tracker.Resolve(state.KeyGroup, err)
		return nil, err
	}

	c.log.Debug("group remove requested", "member", int(member))
	return conf, nil
}

// Dissolve asks the device to break up master's whole group.
func (c *Coordinator) Dissolve(master state.ZoneID) (*state.Confirmation, error) {
	c.mu.Lock()
	handle, ok := c.zones[master]
	if !ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %d", ErrUnknownZone, master)
	}
	if c.records[master].Role != RoleMaster {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: zone %d is not a master", ErrNotGrouped, master)
	}
	c.mu.Unlock()

	buf, err := frame.Encode(commandGroup, byte(master), []byte{noSource})
	if err != nil {
		return nil, err
	}
	conf, err := handle.tracker.TrackPending(state.KeyGroup)
	if err != nil {
		return nil, err
	}
	if err := handle.sender.Send(buf); err != nil {
		handle.tracker.Resolve(state.KeyGroup, err)
		return nil, err
	}

	c.log.Debug("group dissolve requested", "master", int(master))
	return conf, nil
}

// Leave removes the zone from whatever group it is in: a member leaves, a
// master dissolves its group.
func (c *Coordinator) Leave(zone state.ZoneID) (*state.Confirmation, error) {
	c.mu.Lock()
	rec, ok := c.records[zone]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownZone, zone)
	}

	switch rec.Role {
	case RoleMember:
		return c.RemoveMember(zone)
	case RoleMaster:
		return c.Dissolve(zone)
	}
	return nil, fmt.Errorf("%w: zone %d", ErrNotGrouped, zone)
}

// ApplyFeedback processes one grouping feedback frame for zone. The payload
// is [is_master, source]: source 0xFF means no group, anything else is the
// master's zone slot.
//
// Records are updated symmetrically under one lock, and a master reporting
// standalone cascades to its members, so the topology invariant holds at
// every observable instant.
func (c *Coordinator) ApplyFeedback(zone state.ZoneID, payload []byte) {
	if len(payload) < 2 {
		c.log.Debug("grouping feedback too short", "zone", int(zone), "len", len(payload))
		return
	}
	isMaster := payload[0] != 0
	source := payload[1]

	c.mu.Lock()
	handle, ok := c.zones[zone]
	if !ok {
		c.mu.Unlock()
		c.log.Debug("grouping feedback for unregistered zone", "zone", int(zone))
		return
	}

	changed := make(map[state.ZoneID]Record)

	switch {
	case isMaster:
		c.detachLocked(zone, changed)
		rec := c.records[zone]
		rec.Role = RoleMaster
		c.setLocked(zone, rec, changed)

	case source != noSource:
		master := state.ZoneID(source)
		c.detachLocked(zone, changed)
		c.setLocked(zone, Record{Role: RoleMember, Master: master}, changed)

		mrec := c.records[master]
		mrec.Role = RoleMaster
		mrec.Members = insertZone(mrec.Members, zone)
		c.setLocked(master, mrec, changed)

	default:
		// Standalone. A master going standalone takes its members with it.
		if rec := c.records[zone]; rec.Role == RoleMaster {
			for _, m := range rec.Members {
				c.setLocked(m, Record{Role: RoleStandalone}, changed)
			}
		}
		c.detachLocked(zone, changed)
		c.setLocked(zone, Record{Role: RoleStandalone}, changed)
	}
	c.mu.Unlock()

	handle.tracker.Resolve(state.KeyGroup, nil)

	if c.onChange != nil {
		for z, rec := range changed {
			c.onChange(z, copyRecord(rec))
		}
	}
}

// detachLocked removes zone from its current master's member list, demoting
// the master to standalone if it was the last member.
func (c *Coordinator) detachLocked(zone state.ZoneID, changed map[state.ZoneID]Record) {
	rec := c.records[zone]
	if rec.Role != RoleMember {
		return
	}
	mrec := c.records[rec.Master]
	mrec.Members = removeZone(mrec.Members, zone)
	if len(mrec.Members) == 0 {
		mrec = Record{Role: RoleStandalone}
	}
	c.setLocked(rec.Master, mrec, changed)
}

// setLocked stores the record and marks it changed if it differs.
func (c *Coordinator) setLocked(zone state.ZoneID, rec Record, changed map[state.ZoneID]Record) {
	if recordsEqual(c.records[zone], rec) {
		return
	}
	c.records[zone] = rec
	changed[zone] = rec
}

func insertZone(zones []state.ZoneID, z state.ZoneID) []state.ZoneID {
	for _, existing := range zones {
		if existing == z {
			return zones
		}
	}
	out := append(append([]state.ZoneID(nil), zones...), z)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func removeZone(zones []state.ZoneID, z state.ZoneID) []state.ZoneID {
	var out []state.ZoneID
	for _, existing := range zones {
		if existing != z {
			out = append(out, existing)
		}
	}
	return out
}

func recordsEqual(a, b Record) bool {
	if a.Role != b.Role || a.Master != b.Master || len(a.Members) != len(b.Members) {
		return false
	}
	for i := range a.Members {
		if a.Members[i] != b.Members[i] {
			return false
		}
	}
	return true
}

func copyRecord(rec Record) Record {
	out := rec
	if rec.Members != nil {
		out.Members = append([]state.ZoneID(nil), rec.Members...)
	}
	return out
}
