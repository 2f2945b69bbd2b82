package group

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vsslctrl/vsslctrl/state"
)

type fakeSender struct {
	mu     sync.Mutex
	frames [][]byte
}

func (s *fakeSender) Send(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, frame)
	return nil
}

func (s *fakeSender) last() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return nil
	}
	return s.frames[len(s.frames)-1]
}

type testRig struct {
	coord   *Coordinator
	senders map[state.ZoneID]*fakeSender
	engines map[state.ZoneID]*state.Engine
}

func newTestRig(t *testing.T, zones ...state.ZoneID) *testRig {
	t.Helper()
	rig := &testRig{
		coord:   New(nil, nil),
		senders: make(map[state.ZoneID]*fakeSender),
		engines: make(map[state.ZoneID]*state.Engine),
	}
	for _, z := range zones {
		sender := &fakeSender{}
		engine := state.New(state.Config{Entity: z, Sender: sender, ConfirmWindow: time.Second})
		t.Cleanup(engine.Shutdown)
		rig.senders[z] = sender
		rig.engines[z] = engine
		rig.coord.Register(z, sender, engine)
	}
	return rig
}

// join drives a confirmed AddMember through the rig.
func (rig *testRig) join(t *testing.T, master, member state.ZoneID) {
	t.Helper()
	conf, err := rig.coord.AddMember(master, member)
	if err != nil {
		t.Fatalf("AddMember(%d, %d) error: %v", master, member, err)
	}
	rig.coord.ApplyFeedback(member, []byte{0x00, byte(master)})
	rig.coord.ApplyFeedback(master, []byte{0x01, 0xFF})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := conf.Wait(ctx); err != nil {
		t.Fatalf("AddMember confirmation error: %v", err)
	}
}

// checkInvariant verifies the topology is mutually consistent.
func checkInvariant(t *testing.T, c *Coordinator, zones ...state.ZoneID) {
	t.Helper()
	for _, z := range zones {
		rec, ok := c.Record(z)
		if !ok {
			t.Fatalf("zone %d has no record", z)
		}
		switch rec.Role {
		case RoleMember:
			mrec, _ := c.Record(rec.Master)
			if mrec.Role != RoleMaster {
				t.Errorf("zone %d's master %d has role %v", z, rec.Master, mrec.Role)
			}
			if !containsZone(mrec.Members, z) {
				t.Errorf("master %d does not list member %d", rec.Master, z)
			}
		case RoleMaster:
			for _, m := range rec.Members {
				mrec, _ := c.Record(m)
				if mrec.Role != RoleMember || mrec.Master != z {
					t.Errorf("member %d of master %d has record %+v", m, z, mrec)
				}
			}
		case RoleStandalone:
			for _, other := range zones {
				orec, _ := c.Record(other)
				if containsZone(orec.Members, z) {
					t.Errorf("standalone zone %d listed as member of %d", z, other)
				}
			}
		}
	}
}

func containsZone(zones []state.ZoneID, z state.ZoneID) bool {
	for _, existing := range zones {
		if existing == z {
			return true
		}
	}
	return false
}

func TestAddMemberConfirmed(t *testing.T) {
	rig := newTestRig(t, 1, 2, 3)

	conf, err := rig.coord.AddMember(1, 2)
	if err != nil {
		t.Fatalf("AddMember() error: %v", err)
	}

	// The command rides the master's connection: group 0x4B, slot = master,
	// payload = member.
	want := []byte{0x10, 0x4B, 0x02, 0x01, 0x02, 0x03}
	if got := rig.senders[1].last(); !bytes.Equal(got, want) {
		t.Errorf("frame = %X, want %X", got, want)
	}

	// Nothing confirmed yet.
	if rec, _ := rig.coord.Record(2); rec.Role != RoleStandalone {
		t.Errorf("record before feedback = %+v, want standalone", rec)
	}

	rig.coord.ApplyFeedback(2, []byte{0x00, 0x01})
	rig.coord.ApplyFeedback(1, []byte{0x01, 0xFF})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := conf.Wait(ctx); err != nil {
		t.Fatalf("Wait() error: %v", err)
	}

	member, _ := rig.coord.Record(2)
	if member.Role != RoleMember || member.Master != 1 {
		t.Errorf("member record = %+v", member)
	}
	master, _ := rig.coord.Record(1)
	if master.Role != RoleMaster || !containsZone(master.Members, 2) {
		t.Errorf("master record = %+v", master)
	}
	checkInvariant(t, rig.coord, 1, 2, 3)
}

func TestAddMemberRejections(t *testing.T) {
	rig := newTestRig(t, 1, 2, 3)
	rig.join(t, 1, 2)

	tests := []struct {
		name           string
		master, member state.ZoneID
		want           error
	}{
		{"self group", 1, 1, ErrSelfGroup},
		{"unknown master", 9, 2, ErrUnknownZone},
		{"unknown member", 1, 9, ErrUnknownZone},
		{"member of another group", 3, 2, ErrAlreadyGrouped},
		{"master is a member", 2, 3, ErrAlreadyGrouped},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := rig.coord.AddMember(tt.master, tt.member); !errors.Is(err, tt.want) {
				t.Errorf("AddMember(%d, %d) error = %v, want %v", tt.master, tt.member, err, tt.want)
			}
		})
	}
}

func TestRemoveMember(t *testing.T) {
	rig := newTestRig(t, 1, 2, 3)
	rig.join(t, 1, 2)
	rig.join(t, 1, 3)

	conf, err := rig.coord.RemoveMember(3)
	if err != nil {
		t.Fatalf("RemoveMember() error: %v", err)
	}

	// Removal uses the reserved slot 0xFF with the member in the payload,
	// sent on the member's own connection.
	want := []byte{0x10, 0x4B, 0x02, 0xFF, 0x03, 0x03}
	if got := rig.senders[3].last(); !bytes.Equal(got, want) {
		t.Errorf("frame = %X, want %X", got, want)
	}

	rig.coord.ApplyFeedback(3, []byte{0x00, 0xFF})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := conf.Wait(ctx); err != nil {
		t.Fatalf("Wait() error: %v", err)
	}

	if rec, _ := rig.coord.Record(3); rec.Role != RoleStandalone {
		t.Errorf("removed zone record = %+v, want standalone", rec)
	}
	if rec, _ := rig.coord.Record(1); !containsZone(rec.Members, 2) || containsZone(rec.Members, 3) {
		t.Errorf("master record = %+v, want members [2]", rec)
	}
	checkInvariant(t, rig.coord, 1, 2, 3)
}

func TestRemoveLastMemberDemotesMaster(t *testing.T) {
	rig := newTestRig(t, 1, 2)
	rig.join(t, 1, 2)

	conf, err := rig.coord.RemoveMember(2)
	if err != nil {
		t.Fatalf("RemoveMember() error: %v", err)
	}
	rig.coord.ApplyFeedback(2, []byte{0x00, 0xFF})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := conf.Wait(ctx); err != nil {
		t.Fatalf("Wait() error: %v", err)
	}

	if rec, _ := rig.coord.Record(1); rec.Role != RoleStandalone {
		t.Errorf("master record after losing last member = %+v, want standalone", rec)
	}
	checkInvariant(t, rig.coord, 1, 2)
}

func TestRemoveMemberNotGrouped(t *testing.T) {
	rig := newTestRig(t, 1, 2)
	if _, err := rig.coord.RemoveMember(2); !errors.Is(err, ErrNotGrouped) {
		t.Errorf("RemoveMember() error = %v, want ErrNotGrouped", err)
	}
}

func TestDissolveCascades(t *testing.T) {
	rig := newTestRig(t, 1, 2, 3)
	rig.join(t, 1, 2)
	rig.join(t, 1, 3)

	conf, err := rig.coord.Dissolve(1)
	if err != nil {
		t.Fatalf("Dissolve() error: %v", err)
	}

	// Dissolve carries the no-group marker as the member byte.
	want := []byte{0x10, 0x4B, 0x02, 0x01, 0xFF, 0x03}
	if got := rig.senders[1].last(); !bytes.Equal(got, want) {
		t.Errorf("frame = %X, want %X", got, want)
	}

	// The master's standalone feedback reverts every member in the same
	// update, before their own feedback arrives.
	rig.coord.ApplyFeedback(1, []byte{0x00, 0xFF})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := conf.Wait(ctx); err != nil {
		t.Fatalf("Wait() error: %v", err)
	}

	for _, z := range []state.ZoneID{1, 2, 3} {
		if rec, _ := rig.coord.Record(z); rec.Role != RoleStandalone {
			t.Errorf("zone %d record = %+v, want standalone", z, rec)
		}
	}
	checkInvariant(t, rig.coord, 1, 2, 3)

	// The members' own standalone feedback is now a no-op.
	rig.coord.ApplyFeedback(2, []byte{0x00, 0xFF})
	rig.coord.ApplyFeedback(3, []byte{0x00, 0xFF})
	checkInvariant(t, rig.coord, 1, 2, 3)
}

func TestLeave(t *testing.T) {
	rig := newTestRig(t, 1, 2, 3)
	rig.join(t, 1, 2)

	// A member leaves via the removal command.
	if _, err := rig.coord.Leave(2); err != nil {
		t.Fatalf("Leave(member) error: %v", err)
	}
	if got := rig.senders[2].last(); got[3] != 0xFF {
		t.Errorf("member leave frame = %X, want removal slot 0xFF", got)
	}
	rig.coord.ApplyFeedback(2, []byte{0x00, 0xFF})

	// A master leaves by dissolving.
	rig.join(t, 1, 3)
	if _, err := rig.coord.Leave(1); err != nil {
		t.Fatalf("Leave(master) error: %v", err)
	}
	if got := rig.senders[1].last(); got[4] != 0xFF {
		t.Errorf("master leave frame = %X, want dissolve payload 0xFF", got)
	}

	// Standalone zones have nothing to leave.
	if _, err := rig.coord.Leave(2); !errors.Is(err, ErrNotGrouped) {
		t.Errorf("Leave(standalone) error = %v, want ErrNotGrouped", err)
	}
}

func TestReassignmentMovesZoneBetweenGroups(t *testing.T) {
	rig := newTestRig(t, 1, 2, 3)
	rig.join(t, 1, 2)

	// The device can reassign a zone directly; feedback is authoritative.
	rig.coord.ApplyFeedback(2, []byte{0x00, 0x03})

	rec, _ := rig.coord.Record(2)
	if rec.Role != RoleMember || rec.Master != 3 {
		t.Errorf("record = %+v, want member of 3", rec)
	}
	if rec, _ := rig.coord.Record(1); rec.Role != RoleStandalone {
		t.Errorf("old master record = %+v, want standalone", rec)
	}
	checkInvariant(t, rig.coord, 1, 2, 3)
}
