package state

import (
	"errors"
	"testing"
)

func TestDomainValidate(t *testing.T) {
	tests := []struct {
		name    string
		domain  Domain
		value   any
		wantErr bool
	}{
		{"volume in range", IntRange{Min: 0, Max: 100}, 40, false},
		{"volume at bounds", IntRange{Min: 0, Max: 100}, 100, false},
		{"volume above range", IntRange{Min: 0, Max: 100}, 101, true},
		{"volume below range", IntRange{Min: 0, Max: 100}, -1, true},
		{"volume wrong type", IntRange{Min: 0, Max: 100}, "40", true},
		{"eq band in range", IntRange{Min: 90, Max: 110}, 95, false},
		{"eq band out of range", IntRange{Min: 90, Max: 110}, 111, true},

		{"bool ok", BoolDomain{}, true, false},
		{"bool wrong type", BoolDomain{}, 1, true},

		{"enum member", EnumDomain{Values: []int{0, 1, 2}}, 2, false},
		{"enum non-member", EnumDomain{Values: []int{0, 1, 2}}, 3, true},
		{"enum wrong type", EnumDomain{Values: []int{0, 1, 2}}, true, true},

		{"string ok", StringDomain{MaxBytes: 64}, "Kitchen", false},
		{"string too long", StringDomain{MaxBytes: 4}, "Kitchen", true},
		{"string invalid utf8", StringDomain{MaxBytes: 64}, string([]byte{0xFF, 0xFE}), true},
		{"string wrong type", StringDomain{MaxBytes: 64}, 7, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.domain.Validate(tt.value)
			if tt.wantErr {
				if !errors.Is(err, ErrDomain) {
					t.Errorf("Validate(%v) error = %v, want ErrDomain", tt.value, err)
				}
				return
			}
			if err != nil {
				t.Errorf("Validate(%v) unexpected error: %v", tt.value, err)
			}
		})
	}
}

func TestDomainDefaults(t *testing.T) {
	if got := (IntRange{Min: 0, Max: 100, Def: 30}).Default(); got != 30 {
		t.Errorf("IntRange default = %v, want 30", got)
	}
	if got := (BoolDomain{Def: true}).Default(); got != true {
		t.Errorf("BoolDomain default = %v, want true", got)
	}
	if got := (EnumDomain{Values: []int{0, 1}, Def: 1}).Default(); got != 1 {
		t.Errorf("EnumDomain default = %v, want 1", got)
	}
	if got := (StringDomain{Def: ""}).Default(); got != "" {
		t.Errorf("StringDomain default = %q, want empty", got)
	}
}

func TestKeyNames(t *testing.T) {
	tests := []struct {
		key   Key
		path  string
		event string
	}{
		{KeyVolume, "zone.volume", "zone.volume_change"},
		{KeyDeviceName, "device.name", "device.name_change"},
		{EQBand(3), "zone.eq.band3", "zone.eq.band3_change"},
		{KeyTransportState, "zone.transport.state", "zone.transport.state_change"},
		{KeyTrackTitle, "zone.track.title", "zone.track.title_change"},
		{KeyInputSource, "zone.input.source", "zone.input.source_change"},
	}

	for _, tt := range tests {
		if got := tt.key.String(); got != tt.path {
			t.Errorf("%v String() = %q, want %q", tt.key, got, tt.path)
		}
		if got := tt.key.EventName(); got != tt.event {
			t.Errorf("%v EventName() = %q, want %q", tt.key, got, tt.event)
		}
	}
}
