package htd

import (
	"errors"
	"testing"
)

func TestProfileFor(t *testing.T) {
	tests := []struct {
		family    ModelFamily
		wantZones int
		wantErr   bool
	}{
		{ModelMC66, 6, false},
		{ModelMCA66, 6, false},
		{ModelLync6, 6, false},
		{ModelLync12, 12, false},
		{ModelFamily("mc99"), 0, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.family), func(t *testing.T) {
			p, err := ProfileFor(tt.family)
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownModel) {
					t.Errorf("ProfileFor() error = %v, want ErrUnknownModel", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ProfileFor() unexpected error: %v", err)
			}
			if p.Zones != tt.wantZones {
				t.Errorf("zones = %d, want %d", p.Zones, tt.wantZones)
			}
		})
	}
}

func TestWireVolumeRoundTrip(t *testing.T) {
	for _, family := range []ModelFamily{ModelMCA66, ModelLync12} {
		p := profiles[family]
		for raw := 0; raw <= p.MaxVolume; raw++ {
			if got := p.DecodeWireVolume(p.EncodeWireVolume(raw)); got != raw {
				t.Fatalf("%s: DecodeWireVolume(EncodeWireVolume(%d)) = %d", family, raw, got)
			}
		}
	}
}

func TestSourceCodeRoundTrip(t *testing.T) {
	p := profiles[ModelLync12]
	for src := 1; src <= p.Sources; src++ {
		if got := p.SourceFromCode(p.SourceCode(src)); got != src {
			t.Fatalf("SourceFromCode(SourceCode(%d)) = %d", src, got)
		}
	}
	if got := p.SourceFromCode(p.SourceBaseCode + byte(p.Sources)); got != 0 {
		t.Errorf("code past source range = %d, want 0", got)
	}
}

func TestFrameLengthFor(t *testing.T) {
	p := profiles[ModelMCA66]

	tests := []struct {
		opcode byte
		want   int
	}{
		{p.StatusOpcode, p.StatusLength},
		{p.ControlOpcode, p.CommandLength},
		{p.VolumeOpcode, p.CommandLength},
		{p.QueryOpcode, p.CommandLength},
		{0x7F, 0},
	}

	for _, tt := range tests {
		if got := p.FrameLengthFor(tt.opcode); got != tt.want {
			t.Errorf("FrameLengthFor(%02X) = %d, want %d", tt.opcode, got, tt.want)
		}
	}
}
