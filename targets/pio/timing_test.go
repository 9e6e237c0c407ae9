package pio

import "testing"

func TestDirSetupDelay(t *testing.T) {
	tests := []struct {
		settleUS uint32
		want     uint8
	}{
		{0, 0},
		{1, 0},
		{2, 1},
		{5, 4},
		{32, 31},
		{100, 31},
	}
	for _, tt := range tests {
		if got := dirSetupDelay(tt.settleUS); got != tt.want {
			t.Errorf("dirSetupDelay(%d) = %d, want %d", tt.settleUS, got, tt.want)
		}
		// the write cycle plus the delay covers settle times the field can hold
		if setup := uint32(dirSetupDelay(tt.settleUS)) + 1; tt.settleUS <= maxInstrDelay+1 && setup < tt.settleUS {
			t.Errorf("setup %dus shorter than %dus", setup, tt.settleUS)
		}
	}
}
