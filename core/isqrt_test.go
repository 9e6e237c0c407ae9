package core

import "testing"

func TestISqrt64(t *testing.T) {
	tests := []struct {
		in   uint64
		want uint32
	}{
		{0, 0},
		{1, 1},
		{2, 1},
		{3, 1},
		{4, 2},
		{15, 3},
		{16, 4},
		{40000, 200},
		{39999, 199},
		{7717284, 2778},
		{1 << 40, 1 << 20},
		{(1 << 62) - 1, (1 << 31) - 1},
	}

	for _, tt := range tests {
		if got := ISqrt64(tt.in); got != tt.want {
			t.Errorf("ISqrt64(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestISqrt64Floor(t *testing.T) {
	for n := uint64(0); n < 5000; n++ {
		r := uint64(ISqrt64(n))
		if r*r > n || (r+1)*(r+1) <= n {
			t.Fatalf("ISqrt64(%d) = %d is not the floor root", n, r)
		}
	}
}
