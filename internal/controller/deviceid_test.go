package controller

import "testing"

func TestParseDeviceID(t *testing.T) {
	tests := []struct {
		in   string
		want DeviceID
		err  bool
	}{
		{in: "aa:bb:cc:dd:ee:ff", want: "aa:bb:cc:dd:ee:ff"},
		{in: "AA:BB:CC:DD:EE:FF", want: "aa:bb:cc:dd:ee:ff"},
		{in: "  0A:1b:2C:3d:4E:5f ", want: "0a:1b:2c:3d:4e:5f"},
		{in: "aa:bb:cc:dd:ee", err: true},
		{in: "aa:bb:cc:dd:ee:ff:00", err: true},
		{in: "aa-bb-cc-dd-ee-ff", err: true},
		{in: "gg:bb:cc:dd:ee:ff", err: true},
		{in: "", err: true},
	}
	for _, tt := range tests {
		got, err := ParseDeviceID(tt.in)
		if tt.err {
			if err == nil {
				t.Fatalf("ParseDeviceID(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseDeviceID(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("ParseDeviceID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
