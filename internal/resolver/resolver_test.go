package resolver

import "testing"

func TestResolveBidirectionalPrefixMatch(t *testing.T) {
	cases := []struct {
		name        string
		cgroupID    string
		known       []string
		wantMatch   bool
		wantID      string
	}{
		{
			name:      "cgroup id is truncation of known id",
			cgroupID:  "abc123",
			known:     []string{"abc123def456"},
			wantMatch: true,
			wantID:    "abc123def456",
		},
		{
			name:      "known id is truncation of cgroup id",
			cgroupID:  "abc123def456",
			known:     []string{"abc123"},
			wantMatch: true,
			wantID:    "abc123",
		},
		{
			name:      "no match",
			cgroupID:  "zzz999",
			known:     []string{"abc123"},
			wantMatch: false,
		},
		{
			name:      "empty cgroup id never matches",
			cgroupID:  "",
			known:     []string{"abc123"},
			wantMatch: false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			id, ok := Resolve(tc.cgroupID, tc.known)
			if ok != tc.wantMatch {
				t.Fatalf("match = %v, want %v", ok, tc.wantMatch)
			}
			if ok && id != tc.wantID {
				t.Fatalf("id = %q, want %q", id, tc.wantID)
			}
		})
	}
}
