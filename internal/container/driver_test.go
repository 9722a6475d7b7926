package container

import "testing"

func TestLastLine(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"abc123\n", "abc123"},
		{"line1\nline2\nabc123", "abc123"},
		{"", ""},
		{"   abc123   \n", "abc123"},
	}
	for _, tc := range cases {
		if got := lastLine(tc.in); got != tc.want {
			t.Errorf("lastLine(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestRunSpecVolumeMountFields(t *testing.T) {
	spec := RunSpec{
		Name: "vllm-test",
		VolumeMounts: []VolumeMount{
			{HostPath: "/host/cache", ContainerPath: "/root/.cache", ReadOnly: false},
			{HostPath: "/host/config", ContainerPath: "/config", ReadOnly: true},
		},
	}
	if len(spec.VolumeMounts) != 2 {
		t.Fatalf("expected 2 mounts, got %d", len(spec.VolumeMounts))
	}
	if !spec.VolumeMounts[1].ReadOnly {
		t.Fatal("expected second mount to be read-only")
	}
}
