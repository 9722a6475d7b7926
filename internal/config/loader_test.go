package config

import "testing"

func TestLoadAcceptsSpecTruthyValuesForUseSudoDocker(t *testing.T) {
	cases := []struct {
		value string
		want  bool
	}{
		{"true", true},
		{"1", true},
		{"yes", true},
		{"YES", true},
		{"false", false},
		{"0", false},
		{"", false},
	}

	for _, c := range cases {
		t.Setenv("USE_SUDO_DOCKER", c.value)
		t.Setenv("MAX_CONCURRENT_MODELS", "3")
		t.Setenv("START_PORT", "8000")

		cfg, err := NewLoader().Load()
		if err != nil {
			t.Fatalf("USE_SUDO_DOCKER=%q: unexpected error: %v", c.value, err)
		}
		if cfg.Daemon.UseSudoDocker != c.want {
			t.Errorf("USE_SUDO_DOCKER=%q: UseSudoDocker = %v, want %v", c.value, cfg.Daemon.UseSudoDocker, c.want)
		}
	}
}
