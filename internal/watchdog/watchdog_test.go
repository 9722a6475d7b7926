package watchdog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"blackbox/internal/registry"
)

// runningLister reports the named containers as running, so PruneStale keeps
// the registry entries registered under those names.
type runningLister []string

func (l runningLister) ListRunning(_ context.Context, _ string) ([]registry.ContainerInfo, error) {
	out := make([]registry.ContainerInfo, 0, len(l))
	for _, name := range l {
		out = append(out, registry.ContainerInfo{Name: name})
	}
	return out, nil
}

func portOf(t *testing.T, url string) int {
	t.Helper()
	// url is like "http://127.0.0.1:PORT"
	for i := len(url) - 1; i >= 0; i-- {
		if url[i] == ':' {
			p, err := strconv.Atoi(url[i+1:])
			if err != nil {
				t.Fatalf("parse port from %q: %v", url, err)
			}
			return p
		}
	}
	t.Fatalf("no port in %q", url)
	return 0
}

func TestPollOnceMarksHealthyDeploymentRunning(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	reg := registry.New(runningLister{"vllm-org-a"})
	reg.Register("org/a", "vllm-org-a", "c1", portOf(t, server.URL), 0.9, "T4", 1)
	reg.SetRunning("vllm-org-a", false)

	w := New(reg, "127.0.0.1", time.Second)
	w.pollOnce(t.Context())

	d, _ := reg.Get("vllm-org-a")
	if !d.Running {
		t.Fatal("expected deployment to be marked running after a healthy check")
	}
}

func TestPollOnceMarksUnhealthyDeploymentNotRunning(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	reg := registry.New(runningLister{"vllm-org-b"})
	reg.Register("org/b", "vllm-org-b", "c2", portOf(t, server.URL), 0.9, "T4", 1)

	w := New(reg, "127.0.0.1", time.Second)
	w.pollOnce(t.Context())

	d, _ := reg.Get("vllm-org-b")
	if d.Running {
		t.Fatal("expected deployment to be marked not-running after a failed check")
	}
}

func TestPollOnceDoesNotRemoveRegistryEntries(t *testing.T) {
	reg := registry.New(runningLister{"vllm-org-c"})
	reg.Register("org/c", "vllm-org-c", "c3", 0, 0.9, "T4", 1) // port 0: connection refused

	w := New(reg, "127.0.0.1", time.Second)
	w.pollOnce(t.Context())

	if _, ok := reg.Get("vllm-org-c"); !ok {
		t.Fatal("expected watchdog to leave the registry entry in place regardless of health outcome")
	}
}
