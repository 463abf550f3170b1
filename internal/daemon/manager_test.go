// SPDX-License-Identifier: MIT

package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

// runManager starts mgr in the background and returns a stop function that
// cancels it and reports what Start returned.
func runManager(t *testing.T, mgr *Manager) (stop func() error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mgr.Start(ctx) }()
	time.Sleep(100 * time.Millisecond)
	return func() error {
		cancel()
		select {
		case err := <-done:
			return err
		case <-time.After(5 * time.Second):
			t.Fatal("manager did not stop")
			return nil
		}
	}
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	defer func() { _ = ln.Close() }()
	return ln.Addr().String()
}

func waitReachable(t *testing.T, addr string) {
	t.Helper()
	for deadline := time.Now().Add(2 * time.Second); time.Now().Before(deadline); {
		if conn, err := net.DialTimeout("tcp", addr, 50*time.Millisecond); err == nil {
			_ = conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("%s never became reachable", addr)
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestNewManagerRequiresAPIHandler(t *testing.T) {
	_, err := NewManager(Config{ListenAddr: "127.0.0.1:0"}, Deps{})
	if !errors.Is(err, ErrMissingAPIHandler) {
		t.Fatalf("NewManager() error = %v, want %v", err, ErrMissingAPIHandler)
	}
}

func TestNewManagerRequiresListenAddr(t *testing.T) {
	_, err := NewManager(Config{}, Deps{APIHandler: okHandler()})
	if err == nil {
		t.Fatal("NewManager() expected error for empty listen address")
	}
}

func TestManagerStartStop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	mgr, err := NewManager(Config{
		ListenAddr:      "127.0.0.1:0",
		ShutdownTimeout: 2 * time.Second,
	}, Deps{APIHandler: okHandler()})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	if err := runManager(t, mgr)(); err != nil {
		t.Errorf("Start() error = %v", err)
	}
}

func TestManagerRunsHooksInReverseOrder(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	mgr, err := NewManager(Config{
		ListenAddr:      "127.0.0.1:0",
		ShutdownTimeout: 2 * time.Second,
	}, Deps{APIHandler: okHandler()})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	var mu sync.Mutex
	var order []string
	record := func(name string) ShutdownHook {
		return func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			return nil
		}
	}
	mgr.RegisterShutdownHook("first", record("first"))
	mgr.RegisterShutdownHook("second", record("second"))
	mgr.RegisterShutdownHook("third", record("third"))

	if err := runManager(t, mgr)(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"third", "second", "first"}
	if len(order) != len(want) {
		t.Fatalf("hook order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("hook order = %v, want %v", order, want)
		}
	}
}

func TestManagerSurfacesHookErrors(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	mgr, err := NewManager(Config{
		ListenAddr:      "127.0.0.1:0",
		ShutdownTimeout: 2 * time.Second,
	}, Deps{APIHandler: okHandler()})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	ran := make(chan struct{}, 1)
	mgr.RegisterShutdownHook("closes-cleanly", func(context.Context) error {
		ran <- struct{}{}
		return nil
	})
	mgr.RegisterShutdownHook("breaks", func(context.Context) error {
		return errors.New("store: close failed")
	})

	err = runManager(t, mgr)()
	if err == nil || !strings.Contains(err.Error(), "hook breaks") {
		t.Fatalf("Start() error = %v, want hook failure", err)
	}

	// the failing hook must not have blocked the one registered before it
	select {
	case <-ran:
	default:
		t.Fatal("hook registered before the failing one never ran")
	}
}

func TestManagerShutdownBeforeStart(t *testing.T) {
	mgr, err := NewManager(Config{ListenAddr: "127.0.0.1:0"}, Deps{APIHandler: okHandler()})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	if err := mgr.Shutdown(context.Background()); !errors.Is(err, ErrManagerNotStarted) {
		t.Errorf("Shutdown() error = %v, want %v", err, ErrManagerNotStarted)
	}
}

func TestManagerWithMetricsServer(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	metricsAddr := freeAddr(t)
	mgr, err := NewManager(Config{
		ListenAddr:      "127.0.0.1:0",
		MetricsAddr:     metricsAddr,
		ShutdownTimeout: 2 * time.Second,
	}, Deps{
		APIHandler: okHandler(),
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("# HELP larder_up\n"))
		}),
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	stop := runManager(t, mgr)
	waitReachable(t, metricsAddr)

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	resp, err := client.Get("http://" + metricsAddr + "/metrics")
	if err != nil {
		t.Fatalf("metrics request failed: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d, want 200", resp.StatusCode)
	}

	if err := stop(); err != nil {
		t.Errorf("Start() error = %v", err)
	}
}

func TestManagerPropagatesListenErrors(t *testing.T) {
	occupied := httptest.NewServer(http.NotFoundHandler())
	defer occupied.Close()

	mgr, err := NewManager(Config{
		ListenAddr:      occupied.Listener.Addr().String(),
		ShutdownTimeout: time.Second,
	}, Deps{APIHandler: okHandler()})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := mgr.Start(ctx); err == nil {
		t.Error("Start() expected error for port conflict, got nil")
	}
}
