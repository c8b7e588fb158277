package main

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--log-level", "silent"}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "hybrid-kex version "+getVersion()) {
		t.Errorf("output %q", out)
	}
}

func TestAlgorithmsCommand(t *testing.T) {
	out, err := execute(t, "algorithms")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"ML-KEM-768", "X25519", "ML-DSA-65", "unavailable"} {
		if !strings.Contains(out, want) {
			t.Errorf("listing lacks %s", want)
		}
	}

	out, err = execute(t, "algorithms", "--available")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out, "unavailable") {
		t.Error("--available listed unavailable algorithms")
	}
}

func TestDemoCommand(t *testing.T) {
	out, err := execute(t, "demo", "--mode", "dual_hybrid", "--message", "ping from test")
	if err != nil {
		t.Fatalf("demo: %v\n%s", err, out)
	}
	for _, want := range []string{`"exchange_type": "dual_hybrid"`, `"ping from test"`, "rekey:"} {
		if !strings.Contains(out, want) {
			t.Errorf("demo output lacks %s:\n%s", want, out)
		}
	}
}

func TestDemoUnknownMode(t *testing.T) {
	if _, err := execute(t, "demo", "--mode", "quad_hybrid"); err == nil {
		t.Error("unknown mode accepted")
	}
}

func TestBenchCommand(t *testing.T) {
	out, err := execute(t, "bench", "--mode", "classical", "--handshakes", "3", "--echoes", "2", "--size", "64")
	if err != nil {
		t.Fatalf("bench: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Successful: 3") || !strings.Contains(out, "Round trips: 2 x 64 bytes") {
		t.Errorf("bench output:\n%s", out)
	}
}

func TestBadConfigFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("server: {mode: nope}\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, "--config", path, "demo"); err == nil {
		t.Error("invalid configuration accepted")
	}
}

func TestServeAndConnect(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() {
		root := newRootCmd()
		root.SetOut(&bytes.Buffer{})
		root.SetArgs([]string{"--log-level", "silent", "serve", "--listen", addr})
		served <- root.ExecuteContext(ctx)
	}()

	var out string
	deadline := time.Now().Add(10 * time.Second)
	for {
		out, err = execute(t, "connect", "--addr", addr, "--echo", "over tcp", "--info", "--rekey")
		if err == nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("connect: %v\n%s", err, out)
	}
	for _, want := range []string{`echo: "over tcp"`, `"session_info"`, "rekeyed session"} {
		if !strings.Contains(out, want) {
			t.Errorf("connect output lacks %s:\n%s", want, out)
		}
	}

	cancel()
	select {
	case err := <-served:
		if err != nil {
			t.Errorf("serve: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop")
	}
}
