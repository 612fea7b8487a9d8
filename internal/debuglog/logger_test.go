package debuglog

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestRateLimitedfSuppressesRepeats(t *testing.T) {
	var buf bytes.Buffer
	prev := global
	defer func() { global = prev }()
	SetOutput(&buf)
	if err := Init("debug", ""); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	RateLimitedf("k", time.Hour, "handshake reject reason=%s", "pow")
	RateLimitedf("k", time.Hour, "handshake reject reason=%s", "pow")
	if got := strings.Count(buf.String(), "handshake reject"); got != 1 {
		t.Fatalf("expected one line, got %d: %q", got, buf.String())
	}
}

func TestDebugfRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	prev := global
	defer func() { global = prev }()
	SetOutput(&buf)
	t.Setenv("SUPERNODE_DEBUG", "")
	if err := Init("info", ""); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	Debugf("hidden")
	Logf("shown")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestInitRejectsBadLevel(t *testing.T) {
	prev := global
	defer func() { global = prev }()
	SetOutput(&bytes.Buffer{})
	t.Setenv("SUPERNODE_DEBUG", "")
	if err := Init("loud", ""); err == nil {
		t.Fatalf("expected parse error")
	}
}
