package main

import (
	"bytes"
	"encoding/hex"
	"path/filepath"
	"strings"
	"testing"

	"supernode/internal/crypto"
	"supernode/internal/metrics"
	"supernode/internal/proto"
)

func TestHelp(t *testing.T) {
	var out bytes.Buffer
	code := run([]string{"--help"}, &out, &out)
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if !strings.Contains(out.String(), "supernode") {
		t.Fatalf("expected help output to mention supernode")
	}
}

func TestKeygenAndAddress(t *testing.T) {
	home := t.TempDir()
	var out, errOut bytes.Buffer
	if code := run([]string{"keygen", "--home", home}, &out, &errOut); code != 0 {
		t.Fatalf("keygen failed: %s", errOut.String())
	}
	first := out.String()
	out.Reset()
	if code := run([]string{"address", "--home", home}, &out, &errOut); code != 0 {
		t.Fatalf("address failed: %s", errOut.String())
	}
	if out.String() != first {
		t.Fatalf("address output changed:\n%s\n%s", first, out.String())
	}
	pub, _, err := crypto.LoadKeypair(home)
	if err != nil {
		t.Fatalf("load keypair: %v", err)
	}
	if !strings.Contains(first, "address="+crypto.DeriveAddress(pub).Hex()) {
		t.Fatalf("unexpected output %q", first)
	}
}

func TestAddressWithoutKeys(t *testing.T) {
	var out, errOut bytes.Buffer
	if code := run([]string{"address", "--home", t.TempDir()}, &out, &errOut); code == 0 {
		t.Fatalf("expected failure without keys")
	}
}

func TestAnnounceOutputsSignedMessage(t *testing.T) {
	home := t.TempDir()
	var out, errOut bytes.Buffer
	if code := run([]string{"keygen", "--home", home}, &out, &errOut); code != 0 {
		t.Fatalf("keygen failed: %s", errOut.String())
	}
	out.Reset()
	if code := run([]string{"announce", "--home", home, "--endpoint", "10.0.0.1:20338"}, &out, &errOut); code != 0 {
		t.Fatalf("announce failed: %s", errOut.String())
	}
	raw, err := hex.DecodeString(strings.TrimSpace(out.String()))
	if err != nil {
		t.Fatalf("decode hex: %v", err)
	}
	a, signed, err := proto.DecodeAnnouncement(raw)
	if err != nil {
		t.Fatalf("decode announcement: %v", err)
	}
	digest := crypto.Keccak256(signed)
	if !crypto.VerifyDigest(a.PubKey, digest[:], a.Sig) {
		t.Fatalf("announcement signature invalid")
	}
	if a.Endpoint.String() != "10.0.0.1:20338" {
		t.Fatalf("unexpected endpoint %s", a.Endpoint)
	}
	if code := run([]string{"announce", "--home", home}, &out, &errOut); code == 0 {
		t.Fatalf("expected missing endpoint failure")
	}
}

func TestStatusReadsSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.json")
	m := metrics.New()
	m.IncHandshakeAccepted()
	m.IncAnnounceAccepted(true)
	if err := m.WriteSnapshot(path); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}
	var out, errOut bytes.Buffer
	if code := run([]string{"status", "--home", t.TempDir(), "--metrics", path}, &out, &errOut); code != 0 {
		t.Fatalf("status failed: %s", errOut.String())
	}
	if !strings.Contains(out.String(), "handshakes: accepted=1") || !strings.Contains(out.String(), "replaced=1") {
		t.Fatalf("unexpected status output %q", out.String())
	}
}
