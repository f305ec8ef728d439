package socketio

import (
	"encoding/json"
	"testing"
)

func TestParseSocketEventPacket(t *testing.T) {
	pkt, err := parseSocketEventPacket(`2["rpc",{"action":"orders"},7]`)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if pkt.Namespace != "/" {
		t.Fatalf("expected root namespace, got %q", pkt.Namespace)
	}
	if pkt.ID != nil {
		t.Fatalf("expected no ack id, got %v", *pkt.ID)
	}
	if pkt.Event != "rpc" {
		t.Fatalf("expected event rpc, got %q", pkt.Event)
	}
	if len(pkt.Args) != 2 {
		t.Fatalf("expected 2 args, got %d", len(pkt.Args))
	}
	var tid int
	if err := json.Unmarshal(pkt.Args[1], &tid); err != nil || tid != 7 {
		t.Fatalf("unexpected second arg %s", pkt.Args[1])
	}
}

func TestParseSocketEventPacketWithNamespaceAndID(t *testing.T) {
	pkt, err := parseSocketEventPacket(`2/admin,13["synchronization","v1"]`)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if pkt.Namespace != "/admin" {
		t.Fatalf("expected /admin namespace, got %q", pkt.Namespace)
	}
	if pkt.ID == nil || *pkt.ID != 13 {
		t.Fatalf("expected ack id 13, got %v", pkt.ID)
	}
	if pkt.Event != "synchronization" {
		t.Fatalf("expected event synchronization, got %q", pkt.Event)
	}
}

func TestParseSocketEventPacketRejectsGarbage(t *testing.T) {
	cases := []string{
		"",
		"0{}",
		"2",
		"2{}",
		"2[]",
		"2[42]",
		"2[not json",
	}
	for _, raw := range cases {
		if _, err := parseSocketEventPacket(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestBuildSocketEventPacket(t *testing.T) {
	got, err := buildSocketEventPacket("/", nil, "registry", map[string]any{"ok": true})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got != `2["registry",{"ok":true}]` {
		t.Fatalf("unexpected packet %q", got)
	}

	id := 5
	got, err = buildSocketEventPacket("/admin", &id, "rpc")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got != `2/admin,5["rpc"]` {
		t.Fatalf("unexpected packet %q", got)
	}
}

func TestBuildEventParseRoundTrip(t *testing.T) {
	id := 9
	raw, err := buildSocketEventPacket("/", &id, "download", "v1", float64(128))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	pkt, err := parseSocketEventPacket(raw)
	if err != nil {
		t.Fatalf("expected round trip to parse, got %v", err)
	}
	if pkt.Event != "download" || pkt.ID == nil || *pkt.ID != 9 || len(pkt.Args) != 2 {
		t.Fatalf("unexpected packet %+v", pkt)
	}
}

func TestBuildSocketConnectPacket(t *testing.T) {
	got, err := buildSocketConnectPacket("/", "abc123")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got != `0{"sid":"abc123"}` {
		t.Fatalf("unexpected packet %q", got)
	}
}

func TestBuildSocketAckPacket(t *testing.T) {
	got, err := buildSocketAckPacket("/", 3)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got != "33[]" {
		t.Fatalf("unexpected packet %q", got)
	}

	got, err = buildSocketAckPacket("/", 3, "done")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got != `33["done"]` {
		t.Fatalf("unexpected packet %q", got)
	}
}
