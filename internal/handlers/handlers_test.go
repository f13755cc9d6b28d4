package handlers

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"queueworker/internal/config"
)

var routes = []config.RouteConfig{
	{Queue: "audit"},
	{Queue: "archive", Serializer: "msgpack", Compression: "zstd"},
}

func TestForward(t *testing.T) {
	out, err := Forward(routes)(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Forward error: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2", len(out))
	}
	if out[0].Queue != "audit" || out[0].Payload != "hello" || out[0].Serializer != "" {
		t.Errorf("out[0] = %+v", out[0])
	}
	if out[1].Queue != "archive" || out[1].Serializer != "msgpack" || out[1].Compression != "zstd" {
		t.Errorf("out[1] = %+v", out[1])
	}
}

func TestForwardBatch_KeepsPayloadOrder(t *testing.T) {
	out, _ := ForwardBatch(routes[:1])(context.Background(), []any{"a", "b", "c"})
	if len(out) != 3 {
		t.Fatalf("len(out) = %d, want 3", len(out))
	}
	for i, want := range []string{"a", "b", "c"} {
		if out[i].Payload != want {
			t.Errorf("out[%d].Payload = %v, want %s", i, out[i].Payload, want)
		}
	}
}

func TestLog(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	out, err := Log(logger)(context.Background(), "hello")
	if err != nil || out != nil {
		t.Errorf("Log returned %v, %v", out, err)
	}
	if !strings.Contains(buf.String(), "payload=hello") {
		t.Errorf("log output = %q", buf.String())
	}
}

func TestLookup(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	if h, b, err := Lookup("", routes, logger); err != nil || h == nil || b == nil {
		t.Errorf("Lookup default with routes: %v", err)
	}
	if _, _, err := Lookup("", nil, logger); err != nil {
		t.Errorf("Lookup default without routes: %v", err)
	}
	if _, _, err := Lookup(NameForward, nil, logger); err == nil {
		t.Error("forward without routes should fail")
	}
	if _, _, err := Lookup("nope", routes, logger); err == nil {
		t.Error("unknown handler should fail")
	}
}
