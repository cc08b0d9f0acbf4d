package obsidion_test

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"math/rand"
	"strings"
	"testing"
	"time"

	"obsidion"
)

const (
	privAHex = "b693fb3e483476bff8693a23ed7b932541fa45997576a13dc5133d5a12e07873"
	pubAHex  = "027da9fc10da21ebdb89980feef9612fe6fcbb6362d1d3b53ab0f8dba0645bbcef"
	privBHex = "becd2781cc1b7d310e0e5f45e9be56b31cbb73f88f481dbd1ea96ca7e9985ec0"
	pubBHex  = "0303f4aec6fa65b8aabd7bce9321b32e5f628b3bccdafb36f550d621b29c3b57b4"
)

func keyPair(t *testing.T, privHex, pubHex string) *obsidion.KeyPair {
	t.Helper()
	priv, err := hex.DecodeString(privHex)
	if err != nil {
		t.Fatalf("hex: %v", err)
	}
	pub, err := hex.DecodeString(pubHex)
	if err != nil {
		t.Fatalf("hex: %v", err)
	}
	return &obsidion.KeyPair{Private: priv, Public: pub}
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func boolPtr(b bool) *bool { return &b }

// pair spins up an established Creator/Joiner pair over an in-memory relay.
func pair(t *testing.T, relay *memRelay, origin string) (creator, joiner *obsidion.Bridge) {
	t.Helper()
	creator, err := obsidion.Create(context.Background(), obsidion.Options{
		Origin:    origin,
		KeyPair:   keyPair(t, privAHex, pubAHex),
		Transport: relay.transport(origin),
		ChunkWait: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(func() { creator.Close() })

	joiner, err = obsidion.Join(context.Background(), creator.ConnectionString(), obsidion.Options{
		KeyPair:   keyPair(t, privBHex, pubBHex),
		Transport: relay.transport("nodejs"),
		ChunkWait: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	t.Cleanup(func() { joiner.Close() })

	waitUntil(t, "creator establishment", creator.IsSecureChannelEstablished)
	waitUntil(t, "joiner establishment", joiner.IsSecureChannelEstablished)
	return creator, joiner
}

func TestCreate_Validation(t *testing.T) {
	ctx := context.Background()
	cases := map[string]obsidion.Options{
		"missing origin":        {},
		"remote without resume": {Origin: "https://localhost", RemotePublicKey: []byte{0x02}},
		"resume without keys":   {Origin: "https://localhost", Resume: true},
		"short key pair":        {Origin: "https://localhost", KeyPair: &obsidion.KeyPair{Private: []byte{1}, Public: []byte{2}}},
	}
	for name, opts := range cases {
		if _, err := obsidion.Create(ctx, opts); !errors.Is(err, obsidion.ErrConfiguration) {
			t.Errorf("%s: want ErrConfiguration, got %v", name, err)
		}
	}
}

func TestJoin_Validation(t *testing.T) {
	ctx := context.Background()
	for name, uri := range map[string]string{
		"wrong scheme":   "other:" + pubAHex + "?d=example.com",
		"missing pubkey": "obsidion:?d=example.com",
		"missing origin": "obsidion:" + pubAHex,
		"bad pubkey":     "obsidion:zz12?d=example.com",
	} {
		if _, err := obsidion.Join(ctx, uri, obsidion.Options{}); !errors.Is(err, obsidion.ErrConfiguration) {
			t.Errorf("%s: want ErrConfiguration, got %v", name, err)
		}
	}

	uri := "obsidion:" + pubAHex + "?d=example.com"
	opts := obsidion.Options{RemotePublicKey: []byte{0x02}}
	if _, err := obsidion.Join(ctx, uri, opts); !errors.Is(err, obsidion.ErrConfiguration) {
		t.Errorf("remote key option: want ErrConfiguration, got %v", err)
	}
}

func TestConnectionString(t *testing.T) {
	relay := newMemRelay()
	bridge, err := obsidion.Create(context.Background(), obsidion.Options{
		Origin:      "https://localhost",
		KeyPair:     keyPair(t, privAHex, pubAHex),
		Transport:   relay.transport("https://localhost"),
		AutoConnect: boolPtr(false),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer bridge.Close()

	cs := bridge.ConnectionString()
	if !strings.HasPrefix(cs, "obsidion:"+pubAHex) {
		t.Fatalf("connection string %q lacks the public key prefix", cs)
	}
	if !strings.Contains(cs, "d=https://localhost") {
		t.Fatalf("connection string %q lacks the origin", cs)
	}
}

func TestEndToEnd_Handshake(t *testing.T) {
	creator, joiner := pair(t, newMemRelay(), "https://localhost")

	if got := hex.EncodeToString(creator.RemotePublicKey()); got != pubBHex {
		t.Fatalf("creator sees remote %s, want %s", got, pubBHex)
	}
	if got := hex.EncodeToString(joiner.RemotePublicKey()); got != pubAHex {
		t.Fatalf("joiner sees remote %s, want %s", got, pubAHex)
	}
	if !creator.IsBridgeConnected() || !joiner.IsBridgeConnected() {
		t.Fatal("both sides should report connected")
	}
}

func TestEndToEnd_SmallMessage(t *testing.T) {
	creator, joiner := pair(t, newMemRelay(), "https://localhost")

	got := make(chan obsidion.Message, 1)
	joiner.OnSecureMessage(func(m obsidion.Message) { got <- m })

	if err := creator.SendMessage("hello, world?", map[string]any{}); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	select {
	case m := <-got:
		if m.Method != "hello, world?" {
			t.Fatalf("method = %q", m.Method)
		}
		if params, ok := m.Params.(map[string]any); !ok || len(params) != 0 {
			t.Fatalf("params = %#v, want empty object", m.Params)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("message never arrived")
	}
}

func TestEndToEnd_LargeMessage(t *testing.T) {
	creator, joiner := pair(t, newMemRelay(), "https://localhost")

	got := make(chan obsidion.Message, 2)
	joiner.OnSecureMessage(func(m obsidion.Message) { got <- m })

	// 256 KiB of pseudo-random base64 stays chunked after compression.
	random := make([]byte, 192*1024)
	rand.New(rand.NewSource(1)).Read(random)
	payload := base64.StdEncoding.EncodeToString(random)
	if err := creator.SendMessage("bulk", map[string]any{"payload": payload}); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	select {
	case m := <-got:
		params, ok := m.Params.(map[string]any)
		if !ok {
			t.Fatalf("params = %#v", m.Params)
		}
		if params["payload"] != payload {
			t.Fatal("payload corrupted in transit")
		}
	case <-time.After(10 * time.Second):
		t.Fatal("large message never arrived")
	}

	select {
	case m := <-got:
		t.Fatalf("second MessageReceived fired: %+v", m)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestEndToEnd_DuplicateReplayIsSuppressed(t *testing.T) {
	relay := newMemRelay()
	origin := "https://localhost"
	creator, err := obsidion.Create(context.Background(), obsidion.Options{
		Origin:    origin,
		KeyPair:   keyPair(t, privAHex, pubAHex),
		Transport: relay.transport(origin),
		ChunkWait: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer creator.Close()

	joinerTransport := relay.transport("nodejs")
	joiner, err := obsidion.Join(context.Background(), creator.ConnectionString(), obsidion.Options{
		KeyPair:   keyPair(t, privBHex, pubBHex),
		Transport: joinerTransport,
		ChunkWait: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	defer joiner.Close()
	waitUntil(t, "establishment", joiner.IsSecureChannelEstablished)

	frames := make(chan obsidion.Envelope, 16)
	msgs := make(chan obsidion.Message, 4)
	joiner.OnRawMessage(func(env obsidion.Envelope) {
		if env.Method == "encryptedMessage" {
			select {
			case frames <- env:
			default:
			}
		}
	})
	joiner.OnSecureMessage(func(m obsidion.Message) { msgs <- m })

	if err := creator.SendMessage("once", map[string]any{"n": 1}); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	select {
	case <-msgs:
	case <-time.After(5 * time.Second):
		t.Fatal("first delivery missing")
	}

	// The relay replays a captured envelope verbatim.
	var replayed obsidion.Envelope
	select {
	case replayed = <-frames:
	case <-time.After(time.Second):
		t.Fatal("no raw frame captured")
	}
	raw, err := json.Marshal(replayed)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	joinerTransport.enqueue(raw)

	select {
	case m := <-msgs:
		t.Fatalf("replayed envelope delivered again: %+v", m)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestEndToEnd_OriginMismatch(t *testing.T) {
	relay := newMemRelay()
	origin := "https://actual-origin.com"
	creator, err := obsidion.Create(context.Background(), obsidion.Options{
		Origin:    origin,
		KeyPair:   keyPair(t, privAHex, pubAHex),
		Transport: relay.transport(origin),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer creator.Close()

	tampered := strings.Replace(creator.ConnectionString(), "actual-origin.com", "wrong-origin.com", 1)
	joiner, err := obsidion.Join(context.Background(), tampered, obsidion.Options{
		KeyPair:   keyPair(t, privBHex, pubBHex),
		Transport: relay.transport("nodejs"),
	})
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	defer joiner.Close()

	errs := make(chan error, 4)
	joiner.OnError(func(err error) { errs <- err })

	select {
	case err := <-errs:
		if !strings.Contains(err.Error(), "origin") {
			t.Fatalf("error does not mention origin: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no origin error emitted")
	}
	if joiner.IsSecureChannelEstablished() {
		t.Fatal("joiner established despite origin mismatch")
	}
}

func TestEndToEnd_Reconnect(t *testing.T) {
	relay := newMemRelay()
	origin := "https://localhost"
	creator, err := obsidion.Create(context.Background(), obsidion.Options{
		Origin:    origin,
		KeyPair:   keyPair(t, privAHex, pubAHex),
		Transport: relay.transport(origin),
		ChunkWait: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer creator.Close()

	joinerTransport := relay.transport("nodejs")
	joiner, err := obsidion.Join(context.Background(), creator.ConnectionString(), obsidion.Options{
		KeyPair:   keyPair(t, privBHex, pubBHex),
		Transport: joinerTransport,
		ChunkWait: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	defer joiner.Close()
	waitUntil(t, "establishment", joiner.IsSecureChannelEstablished)

	reconnected := make(chan obsidion.Connected, 2)
	joiner.OnConnect(func(c obsidion.Connected) {
		if c.Reconnection {
			reconnected <- c
		}
	})

	joinerTransport.drop()
	select {
	case <-reconnected:
	case <-time.After(5 * time.Second):
		t.Fatal("no reconnection")
	}

	got := make(chan obsidion.Message, 1)
	creator.OnSecureMessage(func(m obsidion.Message) { got <- m })
	if err := joiner.SendMessage("after reconnect", map[string]any{}); err != nil {
		t.Fatalf("SendMessage after reconnect: %v", err)
	}
	select {
	case m := <-got:
		if m.Method != "after reconnect" {
			t.Fatalf("method = %q", m.Method)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("message after reconnect never arrived")
	}
}

func TestEndToEnd_Resumption(t *testing.T) {
	relay := newMemRelay()
	creator, prior := pair(t, relay, "https://localhost")

	kp := prior.KeyPair()
	cs := prior.ConnectionString()
	prior.Close()

	resumed, err := obsidion.Join(context.Background(), cs, obsidion.Options{
		KeyPair:   &kp,
		Resume:    true,
		Transport: relay.transport("nodejs"),
		ChunkWait: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Join with resume: %v", err)
	}
	defer resumed.Close()

	if !resumed.IsSecureChannelEstablished() {
		t.Fatal("resumed session must report establishment immediately")
	}

	got := make(chan obsidion.Message, 1)
	creator.OnSecureMessage(func(m obsidion.Message) { got <- m })
	if err := resumed.SendMessage("resumed", map[string]any{"ok": true}); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	select {
	case m := <-got:
		if m.Method != "resumed" {
			t.Fatalf("method = %q", m.Method)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("post-resumption message never arrived")
	}
}
