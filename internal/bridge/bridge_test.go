package bridge

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/lawnchairsociety/twbridge/internal/antispam"
	"github.com/lawnchairsociety/twbridge/internal/chatfilter"
	"github.com/lawnchairsociety/twbridge/internal/econ"
	"github.com/lawnchairsociety/twbridge/internal/namefilter"
)

// startBridge runs b until the test ends.
func startBridge(t *testing.T, b *Bridge) (cancel context.CancelFunc, done <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- b.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-errCh:
		case <-time.After(2 * time.Second):
			t.Error("bridge did not stop")
		}
	})
	return cancel, errCh
}

func TestRun_Forwarding(t *testing.T) {
	tests := []struct {
		name       string
		showJoins  bool
		showLeaves bool
		blacklist  []string
		line       string
		want       []string
	}{
		{
			name: "chat",
			line: "[2024][chat]: 3:7:Tee: hello there",
			want: []string{"[chat] Tee: hello there"},
		},
		{
			name:      "join shown",
			showJoins: true,
			line:      "[2024][game]: team_join player='Tee'",
			want:      []string{"[game] Tee joined the game"},
		},
		{
			name: "join hidden",
			line: "[2024][game]: team_join player='Tee'",
		},
		{
			name:       "leave shown",
			showLeaves: true,
			line:       "[2024][game]: leave player='0:Tee'",
			want:       []string{"[game] Tee left the game"},
		},
		{
			name: "leave hidden",
			line: "[2024][game]: leave player='Tee'",
		},
		{
			name:      "blacklisted speaker",
			blacklist: []string{"Tee"},
			line:      "[2024][chat]: 3:7:Tee: hello there",
		},
		{
			name:      "blacklist does not hide joins",
			showJoins: true,
			blacklist: []string{"Tee"},
			line:      "[2024][game]: team_join player='Tee'",
			want:      []string{"[game] Tee joined the game"},
		},
		{
			name: "unrecognized line",
			line: "[2024][server]: player has entered the game",
		},
		{
			name: "chat tag without body",
			line: "[2024][chat]: ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			binding := testBinding()
			binding.ShowJoins = tt.showJoins
			binding.ShowLeaves = tt.showLeaves
			binding.Blacklist = NewNameSet(tt.blacklist)

			client := newFakeClient()
			sender := &fakeSender{}
			startBridge(t, New(binding, client, sender, Options{}))

			client.lines <- tt.line
			// The marker is always forwarded, so once it arrives every
			// earlier line has been handled.
			client.lines <- "[2024][chat]: 0:0:marker: done"
			waitFor(t, "marker", func() bool {
				got := sender.contents()
				return len(got) > 0 && got[len(got)-1] == "[chat] marker: done"
			})

			got := sender.contents()
			got = got[:len(got)-1]
			if len(got) != len(tt.want) {
				t.Fatalf("sent %q, want %q", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("message %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestRun_PreservesOrder(t *testing.T) {
	binding := testBinding()
	binding.ShowJoins = true
	client := newFakeClient()
	sender := &fakeSender{}
	startBridge(t, New(binding, client, sender, Options{}))

	client.lines <- "[t][chat]: 1:0:A: first"
	client.lines <- "[t][chat]: 1:0:B: second"
	client.lines <- "[t][game]: team_join player='D'"
	client.lines <- "[t][chat]: 1:0:C: third"

	waitFor(t, "four messages", func() bool { return len(sender.contents()) == 4 })
	want := []string{
		"[chat] A: first",
		"[chat] B: second",
		"[game] D joined the game",
		"[chat] C: third",
	}
	for i, got := range sender.contents() {
		if got != want[i] {
			t.Errorf("message %d = %q, want %q", i, got, want[i])
		}
	}
	for _, m := range sender.messages {
		if m.channelID != "c1" {
			t.Errorf("message sent to channel %q, want c1", m.channelID)
		}
	}
}

func TestRun_ContinuesAfterSendFailure(t *testing.T) {
	client := newFakeClient()
	sender := &fakeSender{failNext: 1}
	startBridge(t, New(testBinding(), client, sender, Options{}))

	client.lines <- "[t][chat]: 1:0:A: lost"
	client.lines <- "[t][chat]: 1:0:A: kept"

	waitFor(t, "second message", func() bool { return len(sender.contents()) == 1 })
	if got := sender.contents()[0]; got != "[chat] A: kept" {
		t.Errorf("got %q, want the message after the failure", got)
	}
}

func TestRun_MutedSpeakerSuppressed(t *testing.T) {
	mutes := newFakeMutes()
	mutes.Mute(context.Background(), "g1", "c1", "Griefer", "42")

	client := newFakeClient()
	sender := &fakeSender{}
	startBridge(t, New(testBinding(), client, sender, Options{Mutes: mutes}))

	client.lines <- "[t][chat]: 1:0:Griefer: spam"
	client.lines <- "[t][chat]: 2:0:Tee: hi"

	waitFor(t, "unmuted message", func() bool { return len(sender.contents()) == 1 })
	if got := sender.contents()[0]; got != "[chat] Tee: hi" {
		t.Errorf("got %q, want only the unmuted speaker", got)
	}
}

func TestRun_HiddenNamesSuppressed(t *testing.T) {
	names := namefilter.New(&namefilter.Config{
		Enabled:     true,
		BannedWords: []string{"slur"},
	})

	binding := testBinding()
	binding.ShowJoins = true
	binding.ShowLeaves = true
	client := newFakeClient()
	sender := &fakeSender{}
	startBridge(t, New(binding, client, sender, Options{Names: names}))

	client.lines <- "[t][game]: team_join player='xSlurx'"
	client.lines <- "[t][chat]: 1:0:xSlurx: hello"
	client.lines <- "[t][game]: leave player='1:xSlurx'"
	client.lines <- "[t][chat]: 2:0:Tee: hi"

	waitFor(t, "clean message", func() bool { return len(sender.contents()) == 1 })
	if got := sender.contents()[0]; got != "[chat] Tee: hi" {
		t.Errorf("got %q, want only the clean speaker", got)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	client := newFakeClient()
	b := New(testBinding(), client, &fakeSender{}, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- b.Run(ctx) }()

	waitFor(t, "connect", func() bool { return client.connectCount() == 1 })
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run returned %v on shutdown, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if !client.isClosed() {
		t.Error("client was not closed on shutdown")
	}
}

func TestRun_ClientClosedWhenRunReturns(t *testing.T) {
	for i := 0; i < 20; i++ {
		client := newFakeClient()
		b := New(testBinding(), client, &fakeSender{}, Options{})

		ctx, cancel := context.WithCancel(context.Background())
		errCh := make(chan error, 1)
		go func() { errCh <- b.Run(ctx) }()
		waitFor(t, "connect", func() bool { return client.connectCount() == 1 })

		cancel()
		select {
		case <-errCh:
		case <-time.After(2 * time.Second):
			t.Fatal("Run did not return after cancel")
		}
		if !client.isClosed() {
			t.Fatalf("run %d: client still open after Run returned", i)
		}
	}
}

func TestRelay_SanitizesAuthorAndContent(t *testing.T) {
	client := newFakeClient()
	b := New(testBinding(), client, &fakeSender{}, Options{})

	err := b.Relay(context.Background(), InboundMessage{
		GuildID:    "g1",
		ChannelID:  "c1",
		AuthorID:   "7",
		AuthorName: "A\nttacker",
		Content:    "say banned\nrm -rf",
	})
	if err != nil {
		t.Fatalf("Relay failed: %v", err)
	}

	sent := client.sentLines()
	if len(sent) != 1 {
		t.Fatalf("expected one send, got %d", len(sent))
	}
	if want := "Discord: Attacker: say bannedrm -rf"; sent[0] != want {
		t.Errorf("sent %q, want %q", sent[0], want)
	}
	if wire := econ.SayCommand(sent[0]); strings.ContainsAny(wire, "\r\n") {
		t.Errorf("wire command contains a line break: %q", wire)
	}
}

func TestRelay_TruncatesToLimits(t *testing.T) {
	client := newFakeClient()
	b := New(testBinding(), client, &fakeSender{}, Options{Limits: Limits{MaxAuthor: 5, MaxContent: 10}})

	err := b.Relay(context.Background(), InboundMessage{
		AuthorID:   "7",
		AuthorName: "LongAuthorName",
		Content:    strings.Repeat("x", 50),
	})
	if err != nil {
		t.Fatalf("Relay failed: %v", err)
	}

	want := "Discord: LongA: " + strings.Repeat("x", 10)
	if got := client.sentLines()[0]; got != want {
		t.Errorf("sent %q, want %q", got, want)
	}
}

func TestRelay_DefaultLimits(t *testing.T) {
	client := newFakeClient()
	b := New(testBinding(), client, &fakeSender{}, Options{})

	b.Relay(context.Background(), InboundMessage{
		AuthorName: "bob",
		Content:    strings.Repeat("b", 150),
	})
	// A maximal author leaves only the rest of the command for content.
	b.Relay(context.Background(), InboundMessage{
		AuthorName: strings.Repeat("a", 40),
		Content:    strings.Repeat("b", 150),
	})

	sent := client.sentLines()
	want := []string{
		"Discord: bob: " + strings.Repeat("b", 100),
		"Discord: " + strings.Repeat("a", 30) + ": " + strings.Repeat("b", 79),
	}
	for i := range want {
		if sent[i] != want[i] {
			t.Errorf("send %d = %q, want %q", i, sent[i], want[i])
		}
	}
}

func TestRelay_ChatFilter(t *testing.T) {
	tests := []struct {
		mode    chatfilter.FilterMode
		wantErr error
		want    string
	}{
		{chatfilter.ModeReplace, nil, "Discord: bob: this is ***"},
		{chatfilter.ModeBlock, ErrFiltered, ""},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			client := newFakeClient()
			filter := chatfilter.New(&chatfilter.Config{Enabled: true, Mode: tt.mode, BannedWords: []string{"bad"}})
			b := New(testBinding(), client, &fakeSender{}, Options{Filter: filter})

			err := b.Relay(context.Background(), InboundMessage{AuthorID: "1", AuthorName: "bob", Content: "this is bad"})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Relay error = %v, want %v", err, tt.wantErr)
			}

			sent := client.sentLines()
			if tt.want == "" {
				if len(sent) != 0 {
					t.Errorf("blocked message reached the console: %q", sent)
				}
				return
			}
			if len(sent) != 1 || sent[0] != tt.want {
				t.Errorf("sent %q, want %q", sent, tt.want)
			}
		})
	}
}

func TestRelay_RateLimited(t *testing.T) {
	client := newFakeClient()
	spam := antispam.NewLimiter(antispam.Config{
		Enabled:        true,
		MaxMessages:    2,
		TimeWindow:     time.Minute,
		RepeatCooldown: time.Minute,
	})
	b := New(testBinding(), client, &fakeSender{}, Options{Spam: spam})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := b.Relay(ctx, InboundMessage{AuthorID: "1", AuthorName: "bob", Content: "msg " + strconv.Itoa(i)}); err != nil {
			t.Fatalf("message %d: %v", i, err)
		}
	}
	err := b.Relay(ctx, InboundMessage{AuthorID: "1", AuthorName: "bob", Content: "msg 3"})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("third message error = %v, want ErrRateLimited", err)
	}
	if err := b.Relay(ctx, InboundMessage{AuthorID: "2", AuthorName: "eve", Content: "msg 3"}); err != nil {
		t.Errorf("another author was limited: %v", err)
	}
	if got := len(client.sentLines()); got != 3 {
		t.Errorf("console received %d lines, want 3", got)
	}
}

func TestRelay_SendError(t *testing.T) {
	client := newFakeClient()
	client.sendErr = econ.ErrClosed
	b := New(testBinding(), client, &fakeSender{}, Options{})

	if err := b.Relay(context.Background(), InboundMessage{AuthorName: "a", Content: "b"}); !errors.Is(err, econ.ErrClosed) {
		t.Errorf("Relay error = %v, want ErrClosed", err)
	}
}

// TestRelay_WireHasNoInjectedCommand drives a real console client against a
// loopback server and checks the bytes on the wire.
func TestRelay_WireHasNoInjectedCommand(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	received := make(chan string, 4)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		if _, err := r.ReadString('\n'); err != nil {
			return
		}
		conn.Write([]byte("Enter password:\nAuthentication successful. Remote console access granted.\n"))
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			received <- line
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	binding := testBinding()
	binding.Endpoint = econ.Endpoint{Host: "127.0.0.1", Port: addr.Port, Password: "secret"}
	client := econ.NewClient(binding.Endpoint, econ.Options{Backoff: 20 * time.Millisecond})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	b := New(binding, client, &fakeSender{}, Options{})
	if err := b.Relay(ctx, InboundMessage{AuthorName: "A\nttacker;", Content: "say banned\nrm -rf; shutdown"}); err != nil {
		t.Fatalf("Relay failed: %v", err)
	}

	select {
	case line := <-received:
		want := "say Discord: Attacker,: say bannedrm -rf, shutdown\n"
		if line != want {
			t.Errorf("wire line = %q, want %q", line, want)
		}
	case <-ctx.Done():
		t.Fatal("server never received the command")
	}

	select {
	case extra := <-received:
		t.Errorf("unexpected second command on the wire: %q", extra)
	case <-time.After(50 * time.Millisecond):
	}
}
