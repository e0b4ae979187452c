package bridge

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/lawnchairsociety/twbridge/internal/econ"
	"github.com/lawnchairsociety/twbridge/internal/store"
)

// fakeClient is a LineClient fed from a channel.
type fakeClient struct {
	lines chan string

	mu       sync.Mutex
	sent     []string
	connects int
	sendErr  error

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		lines:  make(chan string, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	return nil
}

func (c *fakeClient) Send(ctx context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, text)
	return nil
}

func (c *fakeClient) Receive(ctx context.Context) (string, error) {
	select {
	case line := <-c.lines:
		return line, nil
	case <-c.closed:
		return "", econ.ErrClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *fakeClient) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeClient) sentLines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

func (c *fakeClient) connectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects
}

func (c *fakeClient) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

type sentMessage struct {
	channelID string
	content   string
}

// fakeSender records Discord sends. Sends fail while failNext is positive.
type fakeSender struct {
	mu       sync.Mutex
	messages []sentMessage
	failNext int
}

func (s *fakeSender) SendMessage(ctx context.Context, channelID, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext > 0 {
		s.failNext--
		return context.DeadlineExceeded
	}
	s.messages = append(s.messages, sentMessage{channelID: channelID, content: content})
	return nil
}

func (s *fakeSender) contents() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.messages))
	for i, m := range s.messages {
		out[i] = m.content
	}
	return out
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// fakeMutes is an in-memory MuteStore.
type fakeMutes struct {
	mu    sync.Mutex
	names map[Key]map[string]string
}

func newFakeMutes() *fakeMutes {
	return &fakeMutes{names: make(map[Key]map[string]string)}
}

func (m *fakeMutes) IsMuted(ctx context.Context, guildID, channelID, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.names[Key{guildID, channelID}][name]
	return ok, nil
}

func (m *fakeMutes) Mute(ctx context.Context, guildID, channelID, name, mutedBy string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := Key{guildID, channelID}
	if _, ok := m.names[key][name]; ok {
		return store.ErrAlreadyMuted
	}
	if m.names[key] == nil {
		m.names[key] = make(map[string]string)
	}
	m.names[key][name] = mutedBy
	return nil
}

func (m *fakeMutes) Unmute(ctx context.Context, guildID, channelID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := Key{guildID, channelID}
	if _, ok := m.names[key][name]; !ok {
		return store.ErrNotMuted
	}
	delete(m.names[key], name)
	return nil
}

func (m *fakeMutes) List(ctx context.Context, guildID, channelID string) ([]store.Mute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var list []store.Mute
	for name, by := range m.names[Key{guildID, channelID}] {
		list = append(list, store.Mute{GuildID: guildID, ChannelID: channelID, Name: name, MutedBy: by})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list, nil
}

func testBinding() Binding {
	return Binding{
		GuildID:   "g1",
		ChannelID: "c1",
		Name:      "vanilla",
		Endpoint:  econ.Endpoint{Host: "127.0.0.1", Port: 8303, Password: "secret"},
	}
}
