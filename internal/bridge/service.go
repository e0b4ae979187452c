package bridge

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lawnchairsociety/twbridge/internal/antispam"
	"github.com/lawnchairsociety/twbridge/internal/logger"
)

// spamPruneInterval is how often idle anti-spam trackers are discarded.
const spamPruneInterval = time.Minute

// ServiceOptions configures a Service.
type ServiceOptions struct {
	// Admins maps a guild id to the user ids allowed to run moderation
	// commands there.
	Admins map[string][]string

	// Mutes backs the moderation commands. Nil disables them.
	Mutes MuteStore

	// Spam is pruned periodically while the service runs. It should be the
	// limiter shared by the bridges.
	Spam *antispam.Limiter
}

// Service is the entry point driven by the Discord client: OnReady starts
// the bridges and OnChannelMessage routes channel messages to them.
type Service struct {
	registry *Registry
	admins   map[string]NameSet
	mutes    MuteStore
	spam     *antispam.Limiter

	mu      sync.Mutex
	selfID  string
	stopped bool

	startOnce sync.Once
	wg        sync.WaitGroup
}

// NewService creates a Service over registry.
func NewService(registry *Registry, opts ServiceOptions) *Service {
	admins := make(map[string]NameSet, len(opts.Admins))
	for guildID, ids := range opts.Admins {
		admins[guildID] = NewNameSet(ids)
	}
	return &Service{
		registry: registry,
		admins:   admins,
		mutes:    opts.Mutes,
		spam:     opts.Spam,
	}
}

// OnReady records the bot's own user id and starts one pump per bridge.
// The gateway reports readiness again after every reconnect; only the first
// call starts pumps. The pumps stop when ctx is cancelled.
func (s *Service) OnReady(ctx context.Context, selfID string) {
	s.mu.Lock()
	s.selfID = selfID
	s.mu.Unlock()

	s.startOnce.Do(func() {
		logger.Info("Discord ready, starting bridges", "user_id", selfID, "bridges", s.registry.Len())
		for _, b := range s.registry.All() {
			b := b
			s.spawn(func() {
				if err := b.Run(ctx); err != nil {
					logger.Error("Bridge exited", "server", b.Binding().Name, "error", err)
				}
			})
		}

		if s.spam != nil {
			s.spawn(func() { s.pruneSpam(ctx) })
		}
	})
}

// OnChannelMessage handles a Discord message. Messages from the bot itself
// and from unbound channels are ignored. Moderation commands from admins are
// answered and everything else is relayed into the game, each on its own
// goroutine, so a slow store, console or Discord never stalls the gateway.
func (s *Service) OnChannelMessage(ctx context.Context, msg InboundMessage) {
	if msg.AuthorID == s.self() {
		return
	}
	b, ok := s.registry.Lookup(msg.GuildID, msg.ChannelID)
	if !ok {
		return
	}

	if cmd, ok := parseCommand(msg.Content); ok && s.mutes != nil && s.isAdmin(msg.GuildID, msg.AuthorID) {
		s.spawn(func() { s.handleCommand(ctx, b, msg, cmd) })
		return
	}

	s.spawn(func() {
		err := b.Relay(ctx, msg)
		switch {
		case err == nil:
			logger.Debug("Relayed to game", "server", b.Binding().Name, "author", msg.AuthorName)
		case errors.Is(err, ErrFiltered), errors.Is(err, ErrRateLimited):
			logger.Info("Message not relayed", "server", b.Binding().Name, "author", msg.AuthorName, "reason", err)
		case ctx.Err() != nil:
		default:
			logger.Warning("Relay to game failed", "server", b.Binding().Name, "author", msg.AuthorName, "error", err)
		}
	})
}

// Wait blocks until every pump and in-flight relay has returned. Cancel the
// context passed to OnReady first. Events arriving after Wait has begun are
// dropped.
func (s *Service) Wait() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.wg.Wait()
}

// spawn runs fn on a tracked goroutine. It reports false once Wait has begun.
func (s *Service) spawn(fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
	return true
}

func (s *Service) self() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selfID
}

func (s *Service) isAdmin(guildID, userID string) bool {
	return s.admins[guildID].Contains(userID)
}

func (s *Service) handleCommand(ctx context.Context, b *Bridge, msg InboundMessage, cmd command) {
	reply, err := runCommand(ctx, s.mutes, msg, cmd)
	if err != nil {
		logger.Error("Moderation command failed", "command", cmd.name, "server", b.Binding().Name, "error", err)
		reply = "Command failed, see the bridge log."
	}
	if err := b.Notify(ctx, reply); err != nil {
		logger.Warning("Failed to reply to command", "command", cmd.name, "server", b.Binding().Name, "error", err)
	}
}

func (s *Service) pruneSpam(ctx context.Context) {
	ticker := time.NewTicker(spamPruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			remaining := s.spam.Prune()
			logger.Debug("Pruned anti-spam trackers", "remaining", remaining)
		}
	}
}
