// Package activity turns chat and voice activity into XP and keeps rank
// roles in step with it.
//
// Chat messages earn XP at most once per ChatCooldown. Voice presence earns
// XP once per tick while the member shares a channel with at least one other
// human. Both paths serialize on a per-member lock, so a chat award and a
// voice tick for the same member never lose each other's update.
package activity

import (
	"context"
	"fmt"
	"log"
	"slices"
	"time"

	"activityxp/internal/models"
)

// ChatCooldown is the minimum gap between two XP-earning messages.
const ChatCooldown = 10 * time.Second

// DefaultVoiceInterval is how often a voice ticker fires.
const DefaultVoiceInterval = time.Minute

// MinVoiceMembers is how many humans a channel needs before it pays out.
const MinVoiceMembers = 2

// Store is the persistence the engine needs.
type Store interface {
	GuildConfig(ctx context.Context, guildID string) (*models.GuildConfig, error)
	Member(ctx context.Context, guildID, userID string) (*models.MemberState, error)
	AwardChatXP(ctx context.Context, guildID, userID string, amount int64, at time.Time) (int64, error)
	AddXP(ctx context.Context, guildID, userID string, amount int64) (int64, error)
}

// Guild is the slice of the chat platform the engine calls into.
type Guild interface {
	MemberRoles(guildID, userID string) ([]string, error)
	RoleExists(guildID, roleID string) bool
	AddRoles(guildID, userID string, roleIDs []string, reason string) error
	RemoveRoles(guildID, userID string, roleIDs []string, reason string) error
	// VoiceChannel returns the channel the member is connected to, or "".
	VoiceChannel(guildID, userID string) string
	// HumanVoiceMembers lists the non-bot members connected to a channel.
	HumanVoiceMembers(guildID, channelID string) []string
	IsBot(guildID, userID string) bool
}

// Engine awards XP for activity.
type Engine struct {
	store Store
	guild Guild
	locks *memberLocks
	voice *voiceTracker

	now           func() time.Time
	voiceInterval time.Duration
	callTimeout   time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source used for the chat cooldown.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithVoiceInterval overrides the voice tick period.
func WithVoiceInterval(d time.Duration) Option {
	return func(e *Engine) { e.voiceInterval = d }
}

// New creates an engine.
func New(store Store, guild Guild, opts ...Option) *Engine {
	e := &Engine{
		store:         store,
		guild:         guild,
		locks:         newMemberLocks(),
		voice:         newVoiceTracker(),
		now:           time.Now,
		voiceInterval: DefaultVoiceInterval,
		callTimeout:   15 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Eligible reports whether the member may earn XP under cfg. With a required
// role configured the role must still exist and the member must hold it.
func (e *Engine) Eligible(cfg *models.GuildConfig, guildID, userID string) (bool, error) {
	if cfg.RequiredRoleID == "" {
		return true, nil
	}
	if !e.guild.RoleExists(guildID, cfg.RequiredRoleID) {
		return false, nil
	}
	held, err := e.guild.MemberRoles(guildID, userID)
	if err != nil {
		return false, fmt.Errorf("failed to get member roles: %w", err)
	}
	return slices.Contains(held, cfg.RequiredRoleID), nil
}

// HandleMessage awards chat XP for a message. Messages from bots, outside a
// guild, from ineligible members or inside the cooldown are ignored.
func (e *Engine) HandleMessage(ctx context.Context, guildID, userID string, bot bool) error {
	if guildID == "" || bot {
		return nil
	}

	cfg, err := e.store.GuildConfig(ctx, guildID)
	if err != nil {
		return err
	}
	ok, err := e.Eligible(cfg, guildID, userID)
	if err != nil || !ok {
		return err
	}

	unlock := e.locks.Lock(memberKey(guildID, userID))
	defer unlock()

	member, err := e.store.Member(ctx, guildID, userID)
	if err != nil {
		return err
	}
	now := e.now()
	if member.LastMessageAt != nil && now.Sub(*member.LastMessageAt) < ChatCooldown {
		return nil
	}

	xp, err := e.store.AwardChatXP(ctx, guildID, userID, cfg.ChatXPPerMessage, now)
	if err != nil {
		return err
	}
	return e.SyncRoles(ctx, guildID, userID, cfg.RankRoles, xp)
}

// HandleVoiceState reacts to a member moving between voice channels.
// before and after are channel ids, "" meaning not connected.
func (e *Engine) HandleVoiceState(guildID, userID, before, after string) {
	if guildID == "" || before == after {
		return
	}

	if before != "" {
		e.voice.stop(memberKey(guildID, userID))
	}

	if after == "" || e.guild.IsBot(guildID, userID) {
		return
	}

	humans := e.guild.HumanVoiceMembers(guildID, after)
	if len(humans) < MinVoiceMembers {
		return
	}

	e.trackVoice(guildID, userID, after)
	// members who were waiting alone start earning now too
	for _, other := range humans {
		if other == userID {
			continue
		}
		if s, ok := e.voice.session(memberKey(guildID, other)); ok && s.ChannelID == after {
			continue
		}
		e.trackVoice(guildID, other, after)
	}
}

func (e *Engine) trackVoice(guildID, userID, channelID string) {
	log.Printf("[voice] tracking %s in %s/%s", userID, guildID, channelID)
	e.voice.start(memberKey(guildID, userID), channelID, e.voiceInterval, func(ctx context.Context) bool {
		return e.voiceTick(ctx, guildID, userID, channelID)
	})
}

// voiceTick runs one voice award and reports whether the ticker should
// keep going. It stops only when the member has left the channel.
func (e *Engine) voiceTick(ctx context.Context, guildID, userID, channelID string) bool {
	if e.guild.VoiceChannel(guildID, userID) != channelID {
		log.Printf("[voice] %s left %s/%s, ticker stopped", userID, guildID, channelID)
		return false
	}
	if len(e.guild.HumanVoiceMembers(guildID, channelID)) < MinVoiceMembers {
		return true
	}

	ctx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()

	if err := e.awardVoice(ctx, guildID, userID); err != nil {
		log.Printf("[voice] award failed for %s in %s: %v", userID, guildID, err)
	}
	return true
}

func (e *Engine) awardVoice(ctx context.Context, guildID, userID string) error {
	cfg, err := e.store.GuildConfig(ctx, guildID)
	if err != nil {
		return err
	}
	ok, err := e.Eligible(cfg, guildID, userID)
	if err != nil || !ok {
		return err
	}

	unlock := e.locks.Lock(memberKey(guildID, userID))
	defer unlock()

	// cancelled while waiting for the lock
	if err := ctx.Err(); err != nil {
		return nil
	}

	xp, err := e.store.AddXP(ctx, guildID, userID, cfg.VoiceXPPerMinute)
	if err != nil {
		return err
	}
	return e.SyncRoles(ctx, guildID, userID, cfg.RankRoles, xp)
}

// Tracking reports whether a voice ticker is running for the member and in
// which channel.
func (e *Engine) Tracking(guildID, userID string) (string, bool) {
	s, ok := e.voice.session(memberKey(guildID, userID))
	return s.ChannelID, ok
}

// Shutdown cancels every voice ticker and waits for them to exit.
func (e *Engine) Shutdown() {
	n := e.voice.len()
	e.voice.stopAll()
	log.Printf("[voice] stopped %d tickers", n)
}
