package activity

import (
	"context"
	"runtime"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"activityxp/internal/models"
	"activityxp/internal/ranks"
)

// fakeStore keeps state in memory. Its increments are deliberately split
// into a read and a write so unsynchronized callers would lose updates.
type fakeStore struct {
	mu      sync.Mutex
	cfg     *models.GuildConfig
	members map[string]*models.MemberState
}

func newFakeStore(cfg *models.GuildConfig) *fakeStore {
	return &fakeStore{cfg: cfg, members: make(map[string]*models.MemberState)}
}

func (s *fakeStore) GuildConfig(ctx context.Context, guildID string) (*models.GuildConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *s.cfg
	return &c, nil
}

func (s *fakeStore) Member(ctx context.Context, guildID, userID string) (*models.MemberState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.members[userID]; ok {
		c := *m
		return &c, nil
	}
	return &models.MemberState{GuildID: guildID, UserID: userID}, nil
}

func (s *fakeStore) read(userID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.members[userID]; ok {
		return m.XP
	}
	return 0
}

func (s *fakeStore) write(guildID, userID string, xp int64, at *time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[userID]
	if !ok {
		m = &models.MemberState{GuildID: guildID, UserID: userID}
		s.members[userID] = m
	}
	m.XP = xp
	if at != nil {
		m.LastMessageAt = at
	}
}

func (s *fakeStore) AwardChatXP(ctx context.Context, guildID, userID string, amount int64, at time.Time) (int64, error) {
	xp := s.read(userID) + amount
	runtime.Gosched()
	s.write(guildID, userID, xp, &at)
	return xp, nil
}

func (s *fakeStore) AddXP(ctx context.Context, guildID, userID string, amount int64) (int64, error) {
	xp := s.read(userID) + amount
	runtime.Gosched()
	s.write(guildID, userID, xp, nil)
	return xp, nil
}

func (s *fakeStore) hasMember(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.members[userID]
	return ok
}

// fakeGuild models a single guild's roles and voice channels.
type fakeGuild struct {
	mu       sync.Mutex
	roles    map[string][]string
	existing map[string]bool
	voice    map[string]string
	bots     map[string]bool
	adds     int
	removes  int
}

func newFakeGuild() *fakeGuild {
	return &fakeGuild{
		roles:    make(map[string][]string),
		existing: make(map[string]bool),
		voice:    make(map[string]string),
		bots:     make(map[string]bool),
	}
}

func (g *fakeGuild) MemberRoles(guildID, userID string) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.roles[userID]), nil
}

func (g *fakeGuild) RoleExists(guildID, roleID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.existing[roleID]
}

func (g *fakeGuild) AddRoles(guildID, userID string, roleIDs []string, reason string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.adds++
	g.roles[userID] = append(g.roles[userID], roleIDs...)
	return nil
}

func (g *fakeGuild) RemoveRoles(guildID, userID string, roleIDs []string, reason string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.removes++
	g.roles[userID] = slices.DeleteFunc(g.roles[userID], func(id string) bool {
		return slices.Contains(roleIDs, id)
	})
	return nil
}

func (g *fakeGuild) VoiceChannel(guildID, userID string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.voice[userID]
}

func (g *fakeGuild) HumanVoiceMembers(guildID, channelID string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []string
	for user, ch := range g.voice {
		if ch == channelID && !g.bots[user] {
			out = append(out, user)
		}
	}
	slices.Sort(out)
	return out
}

func (g *fakeGuild) IsBot(guildID, userID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.bots[userID]
}

func (g *fakeGuild) join(userID, channelID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if channelID == "" {
		delete(g.voice, userID)
		return
	}
	g.voice[userID] = channelID
}

func (g *fakeGuild) memberRoles(userID string) []string {
	roles, _ := g.MemberRoles("g1", userID)
	return roles
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testConfig() *models.GuildConfig {
	cfg := models.NewGuildConfig("g1")
	cfg.ChatXPPerMessage = 10
	cfg.VoiceXPPerMinute = 5
	return cfg
}

func TestHandleMessageCooldown(t *testing.T) {
	store := newFakeStore(testConfig())
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	engine := New(store, newFakeGuild(), WithClock(clock.Now))
	ctx := context.Background()

	require.NoError(t, engine.HandleMessage(ctx, "g1", "u1", false))
	assert.Equal(t, int64(10), store.read("u1"))

	clock.Advance(5 * time.Second)
	require.NoError(t, engine.HandleMessage(ctx, "g1", "u1", false))
	assert.Equal(t, int64(10), store.read("u1"), "message inside cooldown must not award")

	// cooldown counts from the last award, not the last message
	clock.Advance(5 * time.Second)
	require.NoError(t, engine.HandleMessage(ctx, "g1", "u1", false))
	assert.Equal(t, int64(20), store.read("u1"))

	clock.Advance(ChatCooldown)
	require.NoError(t, engine.HandleMessage(ctx, "g1", "u1", false))
	assert.Equal(t, int64(30), store.read("u1"))
}

func TestHandleMessageIgnored(t *testing.T) {
	store := newFakeStore(testConfig())
	engine := New(store, newFakeGuild())
	ctx := context.Background()

	require.NoError(t, engine.HandleMessage(ctx, "g1", "bot", true))
	require.NoError(t, engine.HandleMessage(ctx, "", "u1", false))

	assert.False(t, store.hasMember("bot"))
	assert.False(t, store.hasMember("u1"))
}

func TestHandleMessageRequiredRole(t *testing.T) {
	cfg := testConfig()
	cfg.RequiredRoleID = "verified"
	store := newFakeStore(cfg)
	guild := newFakeGuild()
	guild.existing["verified"] = true
	engine := New(store, guild)
	ctx := context.Background()

	t.Run("member without the role earns nothing", func(t *testing.T) {
		require.NoError(t, engine.HandleMessage(ctx, "g1", "u1", false))
		assert.False(t, store.hasMember("u1"))
	})

	t.Run("member with the role earns", func(t *testing.T) {
		guild.roles["u2"] = []string{"verified"}
		require.NoError(t, engine.HandleMessage(ctx, "g1", "u2", false))
		assert.Equal(t, int64(10), store.read("u2"))
	})

	t.Run("deleted required role blocks everyone", func(t *testing.T) {
		guild.existing["verified"] = false
		guild.roles["u3"] = []string{"verified"}
		require.NoError(t, engine.HandleMessage(ctx, "g1", "u3", false))
		assert.False(t, store.hasMember("u3"))
	})
}

func TestHandleMessageSyncsRoles(t *testing.T) {
	cfg := testConfig()
	cfg.ChatXPPerMessage = 100
	cfg.RankRoles = ranks.NewTable(
		ranks.Entry{Threshold: 100, Value: "bronze"},
		ranks.Entry{Threshold: 200, Value: "silver"},
	)
	store := newFakeStore(cfg)
	guild := newFakeGuild()
	guild.existing["bronze"] = true
	guild.existing["silver"] = true
	guild.roles["u1"] = []string{"member"}
	clock := &fakeClock{now: time.Now()}
	engine := New(store, guild, WithClock(clock.Now))
	ctx := context.Background()

	require.NoError(t, engine.HandleMessage(ctx, "g1", "u1", false))
	assert.ElementsMatch(t, []string{"member", "bronze"}, guild.memberRoles("u1"))

	clock.Advance(ChatCooldown)
	require.NoError(t, engine.HandleMessage(ctx, "g1", "u1", false))
	assert.ElementsMatch(t, []string{"member", "silver"}, guild.memberRoles("u1"))
	assert.Equal(t, 2, guild.adds)
	assert.Equal(t, 1, guild.removes)
}

func TestVoiceTick(t *testing.T) {
	store := newFakeStore(testConfig())
	guild := newFakeGuild()
	engine := New(store, guild)
	ctx := context.Background()

	guild.join("u1", "vc")
	assert.True(t, engine.voiceTick(ctx, "g1", "u1", "vc"), "lone member keeps ticking")
	assert.Equal(t, int64(0), store.read("u1"))

	guild.bots["b1"] = true
	guild.join("b1", "vc")
	assert.True(t, engine.voiceTick(ctx, "g1", "u1", "vc"))
	assert.Equal(t, int64(0), store.read("u1"), "bots do not count as company")

	guild.join("u2", "vc")
	assert.True(t, engine.voiceTick(ctx, "g1", "u1", "vc"))
	assert.True(t, engine.voiceTick(ctx, "g1", "u1", "vc"))
	assert.Equal(t, int64(10), store.read("u1"))

	guild.join("u2", "")
	assert.True(t, engine.voiceTick(ctx, "g1", "u1", "vc"), "ticker survives while alone")
	assert.Equal(t, int64(10), store.read("u1"))

	guild.join("u1", "other")
	assert.False(t, engine.voiceTick(ctx, "g1", "u1", "vc"), "moving away stops the ticker")
}

func TestVoiceTickRequiredRoleSkipsOnly(t *testing.T) {
	cfg := testConfig()
	cfg.RequiredRoleID = "verified"
	store := newFakeStore(cfg)
	guild := newFakeGuild()
	guild.existing["verified"] = true
	engine := New(store, guild)
	ctx := context.Background()

	guild.join("u1", "vc")
	guild.join("u2", "vc")

	assert.True(t, engine.voiceTick(ctx, "g1", "u1", "vc"))
	assert.Equal(t, int64(0), store.read("u1"))

	guild.roles["u1"] = []string{"verified"}
	assert.True(t, engine.voiceTick(ctx, "g1", "u1", "vc"))
	assert.Equal(t, int64(5), store.read("u1"))
}

func TestHandleVoiceStateLifecycle(t *testing.T) {
	store := newFakeStore(testConfig())
	guild := newFakeGuild()
	engine := New(store, guild, WithVoiceInterval(time.Hour))
	defer engine.Shutdown()

	guild.join("u1", "vc")
	engine.HandleVoiceState("g1", "u1", "", "vc")
	_, tracking := engine.Tracking("g1", "u1")
	assert.False(t, tracking, "alone in the channel")

	guild.join("u2", "vc")
	engine.HandleVoiceState("g1", "u2", "", "vc")
	ch, tracking := engine.Tracking("g1", "u2")
	assert.True(t, tracking)
	assert.Equal(t, "vc", ch)
	_, tracking = engine.Tracking("g1", "u1")
	assert.True(t, tracking, "the member who was waiting starts too")

	guild.join("u2", "vc2")
	engine.HandleVoiceState("g1", "u2", "vc", "vc2")
	_, tracking = engine.Tracking("g1", "u2")
	assert.False(t, tracking, "switch into an empty channel cancels")

	guild.join("u1", "")
	engine.HandleVoiceState("g1", "u1", "vc", "")
	_, tracking = engine.Tracking("g1", "u1")
	assert.False(t, tracking)
	assert.Equal(t, 0, engine.voice.len())
}

func TestHandleVoiceStateIgnoresBots(t *testing.T) {
	guild := newFakeGuild()
	engine := New(newFakeStore(testConfig()), guild, WithVoiceInterval(time.Hour))
	defer engine.Shutdown()

	guild.bots["b1"] = true
	guild.join("u1", "vc")
	guild.join("u2", "vc")
	guild.join("b1", "vc")
	engine.HandleVoiceState("g1", "b1", "", "vc")

	_, tracking := engine.Tracking("g1", "b1")
	assert.False(t, tracking)
}

func TestVoiceTickerAwardsUntilShutdown(t *testing.T) {
	store := newFakeStore(testConfig())
	guild := newFakeGuild()
	engine := New(store, guild, WithVoiceInterval(5*time.Millisecond))

	guild.join("u1", "vc")
	guild.join("u2", "vc")
	engine.HandleVoiceState("g1", "u2", "", "vc")

	assert.Eventually(t, func() bool {
		return store.read("u1") >= 10 && store.read("u2") >= 10
	}, time.Second, 5*time.Millisecond)

	engine.Shutdown()
	after := store.read("u1")
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, store.read("u1"), "no awards after shutdown")

	// a stopped engine refuses new tickers
	engine.HandleVoiceState("g1", "u3", "", "vc")
	assert.Equal(t, 0, engine.voice.len())
}

func TestVoiceTickerStopsWhenMemberLeaves(t *testing.T) {
	guild := newFakeGuild()
	engine := New(newFakeStore(testConfig()), guild, WithVoiceInterval(5*time.Millisecond))
	defer engine.Shutdown()

	guild.join("u1", "vc")
	guild.join("u2", "vc")
	engine.HandleVoiceState("g1", "u2", "", "vc")

	// no leave event delivered; the next tick notices on its own
	guild.join("u1", "")
	assert.Eventually(t, func() bool {
		_, tracking := engine.Tracking("g1", "u1")
		return !tracking
	}, time.Second, 5*time.Millisecond)
}

func TestConcurrentAwardsDoNotLoseUpdates(t *testing.T) {
	store := newFakeStore(testConfig())
	guild := newFakeGuild()
	clock := &fakeClock{now: time.Now()}
	engine := New(store, guild, WithClock(clock.Now))
	ctx := context.Background()

	const voiceAwards = 50
	var wg sync.WaitGroup
	for i := 0; i < voiceAwards; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, engine.awardVoice(ctx, "g1", "u1"))
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, engine.HandleMessage(ctx, "g1", "u1", false))
	}()
	wg.Wait()

	assert.Equal(t, int64(voiceAwards*5+10), store.read("u1"))
}
