package database

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"activityxp/internal/models"
	"activityxp/internal/ranks"
)

// newTestRepository connects to TEST_DATABASE_DSN and returns a repository
// with a guild id no other run uses.
func newTestRepository(t *testing.T) (*Repository, string) {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("TEST_DATABASE_DSN not set")
	}

	db, err := New(dsn)
	require.NoError(t, err)

	guildID := fmt.Sprintf("test-%d", time.Now().UnixNano())
	t.Cleanup(func() {
		for _, table := range []string{"member_xp", "guild_rank_roles", "guild_ranks", "guild_settings"} {
			_, _ = db.GetConnection().Exec("DELETE FROM "+table+" WHERE guild_id = $1", guildID)
		}
		db.Close()
	})
	return NewRepository(db), guildID
}

func TestGuildConfigDefaults(t *testing.T) {
	repo, guildID := newTestRepository(t)
	ctx := context.Background()

	cfg, err := repo.GuildConfig(ctx, guildID)
	require.NoError(t, err)
	assert.Equal(t, int64(models.DefaultChatXPPerMessage), cfg.ChatXPPerMessage)
	assert.Equal(t, int64(models.DefaultVoiceXPPerMinute), cfg.VoiceXPPerMinute)
	assert.Zero(t, cfg.Ranks.Len())
	assert.Empty(t, cfg.RequiredRoleID)

	require.NoError(t, repo.SetChatXP(ctx, guildID, 3))
	require.NoError(t, repo.SetRequiredRole(ctx, guildID, "42"))
	cfg, err = repo.GuildConfig(ctx, guildID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), cfg.ChatXPPerMessage)
	assert.Equal(t, "42", cfg.RequiredRoleID)

	require.NoError(t, repo.SetRequiredRole(ctx, guildID, ""))
	cfg, err = repo.GuildConfig(ctx, guildID)
	require.NoError(t, err)
	assert.Empty(t, cfg.RequiredRoleID)
}

func TestRankTables(t *testing.T) {
	repo, guildID := newTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.SetRanks(ctx, guildID, []ranks.Entry{{Threshold: 500, Value: "Silver"}, {Threshold: 100, Value: "Bronze"}}))
	require.NoError(t, repo.SetRank(ctx, guildID, 500, "Gold"))
	require.NoError(t, repo.SetRankRole(ctx, guildID, 100, "7"))

	removed, err := repo.RemoveRank(ctx, guildID, 999)
	require.NoError(t, err)
	assert.False(t, removed)

	cfg, err := repo.GuildConfig(ctx, guildID)
	require.NoError(t, err)
	assert.Equal(t, []ranks.Entry{{Threshold: 100, Value: "Bronze"}, {Threshold: 500, Value: "Gold"}}, cfg.Ranks.Entries())
	assert.Equal(t, []ranks.Entry{{Threshold: 100, Value: "7"}}, cfg.RankRoles.Entries())

	removed, err = repo.RemoveRankRole(ctx, guildID, 100)
	require.NoError(t, err)
	assert.True(t, removed)
	require.NoError(t, repo.ClearRanks(ctx, guildID))

	cfg, err = repo.GuildConfig(ctx, guildID)
	require.NoError(t, err)
	assert.Zero(t, cfg.Ranks.Len())
	assert.Zero(t, cfg.RankRoles.Len())
}

func TestApplySetupReplacesTables(t *testing.T) {
	repo, guildID := newTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.SetRank(ctx, guildID, 1, "Old"))
	require.NoError(t, repo.ApplySetup(ctx, guildID, &models.SetupResult{
		Thresholds:       []int64{1000, 4000, 9000},
		RankNames:        []string{"A", "B", "C"},
		RoleIDs:          []string{"1", "2", "3"},
		ChatXPPerMessage: 10,
		VoiceXPPerMinute: 5,
		TotalXP:          9000,
	}))

	cfg, err := repo.GuildConfig(ctx, guildID)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Ranks.Len())
	assert.Equal(t, "C", ranks.Resolve(cfg.Ranks, 9000))
	assert.Equal(t, ranks.Unranked, ranks.Resolve(cfg.Ranks, 999))
	assert.Equal(t, 3, cfg.RankRoles.Len())
}

func TestConcurrentXPIncrements(t *testing.T) {
	repo, guildID := newTestRepository(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				_, err = repo.AddXP(ctx, guildID, "u1", 5)
			} else {
				_, err = repo.AwardChatXP(ctx, guildID, "u1", 10, time.Now())
			}
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	m, err := repo.Member(ctx, guildID, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(10*5+10*10), m.XP)
	assert.NotNil(t, m.LastMessageAt)

	top, err := repo.TopMembers(ctx, guildID, 10)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "u1", top[0].UserID)
}
