package models

import (
	"time"

	"activityxp/internal/ranks"
)

// Defaults applied to a guild the first time it is seen
const (
	DefaultChatXPPerMessage = 10
	DefaultVoiceXPPerMinute = 5
)

// GuildConfig represents per-guild XP settings
type GuildConfig struct {
	GuildID          string
	ChatXPPerMessage int64
	VoiceXPPerMinute int64
	Ranks            ranks.Table
	RankRoles        ranks.Table
	RequiredRoleID   string // empty when no role is required
}

// NewGuildConfig returns a guild config with default rates and no ranks
func NewGuildConfig(guildID string) *GuildConfig {
	return &GuildConfig{
		GuildID:          guildID,
		ChatXPPerMessage: DefaultChatXPPerMessage,
		VoiceXPPerMinute: DefaultVoiceXPPerMinute,
	}
}

// MemberState represents a member's XP data in database
type MemberState struct {
	GuildID       string
	UserID        string
	XP            int64
	LastMessageAt *time.Time // last message that earned XP
}

// VoiceSession represents a member being tracked for voice XP
type VoiceSession struct {
	ChannelID string
	Start     time.Time
}

// SetupResult is everything the setup wizard commits in one go
type SetupResult struct {
	Thresholds       []int64
	RankNames        []string
	RoleIDs          []string
	ChatXPPerMessage int64
	VoiceXPPerMinute int64
	TotalXP          int64
}

// RankEntries pairs thresholds with rank names positionally
func (r *SetupResult) RankEntries() []ranks.Entry {
	return pair(r.Thresholds, r.RankNames)
}

// RoleEntries pairs thresholds with role ids positionally
func (r *SetupResult) RoleEntries() []ranks.Entry {
	return pair(r.Thresholds, r.RoleIDs)
}

func pair(thresholds []int64, values []string) []ranks.Entry {
	n := min(len(thresholds), len(values))
	out := make([]ranks.Entry, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, ranks.Entry{Threshold: thresholds[i], Value: values[i]})
	}
	return out
}
