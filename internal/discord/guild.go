package discord

import (
	"errors"
	"fmt"
	"net/http"
	"slices"

	"github.com/bwmarrin/discordgo"

	"activityxp/internal/setup"
)

// guildAPI is the discordgo-backed view of guilds, members and roles used by
// the award engine, the wizard and the commands.
type guildAPI struct {
	s *discordgo.Session
}

func newGuildAPI(s *discordgo.Session) *guildAPI {
	return &guildAPI{s: s}
}

// member reads from state first and falls back to REST, caching the result.
func (g *guildAPI) member(guildID, userID string) (*discordgo.Member, error) {
	if m, err := g.s.State.Member(guildID, userID); err == nil {
		return m, nil
	}
	m, err := g.s.GuildMember(guildID, userID)
	if err != nil {
		return nil, err
	}
	m.GuildID = guildID
	_ = g.s.State.MemberAdd(m)
	return m, nil
}

func (g *guildAPI) MemberRoles(guildID, userID string) ([]string, error) {
	m, err := g.member(guildID, userID)
	if err != nil {
		return nil, err
	}
	return slices.Clone(m.Roles), nil
}

func (g *guildAPI) RoleExists(guildID, roleID string) bool {
	_, err := g.s.State.Role(guildID, roleID)
	return err == nil
}

func (g *guildAPI) AddRoles(guildID, userID string, roleIDs []string, reason string) error {
	held, err := g.MemberRoles(guildID, userID)
	if err != nil {
		return err
	}
	roles := held
	for _, id := range roleIDs {
		if !slices.Contains(roles, id) {
			roles = append(roles, id)
		}
	}
	return g.editRoles(guildID, userID, roles, reason)
}

func (g *guildAPI) RemoveRoles(guildID, userID string, roleIDs []string, reason string) error {
	held, err := g.MemberRoles(guildID, userID)
	if err != nil {
		return err
	}
	roles := slices.DeleteFunc(held, func(id string) bool {
		return slices.Contains(roleIDs, id)
	})
	return g.editRoles(guildID, userID, roles, reason)
}

// editRoles replaces the member's role list in one request and writes the
// result back to state so the next sync sees it.
func (g *guildAPI) editRoles(guildID, userID string, roles []string, reason string) error {
	m, err := g.s.GuildMemberEdit(guildID, userID, &discordgo.GuildMemberParams{Roles: &roles},
		discordgo.WithAuditLogReason(reason))
	if err != nil {
		return err
	}
	if m != nil {
		m.GuildID = guildID
		_ = g.s.State.MemberAdd(m)
	}
	return nil
}

func (g *guildAPI) VoiceChannel(guildID, userID string) string {
	vs, err := g.s.State.VoiceState(guildID, userID)
	if err != nil {
		return ""
	}
	return vs.ChannelID
}

func (g *guildAPI) HumanVoiceMembers(guildID, channelID string) []string {
	guild, err := g.s.State.Guild(guildID)
	if err != nil {
		return nil
	}

	type present struct {
		userID string
		member *discordgo.Member
	}
	g.s.State.RLock()
	var inChannel []present
	for _, vs := range guild.VoiceStates {
		if vs.ChannelID == channelID {
			inChannel = append(inChannel, present{vs.UserID, vs.Member})
		}
	}
	g.s.State.RUnlock()

	var humans []string
	for _, p := range inChannel {
		if p.member != nil && p.member.User != nil {
			if !p.member.User.Bot {
				humans = append(humans, p.userID)
			}
			continue
		}
		if !g.IsBot(guildID, p.userID) {
			humans = append(humans, p.userID)
		}
	}
	return humans
}

func (g *guildAPI) IsBot(guildID, userID string) bool {
	m, err := g.member(guildID, userID)
	if err != nil || m.User == nil {
		return false
	}
	return m.User.Bot
}

func (g *guildAPI) Role(guildID, roleID string) (setup.Role, bool) {
	r, err := g.s.State.Role(guildID, roleID)
	if err != nil {
		return setup.Role{}, false
	}
	return setup.Role{ID: r.ID, Name: r.Name}, true
}

func (g *guildAPI) CreateRole(guildID, name string) (setup.Role, error) {
	r, err := g.s.GuildRoleCreate(guildID, &discordgo.RoleParams{Name: name})
	if err != nil {
		var restErr *discordgo.RESTError
		if errors.As(err, &restErr) && restErr.Response != nil && restErr.Response.StatusCode == http.StatusForbidden {
			return setup.Role{}, fmt.Errorf("failed to create role %q: %w", name, setup.ErrForbidden)
		}
		return setup.Role{}, fmt.Errorf("failed to create role %q: %w", name, err)
	}
	return setup.Role{ID: r.ID, Name: r.Name}, nil
}

func (g *guildAPI) IsAdmin(guildID, channelID, userID string) bool {
	perms, err := g.s.State.UserChannelPermissions(userID, channelID)
	if err != nil {
		if perms, err = g.s.UserChannelPermissions(userID, channelID); err != nil {
			return false
		}
	}
	return perms&discordgo.PermissionAdministrator != 0 || perms&discordgo.PermissionManageGuild != 0
}

func (g *guildAPI) DisplayName(guildID, userID string) string {
	m, err := g.member(guildID, userID)
	if err != nil || m.User == nil {
		return "Unknown member"
	}
	switch {
	case m.Nick != "":
		return m.Nick
	case m.User.GlobalName != "":
		return m.User.GlobalName
	default:
		return m.User.Username
	}
}

// Send posts content without pinging anyone it mentions.
func (g *guildAPI) Send(channelID, content string) error {
	_, err := g.s.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content:         content,
		AllowedMentions: &discordgo.MessageAllowedMentions{Parse: []discordgo.AllowedMentionType{}},
	})
	return err
}
