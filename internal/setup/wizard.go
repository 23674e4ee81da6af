// Package setup runs the interactive rank setup: a fixed sequence of
// questions put to one administrator, each answered within StepTimeout.
// Answers collect in a builder that is dropped on the first timeout, parse
// failure or out-of-range value; only a completed run is committed, in one
// call to the Committer.
package setup

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"activityxp/internal/models"
	"activityxp/internal/ranks"
	"activityxp/pkg/utils"
)

// DefaultStepTimeout bounds the wait for each answer.
const DefaultStepTimeout = 120 * time.Second

var (
	// ErrCancelled means the administrator did not answer in time.
	ErrCancelled = errors.New("setup cancelled")
	// ErrInvalidInput means an answer did not parse or was out of range.
	ErrInvalidInput = errors.New("invalid setup answer")
	// ErrForbidden means the bot may not create roles.
	ErrForbidden = errors.New("missing permission to create roles")
)

// Reply is one answer from the administrator.
type Reply struct {
	Content string
	RoleIDs []string // roles mentioned in the answer, in order
}

// Conversation is the channel the wizard talks through.
type Conversation interface {
	Send(text string) error
	// Await blocks for the administrator's next message or until ctx ends.
	Await(ctx context.Context) (Reply, error)
}

// Role is a guild role as the wizard sees it.
type Role struct {
	ID   string
	Name string
}

// Roles resolves and creates guild roles. CreateRole returns an error
// wrapping ErrForbidden when the bot lacks permission.
type Roles interface {
	Role(guildID, roleID string) (Role, bool)
	CreateRole(guildID, name string) (Role, error)
}

// Committer stores a finished setup atomically.
type Committer interface {
	ApplySetup(ctx context.Context, guildID string, result *models.SetupResult) error
}

// Wizard walks one administrator through setup for one guild.
type Wizard struct {
	guildID string
	conv    Conversation
	roles   Roles
	store   Committer

	StepTimeout time.Duration
}

// New creates a wizard for a guild.
func New(guildID string, conv Conversation, roles Roles, store Committer) *Wizard {
	return &Wizard{
		guildID:     guildID,
		conv:        conv,
		roles:       roles,
		store:       store,
		StepTimeout: DefaultStepTimeout,
	}
}

type builder struct {
	rankCount int
	roles     []Role
	months    float64
	activity  ranks.Activity
}

// Run asks every question, commits the result and returns it.
func (w *Wizard) Run(ctx context.Context) (*models.SetupResult, error) {
	b := &builder{}

	n, err := w.askInt(ctx,
		"Welcome to ActivityXP setup!\nHow many ranks do you want? (e.g. 10, 20, 30)",
		2, 50, "Please choose between 2 and 50 ranks.")
	if err != nil {
		return nil, fmt.Errorf("rank count: %w", err)
	}
	b.rankCount = int(n)

	for i := 1; i <= b.rankCount; i++ {
		role, err := w.askRole(ctx, i)
		if err != nil {
			return nil, fmt.Errorf("role for rank %d: %w", i, err)
		}
		b.roles = append(b.roles, role)
	}

	if b.months, err = w.askMonths(ctx); err != nil {
		return nil, fmt.Errorf("months: %w", err)
	}

	if b.activity.MessagesPerDay, err = w.askInt(ctx,
		"How many messages per day is an 'active' user? (e.g. 30)",
		1, 500, "Please choose a reasonable number of messages per day."); err != nil {
		return nil, fmt.Errorf("messages per day: %w", err)
	}
	if b.activity.VoiceMinutesPerDay, err = w.askInt(ctx,
		"How many minutes in voice per day is an 'active' user? (e.g. 60)",
		0, 1440, "Please choose a reasonable number of minutes per day."); err != nil {
		return nil, fmt.Errorf("voice minutes per day: %w", err)
	}
	if b.activity.ChatXPPerMessage, err = w.askInt(ctx,
		"How much XP should a chat message give? (e.g. 10)",
		1, 100, "Please choose a reasonable XP per message."); err != nil {
		return nil, fmt.Errorf("chat xp: %w", err)
	}
	if b.activity.VoiceXPPerMinute, err = w.askInt(ctx,
		"How much XP should a minute in voice give? (e.g. 5)",
		1, 100, "Please choose a reasonable XP per minute."); err != nil {
		return nil, fmt.Errorf("voice xp: %w", err)
	}

	result := b.result()
	if err := w.store.ApplySetup(ctx, w.guildID, result); err != nil {
		w.send("Could not save the setup. Nothing was changed.")
		return nil, err
	}

	w.send(Summary(result))
	return result, nil
}

func (b *builder) result() *models.SetupResult {
	total := b.activity.TotalXP(b.months)
	r := &models.SetupResult{
		Thresholds:       ranks.Curve(total, b.rankCount),
		ChatXPPerMessage: b.activity.ChatXPPerMessage,
		VoiceXPPerMinute: b.activity.VoiceXPPerMinute,
		TotalXP:          int64(total),
	}
	for _, role := range b.roles {
		r.RankNames = append(r.RankNames, role.Name)
		r.RoleIDs = append(r.RoleIDs, role.ID)
	}
	return r
}

// Summary renders the completion message for a committed setup.
func Summary(r *models.SetupResult) string {
	thresholds := make([]string, len(r.Thresholds))
	for i, t := range r.Thresholds {
		thresholds[i] = strconv.FormatInt(t, 10)
	}
	return fmt.Sprintf("Setup complete!\n"+
		"Ranks: %s\n"+
		"XP per message: %d\n"+
		"XP per voice minute: %d\n"+
		"Total XP for top rank: %d\n"+
		"XP thresholds: %s",
		strings.Join(r.RankNames, ", "),
		r.ChatXPPerMessage,
		r.VoiceXPPerMinute,
		r.TotalXP,
		strings.Join(thresholds, ", "))
}

func (w *Wizard) send(text string) {
	// a lost status line must not change the outcome of the run
	_ = w.conv.Send(text)
}

// ask sends prompt and waits one step for the answer.
func (w *Wizard) ask(ctx context.Context, prompt string) (Reply, error) {
	if err := w.conv.Send(prompt); err != nil {
		return Reply{}, fmt.Errorf("%w: %v", ErrCancelled, err)
	}

	stepCtx, cancel := context.WithTimeout(ctx, w.StepTimeout)
	defer cancel()

	reply, err := w.conv.Await(stepCtx)
	if err != nil {
		w.send("Setup cancelled.")
		return Reply{}, fmt.Errorf("%w: %v", ErrCancelled, err)
	}
	return reply, nil
}

func (w *Wizard) askInt(ctx context.Context, prompt string, lo, hi int64, rangeMsg string) (int64, error) {
	reply, err := w.ask(ctx, prompt)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseInt(strings.TrimSpace(reply.Content), 10, 64)
	if err != nil {
		w.send("Setup cancelled.")
		return 0, fmt.Errorf("%w: %q is not a whole number", ErrInvalidInput, reply.Content)
	}
	if v < lo || v > hi {
		w.send(rangeMsg)
		return 0, fmt.Errorf("%w: %d not in %d..%d", ErrInvalidInput, v, lo, hi)
	}
	return v, nil
}

func (w *Wizard) askMonths(ctx context.Context) (float64, error) {
	reply, err := w.ask(ctx, "How many months should it take an active user to reach the highest rank? (e.g. 6)")
	if err != nil {
		return 0, err
	}
	months, err := strconv.ParseFloat(strings.TrimSpace(reply.Content), 64)
	if err != nil {
		w.send("Setup cancelled.")
		return 0, fmt.Errorf("%w: %q is not a number", ErrInvalidInput, reply.Content)
	}
	if !(months > 0 && months <= 24) {
		w.send("Please choose more than 0 and at most 24 months.")
		return 0, fmt.Errorf("%w: %v months", ErrInvalidInput, months)
	}
	return months, nil
}

func (w *Wizard) askRole(ctx context.Context, rank int) (Role, error) {
	reply, err := w.ask(ctx, fmt.Sprintf(
		"Please mention the role for rank %d (e.g. @Rank%d), or type a new role name to create it.", rank, rank))
	if err != nil {
		return Role{}, err
	}

	if len(reply.RoleIDs) > 0 {
		role, ok := w.roles.Role(w.guildID, reply.RoleIDs[0])
		if !ok {
			w.send("I can't find that role. Setup cancelled.")
			return Role{}, fmt.Errorf("%w: unknown role %s", ErrInvalidInput, reply.RoleIDs[0])
		}
		return role, nil
	}

	name := strings.TrimSpace(reply.Content)
	if name == "" {
		w.send("A role name is required. Setup cancelled.")
		return Role{}, fmt.Errorf("%w: empty role name", ErrInvalidInput)
	}

	role, err := w.roles.CreateRole(w.guildID, name)
	if errors.Is(err, ErrForbidden) {
		w.send("I don't have permission to create roles. Setup cancelled.")
		return Role{}, err
	}
	if err != nil {
		w.send("I couldn't create that role. Setup cancelled.")
		return Role{}, fmt.Errorf("failed to create role %q: %w", name, err)
	}
	w.send(fmt.Sprintf("Created role %s.", utils.FormatRoleMention(role.ID)))
	return role, nil
}
