package raidbot

import (
	"fmt"
	"regexp"
	"strings"
)

// Role is a raid participant role. Free-form user input ("딜", "폿", "dps",
// "supporter", ...) is collapsed into this closed enum by NormalizeRole;
// nothing downstream ever compares raw role tokens.
type Role string

const (
	RoleSupport Role = "support"
	RoleDealer  Role = "dealer"
)

func (r Role) String() string {
	return string(r)
}

var roleSynonyms = map[string]Role{
	"support":   RoleSupport,
	"supporter": RoleSupport,
	"sup":       RoleSupport,
	"서포터":       RoleSupport,
	"서폿":        RoleSupport,
	"폿":         RoleSupport,
	"dealer":    RoleDealer,
	"damage":    RoleDealer,
	"dps":       RoleDealer,
	"딜러":        RoleDealer,
	"딜":         RoleDealer,
}

// NormalizeRole maps a free-form role token to a Role. The boolean is false
// when the token isn't a known synonym for either role.
func NormalizeRole(token string) (Role, bool) {
	role, ok := roleSynonyms[strings.ToLower(strings.TrimSpace(token))]
	return role, ok
}

// discordMentionRe matches a discord user mention like <@123456789012345678>
// or <@!123456789012345678>.
var discordMentionRe = regexp.MustCompile(`^<@!?(\d+)>$`)

// discordIDRe matches a bare discord snowflake embedded anywhere in a string.
var discordIDRe = regexp.MustCompile(`(\d{17,20})`)

// UserRef identifies a raid participant. Resolved references are compared by
// ID only - display names are not stable (users rename themselves, and the
// extraction layer sometimes hands back a raw mention string instead of a
// name).
type UserRef struct {
	DisplayName string `json:"display_name"`
	ID          string `json:"id"`
}

// ResolveUserRef builds a UserRef from a name token that may be a plain
// display name or a mention-formatted string. When the token is a mention,
// the extracted snowflake becomes the ID.
func ResolveUserRef(token string) UserRef {
	token = strings.TrimSpace(token)
	if m := discordMentionRe.FindStringSubmatch(token); m != nil {
		return UserRef{DisplayName: token, ID: m[1]}
	}
	return UserRef{DisplayName: token}
}

// Mention returns the discord mention string for the user when an ID is
// known, and the display name otherwise.
func (u UserRef) Mention() string {
	if u.ID != "" {
		return fmt.Sprintf("<@%s>", u.ID)
	}
	return u.DisplayName
}

// IntentKind tags the Intent variant.
type IntentKind string

const (
	IntentAddParticipant    IntentKind = "add_participant"
	IntentRemoveParticipant IntentKind = "remove_participant"
	IntentUpdateSchedule    IntentKind = "update_schedule"
	IntentAddRound          IntentKind = "add_round"
	IntentUpdateNote        IntentKind = "update_note"
)

// Intent is one structured user intent produced by the extraction layer.
// Round == 0 means "system chooses the round" for add/remove intents.
// Role is empty when the intent doesn't carry one (e.g. schedule edits) or
// when a removal should strip the user from both role lists.
type Intent struct {
	Kind  IntentKind `json:"kind"`
	User  UserRef    `json:"user"`
	Role  Role       `json:"role,omitempty"`
	Round int        `json:"round,omitempty"`
	When  string     `json:"when,omitempty"`
	Note  string     `json:"note,omitempty"`

	// Count bounds a role-scoped removal with no round given: "2딜 빼줘"
	// strips the user's dealer slot from at most 2 rounds, last round
	// first. Zero means unbounded (strip wherever found).
	Count int `json:"count,omitempty"`
}

// Validate reports a hard error for malformed intents (unknown kind, or a
// round-targeted edit without a round). Business-rule violations such as
// capacity are never errors - those are handled as no-ops downstream.
func (in Intent) Validate() error {
	switch in.Kind {
	case IntentAddParticipant, IntentRemoveParticipant:
		if in.User.DisplayName == "" && in.User.ID == "" {
			return fmt.Errorf("%s intent requires a user", in.Kind)
		}
	case IntentUpdateSchedule, IntentAddRound, IntentUpdateNote:
		if in.Round <= 0 {
			return fmt.Errorf("%s intent requires a round index", in.Kind)
		}
	default:
		return fmt.Errorf("unknown intent kind: %q", in.Kind)
	}
	return nil
}
