package raidbot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// RaidDefinition is one raid from the raids config: the level bracket it
// accepts and its party size.
type RaidDefinition struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	MinLevel    float64  `yaml:"min_level"`
	MaxLevel    *float64 `yaml:"max_level"`
	Members     int      `yaml:"members"`
}

// Capacity returns the support and dealer slot counts for the raid's party
// size. Four-man raids run 1 support and 3 dealers, everything else runs
// the standard 2 and 6.
func (r RaidDefinition) Capacity() (supportMax int, dealerMax int) {
	if r.Members == 4 {
		return 1, 3
	}
	return DefaultSupportMax, DefaultDealerMax
}

// Accepts reports whether itemLevel falls inside the raid's bracket. The
// upper bound is exclusive.
func (r RaidDefinition) Accepts(itemLevel float64) bool {
	if itemLevel < r.MinLevel {
		return false
	}
	if r.MaxLevel != nil && itemLevel >= *r.MaxLevel {
		return false
	}
	return true
}

// ThreadName returns the raid's discord thread title.
func (r RaidDefinition) ThreadName() string {
	if r.MaxLevel != nil {
		return fmt.Sprintf("%s (%.0f ~ %.0f)", r.Name, r.MinLevel, *r.MaxLevel)
	}
	return fmt.Sprintf("%s (%.0f ~ )", r.Name, r.MinLevel)
}

// StarterMessage renders the raid's initial schedule message: the header,
// info lines, and an empty first round sized to the raid's capacity.
func (r RaidDefinition) StarterMessage() string {
	supportMax, dealerMax := r.Capacity()

	var b strings.Builder
	fmt.Fprintf(&b, "# %s (%s)\n", r.Name, r.Description)
	if r.MaxLevel != nil {
		fmt.Fprintf(&b, "🔹 필요 레벨: %.0f ~ %.0f\n", r.MinLevel, *r.MaxLevel)
	} else {
		fmt.Fprintf(&b, "🔹 필요 레벨: %.0f 이상\n", r.MinLevel)
	}
	fmt.Fprintf(&b, "🔹 모집 인원: %d명\n\n", r.Members)
	b.WriteString("## 1차\n")
	b.WriteString("- when: \n")
	b.WriteString("- who: \n")
	fmt.Fprintf(&b, "  - 서포터(0/%d): \n", supportMax)
	fmt.Fprintf(&b, "  - 딜러(0/%d): \n", dealerMax)
	b.WriteString("- note: \n")
	return b.String()
}

// Member is one guild member from the members config.
type Member struct {
	ID             string   `yaml:"id"`
	DiscordID      string   `yaml:"discord_id"`
	DiscordName    string   `yaml:"discord_name"`
	Active         bool     `yaml:"active"`
	MainCharacters []string `yaml:"main_characters"`
}

type raidsConfigFile struct {
	Raids []RaidDefinition `yaml:"raids"`
}

type membersConfigFile struct {
	Members []Member `yaml:"members"`
}

// MemberCharacters is one member's collected character set, as stored in
// the character-info JSON file.
type MemberCharacters struct {
	ID          string             `json:"id"`
	DiscordName string             `json:"discord_name"`
	Characters  []LostarkCharacter `json:"characters"`
}

// Roster bundles raid definitions, members, and collected character data.
type Roster struct {
	config *RosterConfig
}

// NewRoster returns a Roster reading from the configured paths.
func NewRoster(config *RosterConfig) *Roster {
	if config == nil {
		config = &RosterConfig{
			RaidsPath:      DefaultRaidsConfigPath,
			MembersPath:    DefaultMembersConfigPath,
			CharactersPath: DefaultMemberCharactersPath,
		}
	}
	return &Roster{config: config}
}

// Raids loads the raid definitions, sorted by level bracket: lower minimum
// first, and for equal minimums the capped bracket before the open one.
func (r *Roster) Raids() ([]RaidDefinition, error) {
	data, err := os.ReadFile(r.config.RaidsPath)
	if err != nil {
		return nil, fmt.Errorf("reading raids config: %w", err)
	}
	var parsed raidsConfigFile
	if err = yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parsing raids config: %w", err)
	}
	raids := parsed.Raids
	sort.SliceStable(
		raids, func(i, j int) bool {
			if raids[i].MinLevel != raids[j].MinLevel {
				return raids[i].MinLevel < raids[j].MinLevel
			}
			iMax, jMax := raids[i].MaxLevel, raids[j].MaxLevel
			if (iMax == nil) != (jMax == nil) {
				return iMax != nil
			}
			if iMax != nil && jMax != nil {
				return *iMax < *jMax
			}
			return false
		},
	)
	return raids, nil
}

// Members loads the members config. With activeOnly set, inactive members
// are dropped.
func (r *Roster) Members(activeOnly bool) ([]Member, error) {
	data, err := os.ReadFile(r.config.MembersPath)
	if err != nil {
		return nil, fmt.Errorf("reading members config: %w", err)
	}
	var parsed membersConfigFile
	if err = yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parsing members config: %w", err)
	}
	if !activeOnly {
		return parsed.Members, nil
	}
	var active []Member
	for _, member := range parsed.Members {
		if member.Active {
			active = append(active, member)
		}
	}
	return active, nil
}

// MemberCharacters loads the collected character store, keyed by discord
// ID. With activeOnly set, entries for inactive members are dropped.
func (r *Roster) MemberCharacters(
	activeOnly bool,
) (map[string]MemberCharacters, error) {
	data, err := os.ReadFile(r.config.CharactersPath)
	if err != nil {
		return nil, fmt.Errorf("reading member characters: %w", err)
	}
	var store map[string]MemberCharacters
	if err = json.Unmarshal(data, &store); err != nil {
		return nil, fmt.Errorf("parsing member characters: %w", err)
	}
	if !activeOnly {
		return store, nil
	}

	members, err := r.Members(true)
	if err != nil {
		return nil, err
	}
	activeIDs := map[string]bool{}
	for _, member := range members {
		activeIDs[member.DiscordID] = true
	}
	filtered := map[string]MemberCharacters{}
	for discordID, entry := range store {
		if activeIDs[discordID] {
			filtered[discordID] = entry
		}
	}
	return filtered, nil
}

// SaveMemberCharacters writes the collected character store, creating the
// parent directory when needed.
func (r *Roster) SaveMemberCharacters(store map[string]MemberCharacters) error {
	parentDir := filepath.Dir(r.config.CharactersPath)
	if parentDir != "" {
		if err := os.MkdirAll(parentDir, 0755); err != nil {
			return err
		}
	}
	data, err := json.MarshalIndent(store, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(r.config.CharactersPath, data, 0644)
}

// EligibleMember is one member with at least one character inside a raid's
// level bracket, split by role.
type EligibleMember struct {
	DiscordID   string
	MemberID    string
	DiscordName string
	Supports    []LostarkCharacter
	Dealers     []LostarkCharacter
}

// TotalCount returns the member's eligible character count.
func (e EligibleMember) TotalCount() int {
	return len(e.Supports) + len(e.Dealers)
}

// EligibleMembers returns the members with characters inside the raid's
// bracket. Members who can field a support sort first, then by character
// count descending.
func EligibleMembers(
	store map[string]MemberCharacters,
	raid RaidDefinition,
) []EligibleMember {
	var eligible []EligibleMember
	for discordID, entry := range store {
		var member EligibleMember
		member.DiscordID = discordID
		member.MemberID = entry.ID
		member.DiscordName = entry.DiscordName
		for _, character := range entry.Characters {
			level, ok := character.ItemLevel()
			if !ok || !raid.Accepts(level) {
				continue
			}
			if character.IsSupport() {
				member.Supports = append(member.Supports, character)
			} else {
				member.Dealers = append(member.Dealers, character)
			}
		}
		if member.TotalCount() > 0 {
			sortByItemLevel(member.Supports)
			sortByItemLevel(member.Dealers)
			eligible = append(eligible, member)
		}
	}
	sort.SliceStable(
		eligible, func(i, j int) bool {
			iHasSupport := len(eligible[i].Supports) > 0
			jHasSupport := len(eligible[j].Supports) > 0
			if iHasSupport != jHasSupport {
				return iHasSupport
			}
			return eligible[i].TotalCount() > eligible[j].TotalCount()
		},
	)
	return eligible
}

func sortByItemLevel(characters []LostarkCharacter) {
	sort.SliceStable(
		characters, func(i, j int) bool {
			iLevel, _ := characters[i].ItemLevel()
			jLevel, _ := characters[j].ItemLevel()
			return iLevel > jLevel
		},
	)
}

// RenderEligibleMember formats one member's eligible characters for the
// raid thread.
func RenderEligibleMember(member EligibleMember) string {
	var b strings.Builder
	fmt.Fprintf(&b, "### %s (<@%s>)\n", member.MemberID, member.DiscordID)
	fmt.Fprintf(
		&b,
		"- 총 %d개 캐릭터 (서포터: %d개, 딜러: %d개)\n\n",
		member.TotalCount(), len(member.Supports), len(member.Dealers),
	)
	if len(member.Supports) > 0 {
		b.WriteString("**서포터**:\n")
		for _, character := range member.Supports {
			fmt.Fprintf(
				&b,
				"- 🔹 **%s** (%s, %s)\n",
				character.CharacterName,
				character.CharacterClass,
				character.ItemMaxLevel,
			)
		}
		b.WriteString("\n")
	}
	if len(member.Dealers) > 0 {
		b.WriteString("**딜러**:\n")
		for _, character := range member.Dealers {
			fmt.Fprintf(
				&b,
				"- 🔸 **%s** (%s, %s)\n",
				character.CharacterName,
				character.CharacterClass,
				character.ItemMaxLevel,
			)
		}
	}
	b.WriteString("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	return b.String()
}

// RenderEligibleStats formats the aggregate stats message for a raid
// thread's eligible-member listing.
func RenderEligibleStats(members []EligibleMember) string {
	totalSupports := 0
	totalDealers := 0
	for _, member := range members {
		totalSupports += len(member.Supports)
		totalDealers += len(member.Dealers)
	}
	total := totalSupports + totalDealers

	var b strings.Builder
	b.WriteString("## 통계 정보\n")
	fmt.Fprintf(&b, "- 총 참가 가능 멤버: **%d명**\n", len(members))
	fmt.Fprintf(
		&b,
		"- 총 캐릭터: **%d개** (서포터: **%d개**, 딜러: **%d개**)\n",
		total, totalSupports, totalDealers,
	)
	if total > 0 {
		fmt.Fprintf(
			&b,
			"- 서포터 비율: **%.1f%%**\n",
			float64(totalSupports)/float64(total)*100,
		)
	}
	return b.String()
}
