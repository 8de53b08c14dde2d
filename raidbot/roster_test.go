package raidbot

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestRoster(t *testing.T) *Roster {
	t.Helper()
	dir := t.TempDir()

	raidsPath := filepath.Join(dir, "raids_config.yaml")
	require.NoError(
		t, os.WriteFile(
			raidsPath, []byte(`raids:
  - name: 카멘
    description: 하드
    min_level: 1610
    members: 8
  - name: 발탄
    description: 노말
    min_level: 1415
    max_level: 1445
    members: 8
  - name: 발탄
    description: 하드
    min_level: 1445
    members: 8
  - name: 카양겔
    description: 노말
    min_level: 1475
    members: 4
`), 0644,
		),
	)

	membersPath := filepath.Join(dir, "members_config.yaml")
	require.NoError(
		t, os.WriteFile(
			membersPath, []byte(`members:
  - id: alice
    discord_id: "100000000000000001"
    discord_name: alice#0
    active: true
    main_characters:
      - 앨리스바드
  - id: bob
    discord_id: "100000000000000002"
    discord_name: bob#0
    active: false
    main_characters:
      - 밥버서커
`), 0644,
		),
	)

	return NewRoster(
		&RosterConfig{
			RaidsPath:      raidsPath,
			MembersPath:    membersPath,
			CharactersPath: filepath.Join(dir, "data", "member_characters.json"),
		},
	)
}

// TestRosterRaidsOrdering verifies raids sort by level bracket: lower
// minimum first, and for equal minimums the capped bracket before the open
// one.
func TestRosterRaidsOrdering(t *testing.T) {
	roster := writeTestRoster(t)

	raids, err := roster.Raids()
	require.NoError(t, err)
	require.Len(t, raids, 4)

	assert.Equal(t, "노말", raids[0].Description)
	assert.Equal(t, 1415.0, raids[0].MinLevel)
	assert.Equal(t, "하드", raids[1].Description)
	assert.Equal(t, "카양겔", raids[2].Name)
	assert.Equal(t, "카멘", raids[3].Name)
}

// TestRaidDefinitionCapacity verifies party size maps to role capacities:
// 4-man runs 1 support and 3 dealers, 8-man runs 2 and 6.
func TestRaidDefinitionCapacity(t *testing.T) {
	supportMax, dealerMax := RaidDefinition{Members: 4}.Capacity()
	assert.Equal(t, 1, supportMax)
	assert.Equal(t, 3, dealerMax)

	supportMax, dealerMax = RaidDefinition{Members: 8}.Capacity()
	assert.Equal(t, 2, supportMax)
	assert.Equal(t, 6, dealerMax)
}

// TestRaidDefinitionAccepts verifies the level bracket: minimum inclusive,
// maximum exclusive, open-ended when no maximum is set.
func TestRaidDefinitionAccepts(t *testing.T) {
	max := 1445.0
	capped := RaidDefinition{MinLevel: 1415, MaxLevel: &max}
	assert.False(t, capped.Accepts(1414.99))
	assert.True(t, capped.Accepts(1415))
	assert.True(t, capped.Accepts(1444.99))
	assert.False(t, capped.Accepts(1445))

	open := RaidDefinition{MinLevel: 1610}
	assert.True(t, open.Accepts(1610))
	assert.True(t, open.Accepts(9999))
	assert.False(t, open.Accepts(1609))
}

// TestRaidDefinitionThreadName verifies thread titles show the bracket.
func TestRaidDefinitionThreadName(t *testing.T) {
	max := 1445.0
	assert.Equal(
		t,
		"발탄 (1415 ~ 1445)",
		RaidDefinition{Name: "발탄", MinLevel: 1415, MaxLevel: &max}.ThreadName(),
	)
	assert.Equal(
		t,
		"카멘 (1610 ~ )",
		RaidDefinition{Name: "카멘", MinLevel: 1610}.ThreadName(),
	)
}

// TestRaidDefinitionStarterMessage verifies the starter message carries the
// header, the info lines, and an empty first round sized to the raid.
func TestRaidDefinitionStarterMessage(t *testing.T) {
	raid := RaidDefinition{
		Name:        "카양겔",
		Description: "노말",
		MinLevel:    1475,
		Members:     4,
	}
	starter := raid.StarterMessage()

	assert.True(t, strings.HasPrefix(starter, "# 카양겔 (노말)\n"))
	assert.Contains(t, starter, "🔹 필요 레벨: 1475 이상")
	assert.Contains(t, starter, "🔹 모집 인원: 4명")
	assert.Contains(t, starter, "## 1차")
	assert.Contains(t, starter, "서포터(0/1)")
	assert.Contains(t, starter, "딜러(0/3)")

	data := ParseSchedule(starter)
	assert.Equal(t, "# 카양겔 (노말)", data.Header)
	assert.Len(t, data.InfoLines, 2)
}

// TestRosterMembers verifies member loading and the active-only filter.
func TestRosterMembers(t *testing.T) {
	roster := writeTestRoster(t)

	all, err := roster.Members(false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	active, err := roster.Members(true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "alice", active[0].ID)
	assert.Equal(t, []string{"앨리스바드"}, active[0].MainCharacters)
}

// TestRosterMemberCharactersRoundTrip verifies the character store
// round-trips through its JSON file, creating the parent directory, and that
// the active-only filter drops inactive members' entries.
func TestRosterMemberCharactersRoundTrip(t *testing.T) {
	roster := writeTestRoster(t)

	store := map[string]MemberCharacters{
		"100000000000000001": {
			ID:          "alice",
			DiscordName: "alice#0",
			Characters: []LostarkCharacter{
				{CharacterName: "앨리스바드", CharacterClass: "바드", ItemMaxLevel: "1,640.00"},
			},
		},
		"100000000000000002": {
			ID:          "bob",
			DiscordName: "bob#0",
			Characters: []LostarkCharacter{
				{CharacterName: "밥버서커", CharacterClass: "버서커", ItemMaxLevel: "1,620.00"},
			},
		},
	}
	require.NoError(t, roster.SaveMemberCharacters(store))

	loaded, err := roster.MemberCharacters(false)
	require.NoError(t, err)
	assert.Equal(t, store, loaded)

	activeOnly, err := roster.MemberCharacters(true)
	require.NoError(t, err)
	require.Len(t, activeOnly, 1)
	assert.Contains(t, activeOnly, "100000000000000001")
}

// TestEligibleMembers verifies bracket filtering and ordering: members who
// can field a support sort first, then by eligible character count, with
// each role list ordered by item level descending.
func TestEligibleMembers(t *testing.T) {
	raid := RaidDefinition{Name: "카멘", MinLevel: 1610, Members: 8}
	store := map[string]MemberCharacters{
		"1": {
			ID: "dealer-only",
			Characters: []LostarkCharacter{
				{CharacterName: "d1", CharacterClass: "버서커", ItemMaxLevel: "1,620.00"},
				{CharacterName: "d2", CharacterClass: "소서리스", ItemMaxLevel: "1,640.00"},
				{CharacterName: "low", CharacterClass: "버서커", ItemMaxLevel: "1,500.00"},
			},
		},
		"2": {
			ID: "has-support",
			Characters: []LostarkCharacter{
				{CharacterName: "s1", CharacterClass: "바드", ItemMaxLevel: "1,615.00"},
			},
		},
		"3": {
			ID: "too-low",
			Characters: []LostarkCharacter{
				{CharacterName: "x", CharacterClass: "바드", ItemMaxLevel: "1,580.00"},
			},
		},
	}

	eligible := EligibleMembers(store, raid)
	require.Len(t, eligible, 2)

	assert.Equal(t, "has-support", eligible[0].MemberID)
	assert.Equal(t, "dealer-only", eligible[1].MemberID)

	require.Len(t, eligible[1].Dealers, 2)
	assert.Equal(t, "d2", eligible[1].Dealers[0].CharacterName, "higher level first")
}

// TestRenderEligibleMember verifies the per-member listing format.
func TestRenderEligibleMember(t *testing.T) {
	member := EligibleMember{
		DiscordID:   "100000000000000001",
		MemberID:    "alice",
		DiscordName: "alice#0",
		Supports: []LostarkCharacter{
			{CharacterName: "앨리스바드", CharacterClass: "바드", ItemMaxLevel: "1,640.00"},
		},
		Dealers: []LostarkCharacter{
			{CharacterName: "앨리스버서커", CharacterClass: "버서커", ItemMaxLevel: "1,620.00"},
		},
	}

	rendered := RenderEligibleMember(member)
	assert.Contains(t, rendered, "### alice (<@100000000000000001>)")
	assert.Contains(t, rendered, "총 2개 캐릭터 (서포터: 1개, 딜러: 1개)")
	assert.Contains(t, rendered, "🔹 **앨리스바드** (바드, 1,640.00)")
	assert.Contains(t, rendered, "🔸 **앨리스버서커** (버서커, 1,620.00)")
}

// TestRenderEligibleStats verifies aggregate counts and the support ratio.
func TestRenderEligibleStats(t *testing.T) {
	members := []EligibleMember{
		{Supports: make([]LostarkCharacter, 1), Dealers: make([]LostarkCharacter, 3)},
		{Dealers: make([]LostarkCharacter, 4)},
	}

	rendered := RenderEligibleStats(members)
	assert.Contains(t, rendered, "총 참가 가능 멤버: **2명**")
	assert.Contains(t, rendered, "총 캐릭터: **8개** (서포터: **1개**, 딜러: **7개**)")
	assert.Contains(t, rendered, "서포터 비율: **12.5%**")

	empty := RenderEligibleStats(nil)
	assert.Contains(t, empty, "총 참가 가능 멤버: **0명**")
	assert.NotContains(t, empty, "서포터 비율")
}
