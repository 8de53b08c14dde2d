package raidbot

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestParseSchedule verifies that a full schedule message decomposes into
// header, info lines, and rounds with their participants and metadata.
func TestParseSchedule(t *testing.T) {
	text := strings.Join(
		[]string{
			"# 발탄 (하드)",
			"",
			"🔹 필요 레벨: 1600 이상",
			"🔹 모집 인원: 8명",
			"",
			"## 1차",
			"- when: 토 21:00",
			"- who:",
			"  - 서포터(1/2): <@111111111111111111>",
			"  - 딜러(2/6): alice, bob",
			"- note: 숙련",
		}, "\n",
	)

	data := ParseSchedule(text)
	assert.Equal(t, "# 발탄 (하드)", data.Header)
	require.Len(t, data.InfoLines, 2)
	assert.Equal(t, "🔹 필요 레벨: 1600 이상", data.InfoLines[0])

	require.Len(t, data.Rounds, 1)
	round := data.Rounds[0]
	assert.Equal(t, 1, round.Index)
	assert.Equal(t, "토 21:00", round.When)
	assert.Equal(t, "숙련", round.Note)
	assert.Equal(t, 2, round.SupportMax)
	assert.Equal(t, 6, round.DealerMax)

	require.Len(t, round.Support, 1)
	assert.Equal(t, "111111111111111111", round.Support[0].ID)

	require.Len(t, round.Dealer, 2)
	assert.Equal(t, "alice", round.Dealer[0].Name)
	assert.Equal(t, "bob", round.Dealer[1].Name)
	assert.Empty(t, round.Dealer[0].ID)
}

// TestParseScheduleLegacyRoundHeader verifies that bare "1차" round markers
// from older messages parse the same as the "## 1차" form.
func TestParseScheduleLegacyRoundHeader(t *testing.T) {
	text := strings.Join(
		[]string{
			"# 발탄",
			"1차",
			"when: 일 20:00",
			"서포터(0/2):",
			"딜러(1/6): carol",
			"note:",
		}, "\n",
	)

	data := ParseSchedule(text)
	require.Len(t, data.Rounds, 1)
	assert.Equal(t, 1, data.Rounds[0].Index)
	assert.Equal(t, "일 20:00", data.Rounds[0].When)
	require.Len(t, data.Rounds[0].Dealer, 1)
	assert.Equal(t, "carol", data.Rounds[0].Dealer[0].Name)
}

// TestParseScheduleDropsEmptyRounds verifies that a round with no
// participants, schedule, or note does not survive parsing, while a round
// holding only a schedule does.
func TestParseScheduleDropsEmptyRounds(t *testing.T) {
	text := strings.Join(
		[]string{
			"# 발탄",
			"",
			"## 1차",
			"- when: ",
			"- who:",
			"  - 서포터(0/2): ",
			"  - 딜러(0/6): ",
			"- note: ",
			"",
			"## 2차",
			"- when: 수 22:00",
			"- who:",
			"  - 서포터(0/2): ",
			"  - 딜러(0/6): ",
			"- note: ",
		}, "\n",
	)

	data := ParseSchedule(text)
	require.Len(t, data.Rounds, 1)
	assert.Equal(t, 2, data.Rounds[0].Index)
	assert.Equal(t, "수 22:00", data.Rounds[0].When)
}

// TestParseScheduleIgnoresUnknownLines verifies that hand-edited lines the
// codec doesn't recognize are skipped rather than breaking the parse.
func TestParseScheduleIgnoresUnknownLines(t *testing.T) {
	text := strings.Join(
		[]string{
			"# 발탄",
			"이 줄은 자유 텍스트입니다",
			"",
			"## 1차",
			"- when: 토 21:00",
			"자유 텍스트 한 줄 더",
			"  - 딜러(1/6): dave",
			"- note: ",
		}, "\n",
	)

	data := ParseSchedule(text)
	require.Len(t, data.Rounds, 1)
	assert.Equal(t, "토 21:00", data.Rounds[0].When)
	require.Len(t, data.Rounds[0].Dealer, 1)
}

// TestRenderScheduleRoundTrip verifies that rendering a parsed schedule
// reproduces the canonical text exactly, so repeated reconciliation passes
// with no intents are no-ops.
func TestRenderScheduleRoundTrip(t *testing.T) {
	canonical := strings.Join(
		[]string{
			"# 발탄 (하드)",
			"",
			"🔹 필요 레벨: 1600 이상",
			"🔹 모집 인원: 8명",
			"",
			"## 1차",
			"- when: 토 21:00",
			"- who:",
			"  - 서포터(1/2): <@111111111111111111>",
			"  - 딜러(2/6): alice, bob",
			"- note: 숙련",
			"",
			"## 2차",
			"- when: ",
			"- who:",
			"  - 서포터(0/2): ",
			"  - 딜러(1/6): carol",
			"- note: ",
		}, "\n",
	)

	data := ParseSchedule(canonical)
	rendered := RenderSchedule(data)
	assert.Equal(t, canonical, rendered)

	again := RenderSchedule(ParseSchedule(rendered))
	assert.Equal(t, rendered, again)
}

// TestRenderScheduleOrdersRounds verifies rounds render in ascending index
// order regardless of their order in the data.
func TestRenderScheduleOrdersRounds(t *testing.T) {
	data := &RaidData{Header: "# 발탄"}
	r3 := NewRound(3)
	r3.When = "일"
	r1 := NewRound(1)
	r1.When = "토"
	data.Rounds = []*Round{r3, r1}

	rendered := RenderSchedule(data)
	first := strings.Index(rendered, "## 1차")
	third := strings.Index(rendered, "## 3차")
	require.GreaterOrEqual(t, first, 0)
	require.GreaterOrEqual(t, third, 0)
	assert.Less(t, first, third)
}

// TestRenderScheduleTruncation verifies that output past the discord message
// limit is cut at a rune boundary and capped with the truncation marker
// instead of failing.
func TestRenderScheduleTruncation(t *testing.T) {
	data := &RaidData{Header: "# 발탄"}
	round := NewRound(1)
	round.Note = strings.Repeat("가", 3000)
	data.Rounds = []*Round{round}

	rendered := RenderSchedule(data)
	assert.Equal(t, maxScheduleLength, utf8.RuneCountInString(rendered))
	assert.True(t, strings.HasSuffix(rendered, scheduleTruncationMarker))
	assert.True(t, utf8.ValidString(rendered))
}

// TestRoundHasUser verifies slot-occupancy matching: stable IDs win, mention
// strings stored as names resolve to their embedded ID, and plain names are
// compared case-insensitively.
func TestRoundHasUser(t *testing.T) {
	round := NewRound(1)
	round.Support = []Participant{{Name: "<@123456789012345678>", ID: "123456789012345678"}}
	round.Dealer = []Participant{{Name: "Alice"}}

	assert.True(t, round.HasUser(UserRef{DisplayName: "whatever", ID: "123456789012345678"}))
	assert.True(t, round.HasUser(UserRef{DisplayName: "alice"}))
	assert.False(t, round.HasUser(UserRef{DisplayName: "ali"}))
	assert.False(t, round.HasUser(UserRef{DisplayName: "bob", ID: "999999999999999999"}))
}

// TestRoundIsEmpty verifies that scheduling metadata alone keeps a round
// alive: only a round with no participants, no schedule, and no note counts
// as empty.
func TestRoundIsEmpty(t *testing.T) {
	round := NewRound(1)
	assert.True(t, round.IsEmpty())

	round.When = "토 21:00"
	assert.False(t, round.IsEmpty())

	round.When = ""
	round.Note = "숙련팟"
	assert.False(t, round.IsEmpty())

	round.Note = ""
	round.Dealer = []Participant{{Name: "alice"}}
	assert.False(t, round.IsEmpty())
}

// TestRaidDataInsertRound verifies sorted insertion and index lookup.
func TestRaidDataInsertRound(t *testing.T) {
	data := &RaidData{}
	data.InsertRound(NewRound(3))
	data.InsertRound(NewRound(1))
	data.InsertRound(NewRound(2))

	require.Len(t, data.Rounds, 3)
	assert.Equal(t, 1, data.Rounds[0].Index)
	assert.Equal(t, 2, data.Rounds[1].Index)
	assert.Equal(t, 3, data.Rounds[2].Index)

	assert.Equal(t, data.Rounds[1], data.RoundByIndex(2))
	assert.Nil(t, data.RoundByIndex(4))
}

// TestSweepEmptyRounds verifies the empty-round sweep removes only rounds
// with nothing in them.
func TestSweepEmptyRounds(t *testing.T) {
	data := &RaidData{}
	keeper := NewRound(1)
	keeper.When = "토 21:00"
	data.Rounds = []*Round{keeper, NewRound(2), NewRound(3)}

	removed := data.SweepEmptyRounds()
	assert.Equal(t, 2, removed)
	require.Len(t, data.Rounds, 1)
	assert.Equal(t, 1, data.Rounds[0].Index)
}
