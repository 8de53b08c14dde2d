package raidbot

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

const (
	// DefaultSupportMax and DefaultDealerMax are the per-round capacities for
	// an 8-person raid. 4-person raids use 1/3 (see RaidDefinition.Capacity).
	DefaultSupportMax = 2
	DefaultDealerMax  = 6

	// maxScheduleLength is the discord message length limit. Rendering never
	// fails on overflow - the output is truncated with a visible marker.
	maxScheduleLength = 2000

	scheduleTruncationMarker = "..."

	infoLineMarker = "🔹"
)

var (
	// roundHeaderRe recognizes a round boundary. Both the current "## 1차"
	// form and the bare legacy "1차" form appear in existing messages.
	roundHeaderRe = regexp.MustCompile(`^#?#?\s*(\d+)\s*차$`)

	roleCountRe = regexp.MustCompile(`\((\d+)/(\d+)\)`)
)

// Participant is one confirmed slot in a round: the visible name plus the
// stable ID (or character name) backing it. ID may be empty for entries
// parsed from hand-edited messages.
type Participant struct {
	Name string `json:"name"`
	ID   string `json:"id,omitempty"`
}

// Round is one capacity-bounded raid run within a schedule.
type Round struct {
	Index      int           `json:"index"`
	When       string        `json:"when"`
	Note       string        `json:"note"`
	SupportMax int           `json:"support_max"`
	DealerMax  int           `json:"dealer_max"`
	Support    []Participant `json:"support"`
	Dealer     []Participant `json:"dealer"`
}

// Name returns the round's display name, e.g. "1차".
func (r *Round) Name() string {
	return fmt.Sprintf("%d차", r.Index)
}

// HasUser reports whether the named user occupies any slot in this round,
// in either role. Matching prefers stable IDs and falls back to exact
// case-folded names.
func (r *Round) HasUser(ref UserRef) bool {
	for _, p := range r.Support {
		if participantMatches(p, ref) {
			return true
		}
	}
	for _, p := range r.Dealer {
		if participantMatches(p, ref) {
			return true
		}
	}
	return false
}

func participantMatches(p Participant, ref UserRef) bool {
	if ref.ID != "" && p.ID != "" {
		return p.ID == ref.ID
	}
	// A stored participant name may itself be a mention string.
	if m := discordMentionRe.FindStringSubmatch(p.Name); m != nil && ref.ID != "" {
		return m[1] == ref.ID
	}
	return strings.EqualFold(p.Name, ref.DisplayName)
}

// IsEmpty reports whether the round carries no information worth keeping:
// no participants, no schedule and no note. A round with only scheduling
// metadata is not empty - it must survive the sweep.
func (r *Round) IsEmpty() bool {
	if len(r.Support) > 0 || len(r.Dealer) > 0 {
		return false
	}
	return strings.TrimSpace(r.When) == "" && strings.TrimSpace(r.Note) == ""
}

// UserPreference tracks what we know about one user: their characters and any
// explicit per-round requests. Only the reconciliation engine's priority
// heuristic reads this; the queue engine keeps its own counters.
type UserPreference struct {
	UserID           string             `json:"user_id"`
	UserName         string             `json:"user_name"`
	Characters       []LostarkCharacter `json:"characters,omitempty"`
	ExplicitRequests map[int][]Role     `json:"explicit_requests,omitempty"`
}

// RaidData is a whole-schedule snapshot, reconstructed fresh from the
// rendered message text on every reconciliation pass. The rendered text is
// the single source of truth; this structure is never persisted.
type RaidData struct {
	Header          string                     `json:"header"`
	InfoLines       []string                   `json:"info_lines"`
	Rounds          []*Round                   `json:"rounds"`
	UserPreferences map[string]*UserPreference `json:"user_preferences,omitempty"`
}

// RoundByIndex returns the round with the given index, or nil.
func (d *RaidData) RoundByIndex(index int) *Round {
	for _, r := range d.Rounds {
		if r.Index == index {
			return r
		}
	}
	return nil
}

// InsertRound places a round at its sorted position by index. Existing
// indexes are left alone; the caller is responsible for not inserting a
// duplicate.
func (d *RaidData) InsertRound(r *Round) {
	at := len(d.Rounds)
	for i, existing := range d.Rounds {
		if existing.Index > r.Index {
			at = i
			break
		}
	}
	d.Rounds = append(d.Rounds, nil)
	copy(d.Rounds[at+1:], d.Rounds[at:])
	d.Rounds[at] = r
}

// SweepEmptyRounds drops rounds that are empty per Round.IsEmpty, returning
// how many were removed.
func (d *RaidData) SweepEmptyRounds() int {
	kept := d.Rounds[:0]
	for _, r := range d.Rounds {
		if !r.IsEmpty() {
			kept = append(kept, r)
		}
	}
	removed := len(d.Rounds) - len(kept)
	d.Rounds = kept
	return removed
}

// NewRound returns a Round with the given index and default capacities.
func NewRound(index int) *Round {
	return &Round{
		Index:      index,
		SupportMax: DefaultSupportMax,
		DealerMax:  DefaultDealerMax,
	}
}

// ParseSchedule parses the full text of a schedule message into RaidData.
//
// The first line becomes the header. 🔹-prefixed lines before the first
// round marker become info lines. Unrecognized lines are ignored so that
// hand-edits and future additions don't break the parser. Rounds that end
// up empty (no participants, no when/note) are dropped.
func ParseSchedule(text string) *RaidData {
	data := &RaidData{UserPreferences: map[string]*UserPreference{}}

	lines := strings.Split(strings.TrimSpace(text), "\n")
	if len(lines) == 0 {
		return data
	}
	data.Header = lines[0]

	var current *Round
	flush := func() {
		if current != nil && !current.IsEmpty() {
			data.Rounds = append(data.Rounds, current)
		}
		current = nil
	}

	for _, raw := range lines[1:] {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		if m := roundHeaderRe.FindStringSubmatch(line); m != nil {
			flush()
			index, _ := strconv.Atoi(m[1])
			current = NewRound(index)
			continue
		}

		if current == nil {
			if strings.HasPrefix(line, infoLineMarker) {
				data.InfoLines = append(data.InfoLines, line)
			}
			continue
		}

		switch {
		case strings.HasPrefix(line, "- when:"):
			current.When = strings.TrimSpace(line[len("- when:"):])
		case strings.HasPrefix(line, "when:"):
			current.When = strings.TrimSpace(line[len("when:"):])
		case strings.HasPrefix(line, "- who:"), strings.HasPrefix(line, "who:"):
			// marker line, carries no data
		case strings.HasPrefix(line, "- note:"):
			current.Note = strings.TrimSpace(line[len("- note:"):])
		case strings.HasPrefix(line, "note:"):
			current.Note = strings.TrimSpace(line[len("note:"):])
		case strings.Contains(line, "서포터") && strings.Contains(line, "("):
			names, max := parseRoleLine(line)
			if max > 0 {
				current.SupportMax = max
			}
			current.Support = names
		case strings.Contains(line, "딜러") && strings.Contains(line, "("):
			names, max := parseRoleLine(line)
			if max > 0 {
				current.DealerMax = max
			}
			current.Dealer = names
		}
	}
	flush()

	return data
}

// parseRoleLine parses a "서포터(1/2): name, name" style line into the
// participant list and the declared capacity.
func parseRoleLine(line string) ([]Participant, int) {
	var max int
	if m := roleCountRe.FindStringSubmatch(line); m != nil {
		max, _ = strconv.Atoi(m[2])
	}

	_, rest, found := strings.Cut(line, ":")
	if !found {
		return nil, max
	}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return nil, max
	}

	var participants []Participant
	for _, name := range strings.Split(rest, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		p := Participant{Name: name}
		if m := discordMentionRe.FindStringSubmatch(name); m != nil {
			p.ID = m[1]
		}
		participants = append(participants, p)
	}
	return participants, max
}

// RenderSchedule turns RaidData back into the canonical message text.
//
// Empty rounds are skipped. The output is bounded by the discord message
// limit: on overflow it is truncated with a marker rather than failing.
func RenderSchedule(data *RaidData) string {
	var b strings.Builder
	b.WriteString(data.Header)

	if len(data.InfoLines) > 0 {
		b.WriteString("\n")
		for _, line := range data.InfoLines {
			b.WriteString("\n")
			b.WriteString(line)
		}
	}

	rounds := make([]*Round, 0, len(data.Rounds))
	for _, r := range data.Rounds {
		if !r.IsEmpty() {
			rounds = append(rounds, r)
		}
	}
	sort.SliceStable(rounds, func(i, j int) bool {
		return rounds[i].Index < rounds[j].Index
	})

	for _, r := range rounds {
		b.WriteString("\n\n")
		b.WriteString(renderRound(r))
	}

	out := b.String()
	if runes := []rune(out); len(runes) > maxScheduleLength {
		marker := []rune(scheduleTruncationMarker)
		out = string(runes[:maxScheduleLength-len(marker)]) + scheduleTruncationMarker
	}
	return out
}

func renderRound(r *Round) string {
	lines := []string{
		fmt.Sprintf("## %s", r.Name()),
		fmt.Sprintf("- when: %s", r.When),
		"- who:",
		fmt.Sprintf(
			"  - 서포터(%d/%d): %s",
			len(r.Support), r.SupportMax, joinParticipants(r.Support),
		),
		fmt.Sprintf(
			"  - 딜러(%d/%d): %s",
			len(r.Dealer), r.DealerMax, joinParticipants(r.Dealer),
		),
		fmt.Sprintf("- note: %s", r.Note),
	}
	return strings.Join(lines, "\n")
}

func joinParticipants(participants []Participant) string {
	names := make([]string, 0, len(participants))
	for _, p := range participants {
		if p.ID != "" && discordMentionRe.MatchString(p.Name) {
			names = append(names, fmt.Sprintf("<@%s>", p.ID))
			continue
		}
		names = append(names, p.Name)
	}
	return strings.Join(names, ", ")
}
