package raidbot

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// QueueEntry is one pending participation request in a thread's raid queue.
// Round 0 means the user didn't ask for a specific round. Rank carries the
// user's participation count at enqueue time and drives priority: a user who
// has already committed to more slots gets first claim on the next one.
type QueueEntry struct {
	Round    int    `json:"round"`
	Rank     int    `json:"rank"`
	Role     Role   `json:"role"`
	UserName string `json:"user_name"`
	UserID   string `json:"user_id"`
}

type participation struct {
	userID   string
	userName string
	count    int
}

// RaidQueue holds the pending participation requests for one raid thread.
//
// The queue is authoritative only in memory: a process restart loses all
// requests that haven't been rendered into the schedule message yet. That
// loss boundary is deliberate - the rendered message is the durable record.
//
// RaidQueue itself is not safe for concurrent use; RaidQueueManager
// serializes access per thread.
type RaidQueue struct {
	threadID string
	entries  []*QueueEntry
	users    map[string]*participation
	logger   *slog.Logger
}

// NewRaidQueue returns an empty queue for the given thread.
func NewRaidQueue(threadID string, logger *slog.Logger) *RaidQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &RaidQueue{
		threadID: threadID,
		users:    map[string]*participation{},
		logger:   logger.With("thread_id", threadID),
	}
}

// Len returns the number of pending requests.
func (q *RaidQueue) Len() int {
	return len(q.entries)
}

// Entries returns a copy of the pending requests in priority order.
func (q *RaidQueue) Entries() []QueueEntry {
	out := make([]QueueEntry, len(q.entries))
	for i, e := range q.entries {
		out[i] = *e
	}
	return out
}

// ParticipationCount returns the user's current net participation count.
func (q *RaidQueue) ParticipationCount(userID string) int {
	if u, ok := q.users[userID]; ok {
		return u.count
	}
	return 0
}

// counterKey falls back to the display name when no stable ID is known, so
// that hand-typed names still accumulate a counter.
func counterKey(userID, userName string) string {
	if userID != "" {
		return userID
	}
	return strings.ToLower(userName)
}

// Enqueue adds a participation request. The user's participation counter is
// incremented first and the post-increment value becomes the entry's rank.
// The whole queue is then re-sorted; the sort is stable, so entries with
// equal keys keep their insertion order.
func (q *RaidQueue) Enqueue(userID, userName string, role Role, round int) *QueueEntry {
	key := counterKey(userID, userName)
	u, ok := q.users[key]
	if !ok {
		u = &participation{userID: userID, userName: userName}
		q.users[key] = u
	}
	u.count++

	entry := &QueueEntry{
		Round:    round,
		Rank:     u.count,
		Role:     role,
		UserName: userName,
		UserID:   userID,
	}
	q.entries = append(q.entries, entry)
	q.sortEntries()

	q.logger.Info(
		"enqueued request",
		"user", userName,
		"role", role,
		"round", round,
		"rank", entry.Rank,
		"queue_size", len(q.entries),
	)
	return entry
}

// sortEntries orders by (explicit round first, rank desc, support before
// dealer), stable on insertion order.
func (q *RaidQueue) sortEntries() {
	sort.SliceStable(
		q.entries, func(i, j int) bool {
			a, b := q.entries[i], q.entries[j]
			aExplicit, bExplicit := a.Round > 0, b.Round > 0
			if aExplicit != bExplicit {
				return aExplicit
			}
			if a.Rank != b.Rank {
				return a.Rank > b.Rank
			}
			aSupport, bSupport := a.Role == RoleSupport, b.Role == RoleSupport
			if aSupport != bSupport {
				return aSupport
			}
			return false
		},
	)
}

// entryMatchesUser applies the cascading identity match: exact case-folded
// name, then stable-ID equality against any snowflake found in the search
// token, then a stored mention-formatted name whose embedded ID appears among
// the search token's snowflakes. Identity is never matched by raw substring
// containment.
func entryMatchesUser(e *QueueEntry, search string) bool {
	if strings.EqualFold(e.UserName, search) {
		return true
	}

	searchIDs := discordIDRe.FindAllString(search, -1)
	if len(searchIDs) == 0 {
		return false
	}
	for _, id := range searchIDs {
		if e.UserID != "" && e.UserID == id {
			return true
		}
	}
	if m := discordMentionRe.FindStringSubmatch(e.UserName); m != nil {
		for _, id := range searchIDs {
			if m[1] == id {
				return true
			}
		}
	}
	return false
}

// Dequeue removes and returns the first (index-order) entry matching the
// given user. Role and round are wildcards when zero-valued; when supplied,
// both must match. Removing N requests takes N calls. Returns nil with no
// mutation when nothing matches. On success the user's participation counter
// is decremented, floored at zero.
func (q *RaidQueue) Dequeue(search string, role Role, round int) *QueueEntry {
	for i, e := range q.entries {
		if !entryMatchesUser(e, search) {
			continue
		}
		if role != "" && e.Role != role {
			continue
		}
		if round > 0 && e.Round != round {
			continue
		}

		q.entries = append(q.entries[:i], q.entries[i+1:]...)
		if u, ok := q.users[counterKey(e.UserID, e.UserName)]; ok && u.count > 0 {
			u.count--
		}
		q.logger.Info(
			"dequeued request",
			"user", e.UserName,
			"role", e.Role,
			"round", e.Round,
			"queue_size", len(q.entries),
		)
		return e
	}
	q.logger.Info(
		"no matching request to dequeue",
		"search", search,
		"role", role,
		"round", round,
	)
	return nil
}

// EntriesByUser returns all pending entries for the given user token,
// matched with the same cascade as Dequeue.
func (q *RaidQueue) EntriesByUser(search string) []QueueEntry {
	var out []QueueEntry
	for _, e := range q.entries {
		if entryMatchesUser(e, search) {
			out = append(out, *e)
		}
	}
	return out
}

// Clear drops all entries and counters.
func (q *RaidQueue) Clear() {
	q.entries = nil
	q.users = map[string]*participation{}
}

// GenerateSchedule assigns the queued requests into capacity-bounded rounds
// and renders the schedule text. The live queue is never mutated - the
// packing runs against a copy, so rendering is repeatable and idempotent.
//
// Assignment is two-pass:
//
//  1. Requests with an explicit round are placed into that round, in
//     priority order, creating it if needed. A request whose round is full
//     for its role is skipped entirely: explicit rounds are hard
//     constraints, never overflowed elsewhere.
//  2. Remaining requests (round unspecified) are re-sorted by rank (desc,
//     support first) and placed into the first round, ascending by index,
//     where the user isn't already present and the role has room. When no
//     existing round fits, a new round with the next index is appended.
//
// The explicit/elastic asymmetry is the engine's core business rule.
func (q *RaidQueue) GenerateSchedule(supportMax, dealerMax int) (string, []*Round) {
	if supportMax <= 0 {
		supportMax = DefaultSupportMax
	}
	if dealerMax <= 0 {
		dealerMax = DefaultDealerMax
	}

	working := make([]*QueueEntry, len(q.entries))
	for i, e := range q.entries {
		entry := *e
		working[i] = &entry
	}

	var rounds []*Round
	assigned := map[string]bool{} // "user:round"

	assignmentKey := func(e *QueueEntry, round int) string {
		return counterKey(e.UserID, e.UserName) + ":" + (&Round{Index: round}).Name()
	}
	place := func(r *Round, e *QueueEntry) bool {
		switch e.Role {
		case RoleSupport:
			if len(r.Support) < supportMax {
				r.Support = append(r.Support, Participant{Name: e.UserName, ID: e.UserID})
				return true
			}
		case RoleDealer:
			if len(r.Dealer) < dealerMax {
				r.Dealer = append(r.Dealer, Participant{Name: e.UserName, ID: e.UserID})
				return true
			}
		}
		return false
	}
	findOrCreate := func(index int) *Round {
		for _, r := range rounds {
			if r.Index == index {
				return r
			}
		}
		r := &Round{Index: index, SupportMax: supportMax, DealerMax: dealerMax}
		at := len(rounds)
		for i, existing := range rounds {
			if existing.Index > index {
				at = i
				break
			}
		}
		rounds = append(rounds, nil)
		copy(rounds[at+1:], rounds[at:])
		rounds[at] = r
		return r
	}

	// First pass: explicit rounds, fail closed on capacity.
	hasExplicit := false
	var remaining []*QueueEntry
	for _, e := range working {
		if e.Round <= 0 {
			remaining = append(remaining, e)
			continue
		}
		hasExplicit = true
		r := findOrCreate(e.Round)
		key := assignmentKey(e, e.Round)
		if assigned[key] {
			continue
		}
		if place(r, e) {
			assigned[key] = true
		} else {
			q.logger.Warn(
				"explicit round full, request dropped",
				"user", e.UserName,
				"role", e.Role,
				"round", e.Round,
			)
		}
	}

	if !hasExplicit && len(rounds) == 0 {
		rounds = append(rounds, &Round{Index: 1, SupportMax: supportMax, DealerMax: dealerMax})
	}

	// Second pass: elastic placement for round-unspecified requests.
	sort.SliceStable(
		remaining, func(i, j int) bool {
			a, b := remaining[i], remaining[j]
			if a.Rank != b.Rank {
				return a.Rank > b.Rank
			}
			aSupport, bSupport := a.Role == RoleSupport, b.Role == RoleSupport
			if aSupport != bSupport {
				return aSupport
			}
			return false
		},
	)
	for _, e := range remaining {
		placed := false
		for _, r := range rounds {
			key := assignmentKey(e, r.Index)
			if assigned[key] {
				continue
			}
			if place(r, e) {
				assigned[key] = true
				placed = true
				break
			}
		}
		if !placed {
			next := 1
			for _, r := range rounds {
				if r.Index >= next {
					next = r.Index + 1
				}
			}
			r := findOrCreate(next)
			place(r, e)
			assigned[assignmentKey(e, next)] = true
		}
	}

	return renderQueueRounds(rounds, supportMax, dealerMax), rounds
}

// renderQueueRounds renders the queue engine's round list. Unlike the full
// schedule codec this has no header or info section - the queue path posts
// a bare round listing.
func renderQueueRounds(rounds []*Round, supportMax, dealerMax int) string {
	sorted := make([]*Round, len(rounds))
	copy(sorted, rounds)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	var b strings.Builder
	for i, r := range sorted {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s\n", r.Name())
		fmt.Fprintf(&b, "when: %s\n", r.When)
		fmt.Fprintf(&b, "서포터(%d/%d)%s\n", len(r.Support), supportMax, renderNameList(r.Support))
		fmt.Fprintf(&b, "딜러(%d/%d)%s\n", len(r.Dealer), dealerMax, renderNameList(r.Dealer))
		fmt.Fprintf(&b, "note: %s\n", r.Note)
	}

	out := b.String()
	if runes := []rune(out); len(runes) > maxScheduleLength {
		marker := []rune(scheduleTruncationMarker)
		out = string(runes[:maxScheduleLength-len(marker)]) + scheduleTruncationMarker
	}
	return out
}

func renderNameList(participants []Participant) string {
	if len(participants) == 0 {
		return ":"
	}
	names := make([]string, len(participants))
	for i, p := range participants {
		if p.ID != "" {
			names[i] = "<@" + p.ID + ">"
		} else {
			names[i] = p.Name
		}
	}
	return ": " + strings.Join(names, ", ")
}

// RaidQueueManager owns the per-thread queues. Each thread's queue is
// independent; the manager's table is guarded because discordgo dispatches
// handlers on separate goroutines.
type RaidQueueManager struct {
	mu     sync.Mutex
	queues map[string]*RaidQueue
	logger *slog.Logger
}

// NewRaidQueueManager returns an empty manager.
func NewRaidQueueManager(logger *slog.Logger) *RaidQueueManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &RaidQueueManager{
		queues: map[string]*RaidQueue{},
		logger: logger,
	}
}

// Queue returns the queue for the given thread, creating it if needed.
func (m *RaidQueueManager) Queue(threadID string) *RaidQueue {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[threadID]
	if !ok {
		q = NewRaidQueue(threadID, m.logger)
		m.queues[threadID] = q
	}
	return q
}

// QueueSizes returns the current entry count per thread, for the status API.
func (m *RaidQueueManager) QueueSizes() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	sizes := make(map[string]int, len(m.queues))
	for id, q := range m.queues {
		sizes[id] = q.Len()
	}
	return sizes
}

// ProcessAdd normalizes the role token and enqueues a request. The boolean
// is false when the role token isn't recognized.
func (m *RaidQueueManager) ProcessAdd(
	threadID string,
	userID string,
	userName string,
	roleToken string,
	round int,
) (*QueueEntry, bool) {
	role, ok := NormalizeRole(roleToken)
	if !ok {
		m.logger.Warn("unrecognized role token", "role", roleToken, "user", userName)
		return nil, false
	}
	if round < 0 {
		round = 0
	}
	return m.Queue(threadID).Enqueue(userID, userName, role, round), true
}

// ProcessRemove normalizes the role token (empty = wildcard) and dequeues at
// most one matching request. Returns nil when the thread has no queue or
// nothing matched.
func (m *RaidQueueManager) ProcessRemove(
	threadID string,
	search string,
	roleToken string,
	round int,
) *QueueEntry {
	m.mu.Lock()
	q, ok := m.queues[threadID]
	m.mu.Unlock()
	if !ok {
		m.logger.Warn("no queue for thread", "thread_id", threadID)
		return nil
	}

	var role Role
	if roleToken != "" {
		normalized, recognized := NormalizeRole(roleToken)
		if !recognized {
			m.logger.Warn("unrecognized role token", "role", roleToken)
			return nil
		}
		role = normalized
	}
	return q.Dequeue(search, role, round)
}
