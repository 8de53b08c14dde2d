package raidbot

import (
	"fmt"
	"log/slog"
)

// Reconciler applies intent batches directly against a parsed schedule.
//
// This is the crash-resilient path used by the thread commands: every
// invocation re-parses the current message text into RaidData, mutates it
// per the batch, and re-renders. No state survives between invocations.
//
// Business-rule violations (full round, unknown user, missing round) are
// silent no-ops - the caller only learns "nothing changed". Per-intent
// outcomes are logged so operators can still see why a request went nowhere.
type Reconciler struct {
	logger *slog.Logger
}

// NewReconciler returns a Reconciler.
func NewReconciler(logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{logger: logger}
}

// Apply mutates data in place per the intent batch, in order, then sweeps
// empty rounds. It returns whether anything changed and a human-readable
// change log. The only error condition is a malformed intent; capacity and
// missing-reference conditions never error.
func (rc *Reconciler) Apply(data *RaidData, intents []Intent) (bool, []string, error) {
	var changes []string

	for _, intent := range intents {
		if err := intent.Validate(); err != nil {
			return len(changes) > 0, changes, err
		}

		switch intent.Kind {
		case IntentAddParticipant:
			changes = append(changes, rc.addParticipant(data, intent)...)
		case IntentRemoveParticipant:
			changes = append(changes, rc.removeParticipant(data, intent)...)
		case IntentUpdateSchedule:
			changes = append(changes, rc.updateSchedule(data, intent)...)
		case IntentAddRound:
			changes = append(changes, rc.addRound(data, intent)...)
		case IntentUpdateNote:
			changes = append(changes, rc.updateNote(data, intent)...)
		}
	}

	if removed := data.SweepEmptyRounds(); removed > 0 {
		changes = append(
			changes,
			fmt.Sprintf("%d개의 빈 차수가 제거되었습니다", removed),
		)
	}

	return len(changes) > 0, changes, nil
}

// addParticipant handles an add intent.
//
// With an explicit round, the round is created at its sorted position if
// missing, then the user is appended to the requested role list - unless
// they already occupy a slot in that round or the list is full, in which
// case nothing happens.
//
// With no round given, existing rounds are scanned in index order for the
// first that can take the user. No round is auto-created on this path: the
// elastic-overflow behavior belongs to the queue engine only.
func (rc *Reconciler) addParticipant(data *RaidData, intent Intent) []string {
	role := intent.Role
	if role == "" {
		role = RoleDealer
	}

	if intent.Round > 0 {
		r := data.RoundByIndex(intent.Round)
		if r == nil {
			r = NewRound(intent.Round)
			data.InsertRound(r)
		}
		if desc, ok := addToRound(r, intent.User, role); ok {
			return []string{desc}
		}
		rc.logger.Warn(
			"add rejected",
			"user", intent.User.DisplayName,
			"role", role,
			"round", intent.Round,
		)
		return nil
	}

	for _, r := range data.Rounds {
		if desc, ok := addToRound(r, intent.User, role); ok {
			return []string{desc}
		}
	}
	rc.logger.Warn(
		"no round can take participant",
		"user", intent.User.DisplayName,
		"role", role,
	)
	return nil
}

// addToRound appends the user to the round's role list when the user isn't
// already in the round (either role) and the list has room.
func addToRound(r *Round, user UserRef, role Role) (string, bool) {
	if r.HasUser(user) {
		return "", false
	}
	p := Participant{Name: user.DisplayName, ID: user.ID}
	if p.Name == "" {
		p.Name = user.Mention()
	}
	switch role {
	case RoleSupport:
		if len(r.Support) >= r.SupportMax {
			return "", false
		}
		r.Support = append(r.Support, p)
		return fmt.Sprintf("%s님이 %s의 서포터로 추가됨", p.Name, r.Name()), true
	case RoleDealer:
		if len(r.Dealer) >= r.DealerMax {
			return "", false
		}
		r.Dealer = append(r.Dealer, p)
		return fmt.Sprintf("%s님이 %s의 딜러로 추가됨", p.Name, r.Name()), true
	}
	return "", false
}

// removeParticipant handles a remove intent.
//
// With an explicit round, the user is stripped from that round only; with
// no round, from every round. Role narrows the removal to one list; with no
// role both lists are stripped. A positive Count bounds a role-scoped,
// round-less removal to that many rounds, last round first.
func (rc *Reconciler) removeParticipant(data *RaidData, intent Intent) []string {
	var changes []string

	if intent.Round > 0 {
		r := data.RoundByIndex(intent.Round)
		if r == nil {
			return nil
		}
		return removeFromRound(r, intent.User, intent.Role)
	}

	if intent.Role != "" && intent.Count > 0 {
		// Later rounds are the user's most recent commitments, so bounded
		// removals work backwards.
		remaining := intent.Count
		for i := len(data.Rounds) - 1; i >= 0 && remaining > 0; i-- {
			removed := removeFromRound(data.Rounds[i], intent.User, intent.Role)
			if len(removed) > 0 {
				changes = append(changes, removed...)
				remaining--
			}
		}
		return changes
	}

	for _, r := range data.Rounds {
		changes = append(changes, removeFromRound(r, intent.User, intent.Role)...)
	}
	return changes
}

// removeFromRound strips the user from the round's role list, or from both
// lists when role is empty.
func removeFromRound(r *Round, user UserRef, role Role) []string {
	var changes []string

	strip := func(list []Participant, roleName string) []Participant {
		kept := list[:0]
		for _, p := range list {
			if participantMatches(p, user) {
				changes = append(
					changes,
					fmt.Sprintf("%s님이 %s의 %s에서 제거됨", p.Name, r.Name(), roleName),
				)
				continue
			}
			kept = append(kept, p)
		}
		return kept
	}

	if role == "" || role == RoleSupport {
		r.Support = strip(r.Support, "서포터")
	}
	if role == "" || role == RoleDealer {
		r.Dealer = strip(r.Dealer, "딜러")
	}
	return changes
}

// updateSchedule sets a round's schedule text, creating the round when
// absent. Schedule and round edits always materialize their target round;
// participant adds with no round never do.
func (rc *Reconciler) updateSchedule(data *RaidData, intent Intent) []string {
	r := data.RoundByIndex(intent.Round)
	if r == nil {
		r = NewRound(intent.Round)
		data.InsertRound(r)
	}
	r.When = intent.When
	return []string{
		fmt.Sprintf("%s의 일정이 '%s'(으)로 업데이트됨", r.Name(), intent.When),
	}
}

// addRound inserts a new round at its sorted position. A round that already
// exists is left untouched.
func (rc *Reconciler) addRound(data *RaidData, intent Intent) []string {
	if data.RoundByIndex(intent.Round) != nil {
		return nil
	}
	r := NewRound(intent.Round)
	r.When = intent.When
	data.InsertRound(r)
	return []string{fmt.Sprintf("새로운 차수 %s이(가) 추가됨", r.Name())}
}

// updateNote sets a round's note. Unlike updateSchedule this never creates
// the round.
func (rc *Reconciler) updateNote(data *RaidData, intent Intent) []string {
	r := data.RoundByIndex(intent.Round)
	if r == nil {
		return nil
	}
	r.Note = intent.Note
	return []string{fmt.Sprintf("%s의 노트가 업데이트됨", r.Name())}
}
