package logic

import (
	"github.com/google/uuid"
)

// SleepPredicate decides whether a participant is asleep. Implementations
// must not panic and report sensor failures as false.
type SleepPredicate interface {
	IsSleeping(p Participant) bool
}

// PredicateFunc adapts a function to SleepPredicate.
type PredicateFunc func(p Participant) bool

// IsSleeping calls f(p).
func (f PredicateFunc) IsSleeping(p Participant) bool {
	return f(p)
}

// Snapshot is the sleep census for one tick. Treat it as immutable.
type Snapshot struct {
	Sleeping int
	Total    int
	// Asleep holds the ids counted in Sleeping, in participant order.
	Asleep []uuid.UUID
	ids    map[uuid.UUID]struct{}
}

// Fraction returns Sleeping/Total. Callers never see a zero Total because
// Sample refuses to build such a snapshot.
func (s Snapshot) Fraction() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Sleeping) / float64(s.Total)
}

// IsAsleep reports whether id was counted as sleeping.
func (s Snapshot) IsAsleep(id uuid.UUID) bool {
	_, ok := s.ids[id]
	return ok
}

// Diff returns the ids that fell asleep and woke up since prev.
func (s Snapshot) Diff(prev Snapshot) (fellAsleep, wokeUp []uuid.UUID) {
	for _, id := range s.Asleep {
		if !prev.IsAsleep(id) {
			fellAsleep = append(fellAsleep, id)
		}
	}
	for _, id := range prev.Asleep {
		if !s.IsAsleep(id) {
			wokeUp = append(wokeUp, id)
		}
	}
	return fellAsleep, wokeUp
}

// Sample classifies every participant. It returns ok=false when there is
// nobody to count, in which case the caller skips the rest of the tick.
// A participant reported twice is counted once.
func Sample(participants []Participant, pred SleepPredicate) (snap Snapshot, ok bool) {
	if len(participants) == 0 {
		return Snapshot{}, false
	}
	seen := make(map[uuid.UUID]struct{}, len(participants))
	snap.ids = make(map[uuid.UUID]struct{})
	for _, p := range participants {
		if _, dup := seen[p.ID]; dup {
			continue
		}
		seen[p.ID] = struct{}{}
		snap.Total++
		if !pred.IsSleeping(p) {
			continue
		}
		snap.Sleeping++
		snap.Asleep = append(snap.Asleep, p.ID)
		snap.ids[p.ID] = struct{}{}
	}
	return snap, true
}
