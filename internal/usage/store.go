package usage

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Clock supplies the current time for bucket key computation.
// Keys are computed at record time, not at event-start time.
type Clock interface {
	Now() time.Time
}

// Persister receives the full ledger state after every mutation.
type Persister interface {
	SaveUsage(State) error
}

// Record is one finalized exchange's counts. Negative values are clamped to
// zero before they reach any bucket.
type Record struct {
	Input     int64
	Output    int64
	Reasoning int64
	ChatID    string
	ModelID   string
	SourceID  string
}

// State is the serializable ledger tree, as persisted in the settings blob
// and embedded in export files.
type State struct {
	Session      *Bucket            `json:"session"`
	SessionStart time.Time          `json:"sessionStart"`
	AllTime      *Bucket            `json:"allTime"`
	ByDay        map[string]*Bucket `json:"byDay"`
	ByHour       map[string]*Bucket `json:"byHour"`
	ByWeek       map[string]*Bucket `json:"byWeek"`
	ByMonth      map[string]*Bucket `json:"byMonth"`
	ByChat       map[string]*Bucket `json:"byChat"`
	ByModel      map[string]*Bucket `json:"byModel"`
	BySource     map[string]*Bucket `json:"bySource"`
}

// Snapshot is the consistent read handed to subscribers and the stats
// endpoint. Every bucket is a deep copy taken under the store lock, so a
// snapshot never exposes a partially applied record.
type Snapshot struct {
	Session      *Bucket            `json:"session"`
	SessionStart time.Time          `json:"sessionStart"`
	AllTime      *Bucket            `json:"allTime"`
	ThisHour     *Bucket            `json:"thisHour"`
	Today        *Bucket            `json:"today"`
	ThisWeek     *Bucket            `json:"thisWeek"`
	ThisMonth    *Bucket            `json:"thisMonth"`
	ByDay        map[string]*Bucket `json:"byDay"`
	ByHour       map[string]*Bucket `json:"byHour"`
	ByWeek       map[string]*Bucket `json:"byWeek"`
	ByMonth      map[string]*Bucket `json:"byMonth"`
	ByChat       map[string]*Bucket `json:"byChat"`
	ByModel      map[string]*Bucket `json:"byModel"`
	BySource     map[string]*Bucket `json:"bySource"`
}

// Store is the single mutation entry point for all aggregates. All
// sub-updates of one Record are applied under one critical section.
type Store struct {
	mu      sync.Mutex
	clock   Clock
	persist Persister
	subs    []func(Snapshot)

	// deliverMu serializes snapshot delivery. Snapshots are captured under
	// mu but handed to subscribers and the persister outside it; without
	// this second lock two racing mutations could deliver out of order and
	// the persister would overwrite a newer state with an older one.
	deliverMu sync.Mutex

	session      *Bucket
	sessionStart time.Time
	allTime      *Bucket
	byDay        map[string]*Bucket
	byHour       map[string]*Bucket
	byWeek       map[string]*Bucket
	byMonth      map[string]*Bucket
	byChat       map[string]*Bucket
	byModel      map[string]*Bucket
	bySource     map[string]*Bucket
}

// NewStore creates an empty store with a fresh session clock.
func NewStore(clk Clock) *Store {
	s := &Store{clock: clk}
	s.zeroLocked()
	s.sessionStart = clk.Now()
	return s
}

// SetPersister installs the persistence sink. May be nil.
func (s *Store) SetPersister(p Persister) {
	s.mu.Lock()
	s.persist = p
	s.mu.Unlock()
}

// Subscribe registers a change callback. Callbacks receive a consistent
// snapshot after every mutation and run outside the store lock.
func (s *Store) Subscribe(fn func(Snapshot)) {
	s.mu.Lock()
	s.subs = append(s.subs, fn)
	s.mu.Unlock()
}

// Record applies one exchange's counts to every aggregate atomically, then
// notifies subscribers and persists.
func (s *Store) Record(rec Record) {
	input := clamp(rec.Input)
	output := clamp(rec.Output)
	reasoning := clamp(rec.Reasoning)

	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	s.mu.Lock()
	now := s.clock.Now()

	s.session.add(input, output, reasoning)
	s.allTime.add(input, output, reasoning)

	hour := getOrCreate(s.byHour, HourKey(now))
	hour.add(input, output, reasoning)
	hour.addModel(rec.ModelID, input, output, reasoning)
	hour.addSource(rec.SourceID, input, output, reasoning)

	day := getOrCreate(s.byDay, DayKey(now))
	day.add(input, output, reasoning)
	day.addModel(rec.ModelID, input, output, reasoning)
	day.addSource(rec.SourceID, input, output, reasoning)

	getOrCreate(s.byWeek, WeekKey(now)).add(input, output, reasoning)
	getOrCreate(s.byMonth, MonthKey(now)).add(input, output, reasoning)

	if rec.ChatID != "" {
		getOrCreate(s.byChat, rec.ChatID).add(input, output, reasoning)
	}
	if rec.ModelID != "" {
		getOrCreate(s.byModel, rec.ModelID).add(input, output, reasoning)
	}
	if rec.SourceID != "" {
		getOrCreate(s.bySource, rec.SourceID).add(input, output, reasoning)
	}

	snap := s.snapshotLocked(now)
	state := s.stateLocked()
	persist := s.persist
	subs := s.subs
	s.mu.Unlock()

	s.deliver(snap, state, persist, subs)
}

// ResetSession zeroes the session bucket in place and restarts the session
// clock. All other aggregates are untouched.
func (s *Store) ResetSession() {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	s.mu.Lock()
	s.session = &Bucket{}
	s.sessionStart = s.clock.Now()
	snap := s.snapshotLocked(s.sessionStart)
	state := s.stateLocked()
	persist := s.persist
	subs := s.subs
	s.mu.Unlock()

	s.deliver(snap, state, persist, subs)
}

// ResetAll clears every aggregate and restarts the session clock.
func (s *Store) ResetAll() {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	s.mu.Lock()
	s.zeroLocked()
	s.sessionStart = s.clock.Now()
	snap := s.snapshotLocked(s.sessionStart)
	state := s.stateLocked()
	persist := s.persist
	subs := s.subs
	s.mu.Unlock()

	s.deliver(snap, state, persist, subs)
}

// deliver runs subscriber callbacks and persistence outside the store lock.
// Callers hold deliverMu so deliveries happen in mutation order.
func (s *Store) deliver(snap Snapshot, state State, persist Persister, subs []func(Snapshot)) {
	for _, fn := range subs {
		fn(snap)
	}
	if persist != nil {
		if err := persist.SaveUsage(state); err != nil {
			log.Error().Err(err).Msg("usage: persist failed")
		}
	}
}

// Stats returns a consistent snapshot of every aggregate.
func (s *Store) Stats() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(s.clock.Now())
}

// State returns a deep copy of the serializable ledger tree.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

// Restore replaces the ledger with a previously persisted state. The session
// bucket and clock restart fresh; sessions are ephemeral by design.
func (s *Store) Restore(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.zeroLocked()
	s.sessionStart = s.clock.Now()
	if st.AllTime != nil {
		s.allTime = st.AllTime.Clone()
	}
	restoreMap(s.byDay, st.ByDay)
	restoreMap(s.byHour, st.ByHour)
	restoreMap(s.byWeek, st.ByWeek)
	restoreMap(s.byMonth, st.ByMonth)
	restoreMap(s.byChat, st.ByChat)
	restoreMap(s.byModel, st.ByModel)
	restoreMap(s.bySource, st.BySource)
}

// Merge folds an imported state into the ledger. Session data is skipped.
// When additive is true, existing keys are merged by addition; otherwise
// incoming keys replace existing ones wholesale. Incoming buckets are
// sanitized first: negative counters clamp to zero so a crafted import can
// never decrease an aggregate.
func (s *Store) Merge(st State, additive bool) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	s.mu.Lock()
	if st.AllTime != nil {
		incoming := st.AllTime.Clone()
		incoming.sanitize()
		if additive {
			s.allTime.merge(incoming)
		} else {
			s.allTime = incoming
		}
	}
	mergeMap(s.byDay, st.ByDay, additive)
	mergeMap(s.byHour, st.ByHour, additive)
	mergeMap(s.byWeek, st.ByWeek, additive)
	mergeMap(s.byMonth, st.ByMonth, additive)
	mergeMap(s.byChat, st.ByChat, additive)
	mergeMap(s.byModel, st.ByModel, additive)
	mergeMap(s.bySource, st.BySource, additive)

	snap := s.snapshotLocked(s.clock.Now())
	state := s.stateLocked()
	persist := s.persist
	subs := s.subs
	s.mu.Unlock()

	s.deliver(snap, state, persist, subs)
}

func (s *Store) zeroLocked() {
	s.session = &Bucket{}
	s.allTime = &Bucket{}
	s.byDay = make(map[string]*Bucket)
	s.byHour = make(map[string]*Bucket)
	s.byWeek = make(map[string]*Bucket)
	s.byMonth = make(map[string]*Bucket)
	s.byChat = make(map[string]*Bucket)
	s.byModel = make(map[string]*Bucket)
	s.bySource = make(map[string]*Bucket)
}

func (s *Store) snapshotLocked(now time.Time) Snapshot {
	return Snapshot{
		Session:      s.session.Clone(),
		SessionStart: s.sessionStart,
		AllTime:      s.allTime.Clone(),
		ThisHour:     cloneOrZero(s.byHour[HourKey(now)]),
		Today:        cloneOrZero(s.byDay[DayKey(now)]),
		ThisWeek:     cloneOrZero(s.byWeek[WeekKey(now)]),
		ThisMonth:    cloneOrZero(s.byMonth[MonthKey(now)]),
		ByDay:        cloneBucketMap(s.byDay),
		ByHour:       cloneBucketMap(s.byHour),
		ByWeek:       cloneBucketMap(s.byWeek),
		ByMonth:      cloneBucketMap(s.byMonth),
		ByChat:       cloneBucketMap(s.byChat),
		ByModel:      cloneBucketMap(s.byModel),
		BySource:     cloneBucketMap(s.bySource),
	}
}

func (s *Store) stateLocked() State {
	return State{
		Session:      s.session.Clone(),
		SessionStart: s.sessionStart,
		AllTime:      s.allTime.Clone(),
		ByDay:        cloneBucketMap(s.byDay),
		ByHour:       cloneBucketMap(s.byHour),
		ByWeek:       cloneBucketMap(s.byWeek),
		ByMonth:      cloneBucketMap(s.byMonth),
		ByChat:       cloneBucketMap(s.byChat),
		ByModel:      cloneBucketMap(s.byModel),
		BySource:     cloneBucketMap(s.bySource),
	}
}

func getOrCreate(m map[string]*Bucket, key string) *Bucket {
	b := m[key]
	if b == nil {
		b = &Bucket{}
		m[key] = b
	}
	return b
}

func restoreMap(dst, src map[string]*Bucket) {
	for k, v := range src {
		dst[k] = v.Clone()
	}
}

func mergeMap(dst, src map[string]*Bucket, additive bool) {
	for k, v := range src {
		incoming := v.Clone()
		incoming.sanitize()
		if existing, ok := dst[k]; ok && additive {
			existing.merge(incoming)
			continue
		}
		dst[k] = incoming
	}
}

func cloneOrZero(b *Bucket) *Bucket {
	if b == nil {
		return &Bucket{}
	}
	return b.Clone()
}

func clamp(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
