package usage

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time { return f.now }

type captureSink struct {
	states []State
}

func (c *captureSink) SaveUsage(st State) error {
	c.states = append(c.states, st)
	return nil
}

func newTestStore() (*Store, *fakeClock) {
	clk := &fakeClock{now: time.Date(2025, 3, 7, 14, 30, 0, 0, time.UTC)}
	return NewStore(clk), clk
}

func TestRecordUpdatesEveryAggregate(t *testing.T) {
	s, clk := newTestStore()

	s.Record(Record{Input: 100, Output: 50, Reasoning: 10, ChatID: "chat1", ModelID: "gpt-4o", SourceID: "openai"})

	snap := s.Stats()
	assert.Equal(t, int64(160), snap.Session.Total)
	assert.Equal(t, int64(160), snap.AllTime.Total)
	assert.Equal(t, int64(100), snap.AllTime.Input)
	assert.Equal(t, int64(50), snap.AllTime.Output)
	assert.Equal(t, int64(10), snap.AllTime.Reasoning)
	assert.Equal(t, int64(1), snap.AllTime.MessageCount)

	require.Contains(t, snap.ByDay, DayKey(clk.now))
	require.Contains(t, snap.ByHour, HourKey(clk.now))
	require.Contains(t, snap.ByWeek, WeekKey(clk.now))
	require.Contains(t, snap.ByMonth, MonthKey(clk.now))
	assert.Equal(t, int64(160), snap.ByDay[DayKey(clk.now)].Total)
	assert.Equal(t, int64(160), snap.Today.Total)
	assert.Equal(t, int64(160), snap.ThisHour.Total)
	assert.Equal(t, int64(160), snap.ThisWeek.Total)
	assert.Equal(t, int64(160), snap.ThisMonth.Total)

	assert.Equal(t, int64(160), snap.ByChat["chat1"].Total)
	assert.Equal(t, int64(160), snap.ByModel["gpt-4o"].Total)
	assert.Equal(t, int64(160), snap.BySource["openai"].Total)
}

func TestRecordNestedBreakdowns(t *testing.T) {
	s, clk := newTestStore()

	s.Record(Record{Input: 10, Output: 5, ModelID: "m1", SourceID: "s1"})
	s.Record(Record{Input: 20, Output: 5, ModelID: "m2", SourceID: "s1"})

	snap := s.Stats()
	day := snap.ByDay[DayKey(clk.now)]
	require.NotNil(t, day)
	assert.Equal(t, int64(15), day.Models["m1"].Total)
	assert.Equal(t, int64(25), day.Models["m2"].Total)
	assert.Equal(t, int64(40), day.Sources["s1"].Total)

	hour := snap.ByHour[HourKey(clk.now)]
	require.NotNil(t, hour)
	assert.Equal(t, int64(15), hour.Models["m1"].Total)
}

func TestTotalInvariantHoldsEverywhere(t *testing.T) {
	s, _ := newTestStore()
	s.Record(Record{Input: 7, Output: 3, Reasoning: 2, ChatID: "c", ModelID: "m", SourceID: "src"})
	s.Record(Record{Input: 1, Output: 1, ModelID: "m"})

	snap := s.Stats()
	check := func(b *Bucket) {
		if b == nil {
			return
		}
		assert.Equal(t, b.Total, b.Input+b.Output+b.Reasoning)
		for _, sub := range b.Models {
			assert.Equal(t, sub.Total, sub.Input+sub.Output+sub.Reasoning)
		}
		for _, sub := range b.Sources {
			assert.Equal(t, sub.Total, sub.Input+sub.Output+sub.Reasoning)
		}
	}
	check(snap.Session)
	check(snap.AllTime)
	for _, m := range []map[string]*Bucket{snap.ByDay, snap.ByHour, snap.ByWeek, snap.ByMonth, snap.ByChat, snap.ByModel, snap.BySource} {
		for _, b := range m {
			check(b)
		}
	}
}

func TestAllTimeEqualsSumOfRecords(t *testing.T) {
	s, _ := newTestStore()
	var want int64
	records := []Record{
		{Input: 100, Output: 20},
		{Input: 5, Output: 5, Reasoning: 5},
		{Input: 0, Output: 1},
	}
	for _, r := range records {
		s.Record(r)
		want += r.Input + r.Output + r.Reasoning
	}
	assert.Equal(t, want, s.Stats().AllTime.Total)
}

func TestNegativeCountsClampedToZero(t *testing.T) {
	s, _ := newTestStore()
	s.Record(Record{Input: -50, Output: 10})
	snap := s.Stats()
	assert.Equal(t, int64(0), snap.AllTime.Input)
	assert.Equal(t, int64(10), snap.AllTime.Total)
}

func TestBucketKeysFollowClockAtRecordTime(t *testing.T) {
	s, clk := newTestStore()
	s.Record(Record{Input: 1})

	clk.now = clk.now.Add(24 * time.Hour)
	s.Record(Record{Input: 2})

	snap := s.Stats()
	assert.Len(t, snap.ByDay, 2)
	assert.Equal(t, int64(2), snap.Today.Total)
}

func TestResetSessionLeavesAggregatesUntouched(t *testing.T) {
	s, clk := newTestStore()
	s.Record(Record{Input: 10, Output: 10, ChatID: "c"})

	clk.now = clk.now.Add(time.Minute)
	s.ResetSession()

	snap := s.Stats()
	assert.Equal(t, int64(0), snap.Session.Total)
	assert.Equal(t, int64(0), snap.Session.MessageCount)
	assert.Equal(t, clk.now, snap.SessionStart)
	assert.Equal(t, int64(20), snap.AllTime.Total)
	assert.Len(t, snap.ByDay, 1)
	assert.Equal(t, int64(20), snap.ByChat["c"].Total)
}

func TestResetAllClearsEverything(t *testing.T) {
	s, _ := newTestStore()
	s.Record(Record{Input: 10, Output: 10, ChatID: "c", ModelID: "m"})
	s.ResetAll()

	snap := s.Stats()
	assert.Equal(t, int64(0), snap.AllTime.Total)
	assert.Empty(t, snap.ByDay)
	assert.Empty(t, snap.ByChat)
	assert.Empty(t, snap.ByModel)
}

func TestSubscriberSeesConsistentSnapshot(t *testing.T) {
	s, _ := newTestStore()
	var got []Snapshot
	s.Subscribe(func(snap Snapshot) { got = append(got, snap) })

	s.Record(Record{Input: 10, Output: 5, Reasoning: 1})

	require.Len(t, got, 1)
	assert.Equal(t, int64(16), got[0].AllTime.Total)
	// Snapshots are deep copies; later mutations must not leak in.
	s.Record(Record{Input: 100})
	assert.Equal(t, int64(16), got[0].AllTime.Total)
}

func TestPersisterReceivesStateAfterEveryMutation(t *testing.T) {
	s, _ := newTestStore()
	sink := &captureSink{}
	s.SetPersister(sink)

	s.Record(Record{Input: 1})
	s.ResetSession()
	s.ResetAll()

	require.Len(t, sink.states, 3)
	assert.Equal(t, int64(1), sink.states[0].AllTime.Total)
	assert.Equal(t, int64(1), sink.states[1].AllTime.Total)
	assert.Equal(t, int64(0), sink.states[2].AllTime.Total)
}

// gatedSink stalls its first SaveUsage on a channel so a test can try to
// slip a second mutation's save in front of it.
type gatedSink struct {
	mu     sync.Mutex
	gate   chan struct{}
	gated  bool
	totals []int64
}

func (g *gatedSink) SaveUsage(st State) error {
	g.mu.Lock()
	block := g.gated
	g.gated = false
	g.mu.Unlock()
	if block {
		<-g.gate
	}
	g.mu.Lock()
	g.totals = append(g.totals, st.AllTime.Total)
	g.mu.Unlock()
	return nil
}

func TestConcurrentRecordsPersistInMutationOrder(t *testing.T) {
	s, _ := newTestStore()
	sink := &gatedSink{gate: make(chan struct{}), gated: true}
	s.SetPersister(sink)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.Record(Record{Input: 1})
	}()
	go func() {
		defer wg.Done()
		time.Sleep(20 * time.Millisecond) // let the first record reach the sink
		s.Record(Record{Input: 2})
	}()
	time.Sleep(60 * time.Millisecond)
	close(sink.gate)
	wg.Wait()

	require.Len(t, sink.totals, 2)
	assert.Equal(t, []int64{1, 3}, sink.totals, "persisted states must arrive in mutation order")
	assert.Equal(t, int64(3), s.Stats().AllTime.Total)
}

func TestMergeClampsNegativeIncomingCounters(t *testing.T) {
	s, clk := newTestStore()
	s.Record(Record{Input: 10, Output: 10, ChatID: "c", ModelID: "m"})

	hostile := State{
		AllTime: &Bucket{Input: -5, Output: -5, Reasoning: -5, Total: -15, MessageCount: -1},
		ByDay: map[string]*Bucket{DayKey(clk.now): {
			Input: -100, Total: -100,
			Models: map[string]*Bucket{"m": {Input: -50, Total: -50}},
		}},
		ByChat: map[string]*Bucket{"c": {Input: -7, Total: -7}},
	}
	s.Merge(hostile, true)

	snap := s.Stats()
	assert.Equal(t, int64(20), snap.AllTime.Total)
	assert.Equal(t, int64(1), snap.AllTime.MessageCount)
	assert.Equal(t, int64(20), snap.ByDay[DayKey(clk.now)].Total)
	assert.Equal(t, int64(20), snap.ByDay[DayKey(clk.now)].Models["m"].Total)
	assert.Equal(t, int64(20), snap.ByChat["c"].Total)
}

func TestRestoreSkipsSession(t *testing.T) {
	s, _ := newTestStore()
	s.Record(Record{Input: 10, Output: 10})
	st := s.State()

	s2, _ := newTestStore()
	s2.Restore(st)
	snap := s2.Stats()
	assert.Equal(t, int64(20), snap.AllTime.Total)
	assert.Equal(t, int64(0), snap.Session.Total)
}

func TestMergeAdditiveAndReplace(t *testing.T) {
	s, _ := newTestStore()
	s.Record(Record{Input: 10, Output: 10, ChatID: "c"})
	st := s.State()

	s.Merge(st, true)
	assert.Equal(t, int64(40), s.Stats().AllTime.Total)
	assert.Equal(t, int64(40), s.Stats().ByChat["c"].Total)

	s.Merge(st, false)
	assert.Equal(t, int64(20), s.Stats().AllTime.Total)
	assert.Equal(t, int64(20), s.Stats().ByChat["c"].Total)
}
