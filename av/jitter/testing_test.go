package jitter

import (
	"sync"
	"time"
)

type testItem struct {
	seq      uint64
	ts       time.Duration
	duration time.Duration
}

func (i *testItem) SequenceNumber() uint64   { return i.seq }
func (i *testItem) Timestamp() time.Duration { return i.ts }
func (i *testItem) Duration() time.Duration  { return i.duration }

func newTestItem(seq uint64) *testItem {
	return &testItem{
		seq:      seq,
		ts:       time.Duration(seq) * 20 * time.Millisecond,
		duration: 20 * time.Millisecond,
	}
}

type mockTimeProvider struct {
	mu  sync.Mutex
	now time.Time
}

func newMockTimeProvider(now time.Time) *mockTimeProvider {
	return &mockTimeProvider{now: now}
}

func (m *mockTimeProvider) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *mockTimeProvider) Since(t time.Time) time.Duration {
	return m.Now().Sub(t)
}

func (m *mockTimeProvider) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

type testAlignable struct {
	diff TimeDiff
}

func (a *testAlignable) TimeDiff() *TimeDiff { return &a.diff }
