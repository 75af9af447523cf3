package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/okian/fieldtrack/internal/domain/model"
)

// MemoryStore keeps everything in process memory.
type MemoryStore struct {
	mu         sync.RWMutex
	samples    map[string][]model.LocationSample // per user, oldest first
	days       map[string]*model.AttendanceDay   // by id
	byUserDate map[string]string                 // user|date -> id
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		samples:    make(map[string][]model.LocationSample),
		days:       make(map[string]*model.AttendanceDay),
		byUserDate: make(map[string]string),
	}
}

func userDate(userID, date string) string { return userID + "|" + date }

func cloneDay(d *model.AttendanceDay) *model.AttendanceDay {
	c := *d
	if d.CheckOut != nil {
		out := *d.CheckOut
		c.CheckOut = &out
	}
	if d.TotalMinutes != nil {
		m := *d.TotalMinutes
		c.TotalMinutes = &m
	}
	return &c
}

// InsertSample appends a sample, keeping the user's samples time ordered.
func (m *MemoryStore) InsertSample(_ context.Context, s model.LocationSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := append(m.samples[s.UserID], s)
	if n := len(list); n > 1 && list[n-1].RecordedAt.Before(list[n-2].RecordedAt) {
		sort.SliceStable(list, func(i, j int) bool { return list[i].RecordedAt.Before(list[j].RecordedAt) })
	}
	m.samples[s.UserID] = list
	return nil
}

// LatestSample implements Reader.
func (m *MemoryStore) LatestSample(_ context.Context, userID string) (*model.LocationSample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := m.samples[userID]
	if len(list) == 0 {
		return nil, nil
	}
	s := list[len(list)-1]
	return &s, nil
}

// LatestSamples implements Reader.
func (m *MemoryStore) LatestSamples(_ context.Context, since time.Time) ([]model.LocationSample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.LocationSample, 0, len(m.samples))
	for _, list := range m.samples {
		if len(list) == 0 {
			continue
		}
		last := list[len(list)-1]
		if !last.RecordedAt.Before(since) {
			out = append(out, last)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// SamplesBetween implements Reader.
func (m *MemoryStore) SamplesBetween(_ context.Context, userID string, from, to time.Time) ([]model.LocationSample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.LocationSample
	for _, s := range m.samples[userID] {
		if !s.RecordedAt.Before(from) && s.RecordedAt.Before(to) {
			out = append(out, s)
		}
	}
	return out, nil
}

// Attendance implements Reader.
func (m *MemoryStore) Attendance(_ context.Context, userID, date string) (*model.AttendanceDay, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byUserDate[userDate(userID, date)]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneDay(m.days[id]), nil
}

// OpenAttendance implements Reader.
func (m *MemoryStore) OpenAttendance(_ context.Context, userID string) (*model.AttendanceDay, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var found *model.AttendanceDay
	for _, d := range m.days {
		if d.UserID != userID || !d.Open() {
			continue
		}
		if found == nil || d.CheckIn.Time.After(found.CheckIn.Time) {
			found = d
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return cloneDay(found), nil
}

// OpenAttendanceOn implements Reader.
func (m *MemoryStore) OpenAttendanceOn(_ context.Context, date string) ([]model.AttendanceDay, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.AttendanceDay
	for _, d := range m.days {
		if d.Date == date && d.Open() {
			out = append(out, *cloneDay(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// CreateAttendance implements Writer.
func (m *MemoryStore) CreateAttendance(_ context.Context, day model.AttendanceDay) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := userDate(day.UserID, day.Date)
	if _, ok := m.byUserDate[key]; ok {
		return ErrAlreadyCheckedIn
	}
	m.days[day.ID] = cloneDay(&day)
	m.byUserDate[key] = day.ID
	return nil
}

// CloseAttendance implements Writer.
func (m *MemoryStore) CloseAttendance(_ context.Context, id string, out model.CheckPoint, totalMinutes int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.days[id]
	if !ok {
		return ErrNotFound
	}
	if !d.Open() {
		return ErrNotCheckedIn
	}
	d.CheckOut = &out
	d.TotalMinutes = &totalMinutes
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error { return nil }
