// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/points-engine/points"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu           sync.RWMutex
	configs      map[points.ConfigType][]points.Configuration
	activities   map[string]points.Activity
	participants map[string]points.Participant
	entries      map[string][]points.PointEntry
	idempotency  map[string]bool
}

func NewMemory() *Memory {
	return &Memory{
		configs:      make(map[points.ConfigType][]points.Configuration),
		activities:   make(map[string]points.Activity),
		participants: make(map[string]points.Participant),
		entries:      make(map[string][]points.PointEntry),
		idempotency:  make(map[string]bool),
	}
}

// view holds the unlocked implementations shared by Memory and the
// transactional view.
type view struct{ m *Memory }

// -----------------------------------------------------------------------------
// Configurations
// -----------------------------------------------------------------------------

func (v view) activeConfiguration(t points.ConfigType) *points.Configuration {
	var best *points.Configuration
	for i := range v.m.configs[t] {
		c := v.m.configs[t][i]
		if !c.IsActive {
			continue
		}
		if best == nil || c.EffectiveDate.After(best.EffectiveDate) ||
			(c.EffectiveDate.Equal(best.EffectiveDate) && c.Version > best.Version) {
			cc := cloneConfig(c)
			best = &cc
		}
	}
	return best
}

func (v view) latestVersion(t points.ConfigType) int {
	latest := 0
	for _, c := range v.m.configs[t] {
		if c.Version > latest {
			latest = c.Version
		}
	}
	return latest
}

func (v view) insertConfiguration(cfg points.Configuration) error {
	for _, c := range v.m.configs[cfg.Type] {
		if c.Version == cfg.Version || (cfg.IsActive && c.IsActive) {
			return points.ErrConfigConflict
		}
	}
	v.m.configs[cfg.Type] = append(v.m.configs[cfg.Type], cloneConfig(cfg))
	return nil
}

func (v view) deactivate(t points.ConfigType, exceptID string) {
	for i := range v.m.configs[t] {
		if v.m.configs[t][i].ID != exceptID {
			v.m.configs[t][i].IsActive = false
		}
	}
}

func (v view) history(t points.ConfigType) []points.Configuration {
	out := make([]points.Configuration, 0, len(v.m.configs[t]))
	for _, c := range v.m.configs[t] {
		out = append(out, cloneConfig(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	return out
}

func (v view) countActive(t points.ConfigType) int {
	n := 0
	for _, c := range v.m.configs[t] {
		if c.IsActive {
			n++
		}
	}
	return n
}

// -----------------------------------------------------------------------------
// Activities
// -----------------------------------------------------------------------------

func (v view) saveActivity(a points.Activity) error {
	if _, ok := v.m.activities[a.ID]; ok {
		return points.ErrDuplicateID
	}
	v.m.activities[a.ID] = cloneActivity(a)
	return nil
}

func (v view) getActivity(id string) (points.Activity, error) {
	a, ok := v.m.activities[id]
	if !ok {
		return points.Activity{}, points.ErrActivityNotFound
	}
	return cloneActivity(a), nil
}

func (v view) listActivities(f points.ActivityFilter) []points.Activity {
	cats := toSet(f.Categories)
	positions := toSet(f.Positions)

	var out []points.Activity
	for _, a := range v.m.activities {
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if f.ParticipantID != "" && a.ParticipantID != f.ParticipantID {
			continue
		}
		if cats != nil && !cats[a.Category] {
			continue
		}
		if positions != nil && !positions[a.Position] {
			continue
		}
		out = append(out, cloneActivity(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (v view) updateActivityPoints(id string, oldPoints, newPoints int) error {
	a, ok := v.m.activities[id]
	if !ok {
		return points.ErrActivityNotFound
	}
	if a.PointsEarned != oldPoints {
		return points.ErrConcurrentModification
	}
	a.PointsEarned = newPoints
	v.m.activities[id] = a
	return nil
}

func (v view) updateActivityReview(a points.Activity) error {
	cur, ok := v.m.activities[a.ID]
	if !ok {
		return points.ErrActivityNotFound
	}
	cur.Status = a.Status
	cur.PointsEarned = a.PointsEarned
	cur.ReviewedBy = a.ReviewedBy
	cur.ReviewedAt = a.ReviewedAt
	cur.ReviewNote = a.ReviewNote
	cur.UpdatedAt = a.UpdatedAt
	v.m.activities[a.ID] = cur
	return nil
}

// -----------------------------------------------------------------------------
// Participants
// -----------------------------------------------------------------------------

func (v view) saveParticipant(p points.Participant) error {
	if _, ok := v.m.participants[p.ID]; ok {
		return points.ErrDuplicateID
	}
	v.m.participants[p.ID] = p
	return nil
}

func (v view) getParticipant(id string) (points.Participant, error) {
	p, ok := v.m.participants[id]
	if !ok {
		return points.Participant{}, points.ErrParticipantNotFound
	}
	return p, nil
}

func (v view) listParticipants() []points.Participant {
	out := make([]points.Participant, 0, len(v.m.participants))
	for _, p := range v.m.participants {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (v view) adjustTotal(id string, delta int) error {
	p, ok := v.m.participants[id]
	if !ok {
		return points.ErrParticipantNotFound
	}
	p.TotalPoints += delta
	v.m.participants[id] = p
	return nil
}

func (v view) setTotal(id string, total int) error {
	p, ok := v.m.participants[id]
	if !ok {
		return points.ErrParticipantNotFound
	}
	p.TotalPoints = total
	v.m.participants[id] = p
	return nil
}

// -----------------------------------------------------------------------------
// Ledger
// -----------------------------------------------------------------------------

func (v view) appendEntry(e points.PointEntry) error {
	if e.IdempotencyKey != "" && v.m.idempotency[e.IdempotencyKey] {
		return points.ErrDuplicateIdempotencyKey
	}
	v.m.entries[e.ParticipantID] = append(v.m.entries[e.ParticipantID], e)
	if e.IdempotencyKey != "" {
		v.m.idempotency[e.IdempotencyKey] = true
	}
	return nil
}

func (v view) pointEntries(participantID string) []points.PointEntry {
	return append([]points.PointEntry{}, v.m.entries[participantID]...)
}

// =============================================================================
// LOCKED ACCESS - Memory implements points.Store
// =============================================================================

func (m *Memory) ActiveConfiguration(_ context.Context, t points.ConfigType) (*points.Configuration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return view{m}.activeConfiguration(t), nil
}

func (m *Memory) LatestVersion(_ context.Context, t points.ConfigType) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return view{m}.latestVersion(t), nil
}

func (m *Memory) InsertConfiguration(_ context.Context, cfg points.Configuration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return view{m}.insertConfiguration(cfg)
}

func (m *Memory) DeactivateConfigurations(_ context.Context, t points.ConfigType, exceptID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	view{m}.deactivate(t, exceptID)
	return nil
}

func (m *Memory) ConfigurationHistory(_ context.Context, t points.ConfigType) ([]points.Configuration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return view{m}.history(t), nil
}

func (m *Memory) CountActive(_ context.Context, t points.ConfigType) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return view{m}.countActive(t), nil
}

func (m *Memory) SaveActivity(_ context.Context, a points.Activity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return view{m}.saveActivity(a)
}

func (m *Memory) GetActivity(_ context.Context, id string) (points.Activity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return view{m}.getActivity(id)
}

func (m *Memory) ListActivities(_ context.Context, f points.ActivityFilter) ([]points.Activity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return view{m}.listActivities(f), nil
}

func (m *Memory) UpdateActivityPoints(_ context.Context, id string, oldPoints, newPoints int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return view{m}.updateActivityPoints(id, oldPoints, newPoints)
}

func (m *Memory) UpdateActivityReview(_ context.Context, a points.Activity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return view{m}.updateActivityReview(a)
}

func (m *Memory) SaveParticipant(_ context.Context, p points.Participant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return view{m}.saveParticipant(p)
}

func (m *Memory) GetParticipant(_ context.Context, id string) (points.Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return view{m}.getParticipant(id)
}

func (m *Memory) ListParticipants(_ context.Context) ([]points.Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return view{m}.listParticipants(), nil
}

func (m *Memory) AdjustParticipantTotal(_ context.Context, id string, delta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return view{m}.adjustTotal(id, delta)
}

func (m *Memory) SetParticipantTotal(_ context.Context, id string, total int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return view{m}.setTotal(id, total)
}

func (m *Memory) AppendPointEntry(_ context.Context, e points.PointEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return view{m}.appendEntry(e)
}

func (m *Memory) PointEntries(_ context.Context, participantID string) ([]points.PointEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return view{m}.pointEntries(participantID), nil
}

// Reset clears all data (for testing/demo).
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs = make(map[points.ConfigType][]points.Configuration)
	m.activities = make(map[string]points.Activity)
	m.participants = make(map[string]points.Participant)
	m.entries = make(map[string][]points.PointEntry)
	m.idempotency = make(map[string]bool)
	return nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// Transactions are serialized by the store mutex.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(points.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()

	if err := fn(&txMemoryView{v: view{tm.Memory}}); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	configs      map[points.ConfigType][]points.Configuration
	activities   map[string]points.Activity
	participants map[string]points.Participant
	entries      map[string][]points.PointEntry
	idempotency  map[string]bool
}

func (tm *TxMemory) snapshot() memorySnapshot {
	s := memorySnapshot{
		configs:      make(map[points.ConfigType][]points.Configuration, len(tm.configs)),
		activities:   make(map[string]points.Activity, len(tm.activities)),
		participants: make(map[string]points.Participant, len(tm.participants)),
		entries:      make(map[string][]points.PointEntry, len(tm.entries)),
		idempotency:  make(map[string]bool, len(tm.idempotency)),
	}
	for k, v := range tm.configs {
		s.configs[k] = append([]points.Configuration{}, v...)
	}
	for k, v := range tm.activities {
		s.activities[k] = v
	}
	for k, v := range tm.participants {
		s.participants[k] = v
	}
	for k, v := range tm.entries {
		s.entries[k] = append([]points.PointEntry{}, v...)
	}
	for k, v := range tm.idempotency {
		s.idempotency[k] = v
	}
	return s
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.configs = s.configs
	tm.activities = s.activities
	tm.participants = s.participants
	tm.entries = s.entries
	tm.idempotency = s.idempotency
}

// txMemoryView is the points.Store handed to WithTx callbacks. The parent
// lock is already held.
type txMemoryView struct {
	v view
}

func (tv *txMemoryView) ActiveConfiguration(_ context.Context, t points.ConfigType) (*points.Configuration, error) {
	return tv.v.activeConfiguration(t), nil
}

func (tv *txMemoryView) LatestVersion(_ context.Context, t points.ConfigType) (int, error) {
	return tv.v.latestVersion(t), nil
}

func (tv *txMemoryView) InsertConfiguration(_ context.Context, cfg points.Configuration) error {
	return tv.v.insertConfiguration(cfg)
}

func (tv *txMemoryView) DeactivateConfigurations(_ context.Context, t points.ConfigType, exceptID string) error {
	tv.v.deactivate(t, exceptID)
	return nil
}

func (tv *txMemoryView) ConfigurationHistory(_ context.Context, t points.ConfigType) ([]points.Configuration, error) {
	return tv.v.history(t), nil
}

func (tv *txMemoryView) CountActive(_ context.Context, t points.ConfigType) (int, error) {
	return tv.v.countActive(t), nil
}

func (tv *txMemoryView) SaveActivity(_ context.Context, a points.Activity) error {
	return tv.v.saveActivity(a)
}

func (tv *txMemoryView) GetActivity(_ context.Context, id string) (points.Activity, error) {
	return tv.v.getActivity(id)
}

func (tv *txMemoryView) ListActivities(_ context.Context, f points.ActivityFilter) ([]points.Activity, error) {
	return tv.v.listActivities(f), nil
}

func (tv *txMemoryView) UpdateActivityPoints(_ context.Context, id string, oldPoints, newPoints int) error {
	return tv.v.updateActivityPoints(id, oldPoints, newPoints)
}

func (tv *txMemoryView) UpdateActivityReview(_ context.Context, a points.Activity) error {
	return tv.v.updateActivityReview(a)
}

func (tv *txMemoryView) SaveParticipant(_ context.Context, p points.Participant) error {
	return tv.v.saveParticipant(p)
}

func (tv *txMemoryView) GetParticipant(_ context.Context, id string) (points.Participant, error) {
	return tv.v.getParticipant(id)
}

func (tv *txMemoryView) ListParticipants(_ context.Context) ([]points.Participant, error) {
	return tv.v.listParticipants(), nil
}

func (tv *txMemoryView) AdjustParticipantTotal(_ context.Context, id string, delta int) error {
	return tv.v.adjustTotal(id, delta)
}

func (tv *txMemoryView) SetParticipantTotal(_ context.Context, id string, total int) error {
	return tv.v.setTotal(id, total)
}

func (tv *txMemoryView) AppendPointEntry(_ context.Context, e points.PointEntry) error {
	return tv.v.appendEntry(e)
}

func (tv *txMemoryView) PointEntries(_ context.Context, participantID string) ([]points.PointEntry, error) {
	return tv.v.pointEntries(participantID), nil
}

// =============================================================================
// HELPERS
// =============================================================================

func cloneConfig(c points.Configuration) points.Configuration {
	c.Payload = points.ClonePayload(c.Payload)
	return c
}

func cloneActivity(a points.Activity) points.Activity {
	if a.Answers != nil {
		answers := make(map[string]any, len(a.Answers))
		for k, v := range a.Answers {
			answers[k] = v
		}
		a.Answers = answers
	}
	if a.ReviewedAt != nil {
		t := *a.ReviewedAt
		a.ReviewedAt = &t
	}
	return a
}

func toSet(values []string) map[string]bool {
	if len(values) == 0 {
		return nil
	}
	s := make(map[string]bool, len(values))
	for _, v := range values {
		s[v] = true
	}
	return s
}
