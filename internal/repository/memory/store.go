// Package memory is an in-process implementation of the repository ports.
// Transactions work on a deep copy of the data and are swapped in on commit,
// so a failed callback leaves no trace. Transactions are serialized.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"projectflow/internal/apperr"
	"projectflow/internal/model"
	"projectflow/internal/repository"
	"projectflow/pkg/outbox"
)

type data struct {
	states      map[string]*model.ProjectPhaseState
	transitions []*model.PhaseTransitionRecord
	gates       map[string]*model.QualityGate // items embedded, defects not
	gateSeq     map[string]int64
	itemGate    map[string]string
	defects     map[string]*model.Defect
	defectSeq   map[string]int64
	events      []*outbox.Event
	seq         int64
	eventSeq    int64
}

func newData() *data {
	return &data{
		states:    map[string]*model.ProjectPhaseState{},
		gates:     map[string]*model.QualityGate{},
		gateSeq:   map[string]int64{},
		itemGate:  map[string]string{},
		defects:   map[string]*model.Defect{},
		defectSeq: map[string]int64{},
	}
}

func (d *data) clone() *data {
	c := newData()
	for k, v := range d.states {
		c.states[k] = v.Clone()
	}
	c.transitions = make([]*model.PhaseTransitionRecord, len(d.transitions))
	for i, r := range d.transitions {
		c.transitions[i] = r.Clone()
	}
	for k, v := range d.gates {
		c.gates[k] = v.Clone()
	}
	for k, v := range d.gateSeq {
		c.gateSeq[k] = v
	}
	for k, v := range d.itemGate {
		c.itemGate[k] = v
	}
	for k, v := range d.defects {
		c.defects[k] = v.Clone()
	}
	for k, v := range d.defectSeq {
		c.defectSeq[k] = v
	}
	c.events = make([]*outbox.Event, len(d.events))
	for i, e := range d.events {
		c.events[i] = cloneEvent(e)
	}
	c.seq = d.seq
	c.eventSeq = d.eventSeq
	return c
}

func cloneEvent(e *outbox.Event) *outbox.Event {
	c := *e
	c.Payload = append([]byte{}, e.Payload...)
	if e.AggregateID != nil {
		id := *e.AggregateID
		c.AggregateID = &id
	}
	if e.NextRetryAt != nil {
		t := *e.NextRetryAt
		c.NextRetryAt = &t
	}
	return &c
}

type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	data *data
	now  func() time.Time
}

var (
	_ repository.Store = (*Store)(nil)
	_ outbox.Store     = (*Store)(nil)
)

func NewStore() *Store {
	return &Store{data: newData(), now: time.Now}
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, q repository.Queries) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	work := s.data.clone()
	s.mu.RUnlock()

	if err := fn(ctx, &queries{d: work}); err != nil {
		return err
	}

	s.mu.Lock()
	s.data = work
	s.mu.Unlock()
	return nil
}

func (s *Store) Ping(context.Context) error { return nil }

// snapshot returns read-only queries over committed data. Committed data is
// never mutated in place, only replaced.
func (s *Store) snapshot() *queries {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &queries{d: s.data}
}

func (s *Store) write(ctx context.Context, fn func(q *queries) error) error {
	return s.InTx(ctx, func(_ context.Context, q repository.Queries) error {
		return fn(q.(*queries))
	})
}

func (s *Store) GetPhaseState(ctx context.Context, projectID string) (*model.ProjectPhaseState, error) {
	return s.snapshot().GetPhaseState(ctx, projectID)
}

func (s *Store) LockPhaseState(ctx context.Context, projectID string) (*model.ProjectPhaseState, error) {
	return s.snapshot().GetPhaseState(ctx, projectID)
}

func (s *Store) CreatePhaseStateIfAbsent(ctx context.Context, state *model.ProjectPhaseState) (bool, error) {
	var created bool
	err := s.write(ctx, func(q *queries) error {
		var err error
		created, err = q.CreatePhaseStateIfAbsent(ctx, state)
		return err
	})
	return created, err
}

func (s *Store) UpdatePhaseState(ctx context.Context, state *model.ProjectPhaseState) error {
	return s.write(ctx, func(q *queries) error { return q.UpdatePhaseState(ctx, state) })
}

func (s *Store) InsertTransition(ctx context.Context, rec *model.PhaseTransitionRecord) error {
	return s.write(ctx, func(q *queries) error { return q.InsertTransition(ctx, rec) })
}

func (s *Store) ListTransitions(ctx context.Context, projectID string) ([]*model.PhaseTransitionRecord, error) {
	return s.snapshot().ListTransitions(ctx, projectID)
}

func (s *Store) InsertGate(ctx context.Context, gate *model.QualityGate) error {
	return s.write(ctx, func(q *queries) error { return q.InsertGate(ctx, gate) })
}

func (s *Store) GetGate(ctx context.Context, gateID string) (*model.QualityGate, error) {
	return s.snapshot().GetGate(ctx, gateID)
}

func (s *Store) LockGate(ctx context.Context, gateID string) (*model.QualityGate, error) {
	return s.snapshot().GetGate(ctx, gateID)
}

func (s *Store) UpdateGate(ctx context.Context, gate *model.QualityGate) error {
	return s.write(ctx, func(q *queries) error { return q.UpdateGate(ctx, gate) })
}

func (s *Store) GetGateItem(ctx context.Context, itemID string) (*model.QualityGateItem, error) {
	return s.snapshot().GetGateItem(ctx, itemID)
}

func (s *Store) UpdateGateItem(ctx context.Context, item *model.QualityGateItem) error {
	return s.write(ctx, func(q *queries) error { return q.UpdateGateItem(ctx, item) })
}

func (s *Store) ListGatesByProject(ctx context.Context, projectID string) ([]*model.QualityGate, error) {
	return s.snapshot().ListGatesByProject(ctx, projectID)
}

func (s *Store) FindLatestGate(ctx context.Context, projectID string, phase model.Phase, gateType model.GateType) (*model.QualityGate, error) {
	return s.snapshot().FindLatestGate(ctx, projectID, phase, gateType)
}

func (s *Store) InsertDefect(ctx context.Context, d *model.Defect) error {
	return s.write(ctx, func(q *queries) error { return q.InsertDefect(ctx, d) })
}

func (s *Store) GetDefect(ctx context.Context, defectID string) (*model.Defect, error) {
	return s.snapshot().GetDefect(ctx, defectID)
}

func (s *Store) LockDefect(ctx context.Context, defectID string) (*model.Defect, error) {
	return s.snapshot().GetDefect(ctx, defectID)
}

func (s *Store) UpdateDefect(ctx context.Context, d *model.Defect) error {
	return s.write(ctx, func(q *queries) error { return q.UpdateDefect(ctx, d) })
}

func (s *Store) ListDefects(ctx context.Context, projectID string, filter model.DefectFilter) ([]*model.Defect, error) {
	return s.snapshot().ListDefects(ctx, projectID, filter)
}

func (s *Store) EnqueueEvent(ctx context.Context, event *outbox.Event) error {
	return s.write(ctx, func(q *queries) error { return q.EnqueueEvent(ctx, event) })
}

// Events returns every outbox event in insertion order. Used by tests.
func (s *Store) Events() []*outbox.Event {
	d := s.snapshot().d
	out := make([]*outbox.Event, len(d.events))
	for i, e := range d.events {
		out[i] = cloneEvent(e)
	}
	return out
}

func (s *Store) GetPendingEvents(_ context.Context, limit int) ([]*outbox.Event, error) {
	now := s.now()
	var out []*outbox.Event
	for _, e := range s.snapshot().d.events {
		if e.Status != outbox.StatusPending || (e.NextRetryAt != nil && e.NextRetryAt.After(now)) {
			continue
		}
		out = append(out, cloneEvent(e))
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) GetFailedEvents(_ context.Context, limit int) ([]*outbox.Event, error) {
	var out []*outbox.Event
	for _, e := range s.snapshot().d.events {
		if e.Status == outbox.StatusFailed {
			out = append(out, cloneEvent(e))
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *Store) GetEventByID(_ context.Context, eventID int64) (*outbox.Event, error) {
	for _, e := range s.snapshot().d.events {
		if e.ID == eventID {
			return cloneEvent(e), nil
		}
	}
	return nil, outbox.ErrEventNotFound
}

func (s *Store) MarkAsSent(ctx context.Context, eventID int64) error {
	return s.write(ctx, func(q *queries) error {
		e, err := q.event(eventID)
		if err != nil {
			return err
		}
		e.Status = outbox.StatusSent
		e.UpdatedAt = s.now()
		return nil
	})
}

func (s *Store) MarkAsFailed(ctx context.Context, eventID int64, maxRetries int) error {
	return s.write(ctx, func(q *queries) error {
		e, err := q.event(eventID)
		if err != nil {
			return err
		}
		now := s.now()
		e.RetryCount++
		e.UpdatedAt = now
		if e.RetryCount >= maxRetries {
			e.Status = outbox.StatusFailed
			e.NextRetryAt = nil
			return nil
		}
		e.Status = outbox.StatusPending
		next := now.Add(outbox.NextRetryDelay(e.RetryCount))
		e.NextRetryAt = &next
		return nil
	})
}

type queries struct {
	d *data
}

func (q *queries) nextSeq() int64 {
	q.d.seq++
	return q.d.seq
}

func (q *queries) event(id int64) (*outbox.Event, error) {
	for _, e := range q.d.events {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, outbox.ErrEventNotFound
}

func (q *queries) GetPhaseState(_ context.Context, projectID string) (*model.ProjectPhaseState, error) {
	s, ok := q.d.states[projectID]
	if !ok {
		return nil, apperr.NotFound("project phase state", projectID)
	}
	return s.Clone(), nil
}

func (q *queries) LockPhaseState(ctx context.Context, projectID string) (*model.ProjectPhaseState, error) {
	return q.GetPhaseState(ctx, projectID)
}

func (q *queries) CreatePhaseStateIfAbsent(_ context.Context, s *model.ProjectPhaseState) (bool, error) {
	if _, ok := q.d.states[s.ProjectID]; ok {
		return false, nil
	}
	q.d.states[s.ProjectID] = s.Clone()
	return true, nil
}

func (q *queries) UpdatePhaseState(_ context.Context, s *model.ProjectPhaseState) error {
	cur, ok := q.d.states[s.ProjectID]
	if !ok || cur.Version != s.Version {
		return repository.ErrVersionConflict
	}
	s.Version++
	q.d.states[s.ProjectID] = s.Clone()
	return nil
}

func (q *queries) InsertTransition(_ context.Context, rec *model.PhaseTransitionRecord) error {
	q.d.transitions = append(q.d.transitions, rec.Clone())
	return nil
}

func (q *queries) ListTransitions(_ context.Context, projectID string) ([]*model.PhaseTransitionRecord, error) {
	out := []*model.PhaseTransitionRecord{}
	for _, r := range q.d.transitions {
		if r.ProjectID == projectID {
			out = append(out, r.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TriggeredAt.Before(out[j].TriggeredAt) })
	return out, nil
}

func (q *queries) InsertGate(_ context.Context, g *model.QualityGate) error {
	c := g.Clone()
	c.Defects = nil
	q.d.gates[g.ID] = c
	q.d.gateSeq[g.ID] = q.nextSeq()
	for _, item := range g.Items {
		q.d.itemGate[item.ID] = g.ID
	}
	return nil
}

// withDefects returns a copy of g with its linked defects attached.
func (q *queries) withDefects(g *model.QualityGate) *model.QualityGate {
	c := g.Clone()
	c.Defects = []model.Defect{}
	for _, d := range q.sortedDefects() {
		if d.QualityGateID != nil && *d.QualityGateID == g.ID {
			c.Defects = append(c.Defects, *d.Clone())
		}
	}
	return c
}

func (q *queries) GetGate(_ context.Context, gateID string) (*model.QualityGate, error) {
	g, ok := q.d.gates[gateID]
	if !ok {
		return nil, apperr.NotFound("quality gate", gateID)
	}
	return q.withDefects(g), nil
}

func (q *queries) LockGate(ctx context.Context, gateID string) (*model.QualityGate, error) {
	return q.GetGate(ctx, gateID)
}

func (q *queries) UpdateGate(_ context.Context, g *model.QualityGate) error {
	cur, ok := q.d.gates[g.ID]
	if !ok {
		return apperr.NotFound("quality gate", g.ID)
	}
	cur.InspectorID = g.InspectorID
	cur.Status = g.Status
	cur.InspectionDate = g.InspectionDate
	cur.Passed = g.Passed
	cur.Comments = g.Comments
	cur.FinalizedBy = g.FinalizedBy
	cur.UpdatedAt = g.UpdatedAt
	// detach from the caller's pointers
	q.d.gates[g.ID] = cur.Clone()
	return nil
}

func (q *queries) findItem(itemID string) (*model.QualityGate, int, bool) {
	gateID, ok := q.d.itemGate[itemID]
	if !ok {
		return nil, 0, false
	}
	g := q.d.gates[gateID]
	for i := range g.Items {
		if g.Items[i].ID == itemID {
			return g, i, true
		}
	}
	return nil, 0, false
}

func (q *queries) GetGateItem(_ context.Context, itemID string) (*model.QualityGateItem, error) {
	g, i, ok := q.findItem(itemID)
	if !ok {
		return nil, apperr.NotFound("checklist item", itemID)
	}
	return g.Items[i].Clone(), nil
}

func (q *queries) UpdateGateItem(_ context.Context, item *model.QualityGateItem) error {
	g, i, ok := q.findItem(item.ID)
	if !ok {
		return apperr.NotFound("checklist item", item.ID)
	}
	g.Items[i] = *item.Clone()
	return nil
}

func (q *queries) ListGatesByProject(_ context.Context, projectID string) ([]*model.QualityGate, error) {
	out := []*model.QualityGate{}
	for _, g := range q.d.gates {
		if g.ProjectID == projectID {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Phase != out[j].Phase {
			return out[i].Phase < out[j].Phase
		}
		return q.d.gateSeq[out[i].ID] < q.d.gateSeq[out[j].ID]
	})
	for i, g := range out {
		out[i] = q.withDefects(g)
	}
	return out, nil
}

func (q *queries) FindLatestGate(_ context.Context, projectID string, phase model.Phase, gateType model.GateType) (*model.QualityGate, error) {
	var latest *model.QualityGate
	for _, g := range q.d.gates {
		if g.ProjectID != projectID || g.Phase != phase || g.GateType != gateType {
			continue
		}
		if latest == nil || q.d.gateSeq[g.ID] > q.d.gateSeq[latest.ID] {
			latest = g
		}
	}
	if latest == nil {
		return nil, apperr.NotFound("quality gate", projectID+"/"+phase.Name()+"/"+string(gateType))
	}
	c := latest.Clone()
	c.Items = []model.QualityGateItem{}
	c.Defects = []model.Defect{}
	return c, nil
}

func (q *queries) sortedDefects() []*model.Defect {
	out := make([]*model.Defect, 0, len(q.d.defects))
	for _, d := range q.d.defects {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return q.d.defectSeq[out[i].ID] < q.d.defectSeq[out[j].ID] })
	return out
}

func (q *queries) InsertDefect(_ context.Context, d *model.Defect) error {
	q.d.defects[d.ID] = d.Clone()
	q.d.defectSeq[d.ID] = q.nextSeq()
	return nil
}

func (q *queries) GetDefect(_ context.Context, defectID string) (*model.Defect, error) {
	d, ok := q.d.defects[defectID]
	if !ok {
		return nil, apperr.NotFound("defect", defectID)
	}
	return d.Clone(), nil
}

func (q *queries) LockDefect(ctx context.Context, defectID string) (*model.Defect, error) {
	return q.GetDefect(ctx, defectID)
}

func (q *queries) UpdateDefect(_ context.Context, d *model.Defect) error {
	if _, ok := q.d.defects[d.ID]; !ok {
		return apperr.NotFound("defect", d.ID)
	}
	q.d.defects[d.ID] = d.Clone()
	return nil
}

func (q *queries) ListDefects(_ context.Context, projectID string, filter model.DefectFilter) ([]*model.Defect, error) {
	out := []*model.Defect{}
	for _, d := range q.sortedDefects() {
		if d.ProjectID != projectID {
			continue
		}
		if filter.Status != "" && d.Status != filter.Status {
			continue
		}
		if filter.QualityGateID != "" && (d.QualityGateID == nil || *d.QualityGateID != filter.QualityGateID) {
			continue
		}
		out = append(out, d.Clone())
	}
	return out, nil
}

func (q *queries) EnqueueEvent(_ context.Context, event *outbox.Event) error {
	q.d.eventSeq++
	event.ID = q.d.eventSeq
	if event.Status == "" {
		event.Status = outbox.StatusPending
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
		event.UpdatedAt = event.CreatedAt
	}
	q.d.events = append(q.d.events, cloneEvent(event))
	return nil
}
