// Package memory is an in-process store with the same behaviour as the
// Postgres store. It backs tests and local dry runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spigell/interview-advancer/internal/errors"
	"github.com/spigell/interview-advancer/internal/model"
)

type WebhookPayload struct {
	Action     string
	ScheduleID string
	Payload    []byte
	ReceivedAt time.Time
}

type Store struct {
	mu         sync.RWMutex
	schedules  map[string]model.Schedule
	events     map[string][]model.Event
	feedback   map[string]model.Feedback
	rules      map[string]model.Rule
	executions []model.Execution
	payloads   []WebhookPayload

	// FailCommit makes CommitDecision fail, for exercising persistence errors.
	FailCommit error
	// FailFeedback makes StoreFeedback fail without storing anything.
	FailFeedback error
}

func New() *Store {
	return &Store{
		schedules: map[string]model.Schedule{},
		events:    map[string][]model.Event{},
		feedback:  map[string]model.Feedback{},
		rules:     map[string]model.Rule{},
	}
}

func (s *Store) Ping(context.Context) error { return nil }

func copySchedule(in model.Schedule) *model.Schedule {
	out := in
	if in.JobID != nil {
		v := *in.JobID
		out.JobID = &v
	}
	if in.PlanID != nil {
		v := *in.PlanID
		out.PlanID = &v
	}
	if in.LastEvaluatedAt != nil {
		v := *in.LastEvaluatedAt
		out.LastEvaluatedAt = &v
	}
	return &out
}

func copyEvents(in []model.Event) []model.Event {
	out := make([]model.Event, len(in))
	for i, ev := range in {
		out[i] = model.Event{ID: ev.ID, InterviewID: ev.InterviewID, Interviewers: append([]string(nil), ev.Interviewers...)}
	}
	return out
}

func (s *Store) GetSchedule(_ context.Context, id string) (*model.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sched, ok := s.schedules[id]
	if !ok {
		return nil, errors.NewNotFoundError("schedule %s", id)
	}
	return copySchedule(sched), nil
}

// PutSchedule stores a schedule as is, bypassing ordering checks.
func (s *Store) PutSchedule(sched model.Schedule, events []model.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.schedules[sched.ID] = *copySchedule(sched)
	s.events[sched.ID] = copyEvents(events)
}

func (s *Store) ReplaceSchedule(_ context.Context, sched *model.Schedule, events []model.Event, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := *copySchedule(*sched)
	next.UpdatedAt = now
	next.CreatedAt = now
	next.LastEvaluatedAt = nil

	if prev, ok := s.schedules[sched.ID]; ok {
		if sched.SourceUpdatedAt.Before(prev.SourceUpdatedAt) {
			return false, nil
		}
		if !prev.SourceUpdatedAt.Before(sched.SourceUpdatedAt) {
			next.UpdatedAt = prev.UpdatedAt
		}
		if next.JobID == nil {
			next.JobID = prev.JobID
		}
		if next.PlanID == nil {
			next.PlanID = prev.PlanID
		}
		next.CreatedAt = prev.CreatedAt
		next.LastEvaluatedAt = prev.LastEvaluatedAt
	}

	s.schedules[sched.ID] = next
	s.events[sched.ID] = copyEvents(events)

	return true, nil
}

func (s *Store) DeleteSchedule(_ context.Context, id string, sourceUpdatedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.schedules[id]
	if !ok || prev.SourceUpdatedAt.After(sourceUpdatedAt) {
		return false, nil
	}

	delete(s.schedules, id)
	delete(s.events, id)

	return true, nil
}

func (s *Store) filterSchedules(keep func(model.Schedule) bool) []*model.Schedule {
	var out []*model.Schedule
	for _, sched := range s.schedules {
		if keep(sched) {
			out = append(out, copySchedule(sched))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.Before(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Store) ListEvaluable(_ context.Context, cutoff time.Time) ([]*model.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.filterSchedules(func(sched model.Schedule) bool {
		return sched.Status.Evaluable() && sched.NeedsEvaluation() && sched.UpdatedAt.After(cutoff)
	}), nil
}

func (s *Store) ListSchedulesByApplication(_ context.Context, applicationID string) ([]*model.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.filterSchedules(func(sched model.Schedule) bool {
		return sched.ApplicationID == applicationID
	}), nil
}

func (s *Store) ListUnresolved(_ context.Context, cutoff time.Time, limit int) ([]*model.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := s.filterSchedules(func(sched model.Schedule) bool {
		return !sched.Resolved() && sched.UpdatedAt.After(cutoff)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) SetScheduleMetadata(_ context.Context, id string, planID, jobID *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sched, ok := s.schedules[id]
	if !ok {
		return nil
	}
	if planID != nil {
		v := *planID
		sched.PlanID = &v
	}
	if jobID != nil {
		v := *jobID
		sched.JobID = &v
	}
	s.schedules[id] = sched

	return nil
}

func (s *Store) ListEvents(_ context.Context, scheduleID string) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return copyEvents(s.events[scheduleID]), nil
}

func (s *Store) touchApplication(applicationID string, now time.Time) {
	for id, sched := range s.schedules {
		if sched.ApplicationID == applicationID {
			sched.UpdatedAt = now
			s.schedules[id] = sched
		}
	}
}

func (s *Store) ListActiveApplicationIDs(_ context.Context, cutoff time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := map[string]struct{}{}
	for _, sched := range s.schedules {
		if sched.Status.Evaluable() && sched.UpdatedAt.After(cutoff) {
			seen[sched.ApplicationID] = struct{}{}
		}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return ids, nil
}

func (s *Store) EventExists(_ context.Context, eventID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, events := range s.events {
		for _, ev := range events {
			if ev.ID == eventID {
				return true, nil
			}
		}
	}
	return false, nil
}

// InsertFeedback stores one submission without touching any schedule.
func (s *Store) InsertFeedback(_ context.Context, fb model.Feedback) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.feedback[fb.ID]; ok {
		return false, nil
	}
	fb.ProcessedAt = nil
	s.feedback[fb.ID] = fb

	return true, nil
}

// StoreFeedback inserts the batch and, when anything was new, touches the
// application's schedules. Nothing changes when it fails.
func (s *Store) StoreFeedback(_ context.Context, applicationID string, batch []model.Feedback, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailFeedback != nil {
		return 0, errors.NewPersistenceError(s.FailFeedback, "storing feedback")
	}

	inserted := 0
	for _, fb := range batch {
		if _, ok := s.feedback[fb.ID]; ok {
			continue
		}
		fb.ProcessedAt = nil
		s.feedback[fb.ID] = fb
		inserted++
	}
	if inserted > 0 {
		s.touchApplication(applicationID, now)
	}

	return inserted, nil
}

func (s *Store) ListFeedbackForSchedule(_ context.Context, scheduleID string) ([]model.Feedback, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	eventIDs := map[string]struct{}{}
	for _, ev := range s.events[scheduleID] {
		eventIDs[ev.ID] = struct{}{}
	}

	var out []model.Feedback
	for _, fb := range s.feedback {
		if _, ok := eventIDs[fb.EventID]; ok {
			out = append(out, fb)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.Before(out[j].SubmittedAt)
		}
		return out[i].ID < out[j].ID
	})

	return out, nil
}

// Feedback returns a stored submission, for assertions.
func (s *Store) Feedback(id string) (model.Feedback, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fb, ok := s.feedback[id]
	return fb, ok
}

func (s *Store) ListActiveRules(_ context.Context, planID, stageID string) ([]model.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Rule
	for _, r := range s.rules {
		if r.Active && r.PlanID == planID && r.StageID == stageID {
			out = append(out, r)
		}
	}
	sortRules(out)

	return out, nil
}

func (s *Store) ListRules(_ context.Context, all bool) ([]model.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Rule
	for _, r := range s.rules {
		if all || r.Active {
			out = append(out, r)
		}
	}
	sortRules(out)

	return out, nil
}

func sortRules(rules []model.Rule) {
	sort.Slice(rules, func(i, j int) bool {
		if !rules[i].CreatedAt.Equal(rules[j].CreatedAt) {
			return rules[i].CreatedAt.After(rules[j].CreatedAt)
		}
		return rules[i].ID < rules[j].ID
	})
}

func (s *Store) GetRule(_ context.Context, id string) (*model.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rules[id]
	if !ok {
		return nil, errors.NewNotFoundError("rule %s", id)
	}
	return &r, nil
}

func (s *Store) CreateRule(_ context.Context, r *model.Rule, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	for i := range r.Requirements {
		if r.Requirements[i].ID == "" {
			r.Requirements[i].ID = uuid.NewString()
		}
	}
	for i := range r.Actions {
		if r.Actions[i].ID == "" {
			r.Actions[i].ID = uuid.NewString()
		}
	}
	s.rules[r.ID] = *r

	return nil
}

func (s *Store) DeactivateRule(_ context.Context, id string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rules[id]
	if !ok || !r.Active {
		return errors.NewNotFoundError("active rule %s", id)
	}
	r.Active = false
	s.rules[id] = r

	return nil
}

func (s *Store) CommitDecision(_ context.Context, d *model.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailCommit != nil {
		return errors.NewPersistenceError(s.FailCommit, "committing decision")
	}

	if d.Execution.ID == "" {
		d.Execution.ID = uuid.NewString()
	}
	s.executions = append(s.executions, d.Execution)

	if sched, ok := s.schedules[d.Execution.ScheduleID]; ok {
		if sched.LastEvaluatedAt == nil || d.EvaluatedAt.After(*sched.LastEvaluatedAt) {
			at := d.EvaluatedAt
			sched.LastEvaluatedAt = &at
			s.schedules[sched.ID] = sched
		}
	}

	for _, id := range d.FeedbackIDs {
		fb, ok := s.feedback[id]
		if ok && fb.ProcessedAt == nil {
			at := d.EvaluatedAt
			fb.ProcessedAt = &at
			s.feedback[id] = fb
		}
	}

	return nil
}

func (s *Store) AppendExecution(_ context.Context, e *model.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	s.executions = append(s.executions, *e)

	return nil
}

func (s *Store) ListExecutions(_ context.Context, scheduleID string) ([]model.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Execution
	for _, e := range s.executions {
		if e.ScheduleID == scheduleID {
			out = append(out, e)
		}
	}
	return out, nil
}

// Executions returns every audit record in insertion order.
func (s *Store) Executions() []model.Execution {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]model.Execution(nil), s.executions...)
}

func (s *Store) Stats(_ context.Context, since, staleCutoff time.Time) (*model.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &model.Stats{Since: since, ByStatus: map[model.ExecutionStatus]int{}}
	for _, e := range s.executions {
		if e.ExecutedAt.Before(since) {
			continue
		}
		stats.ByStatus[e.Status]++
		if e.Status == model.ExecutionFailed {
			stats.RecentFailures = append(stats.RecentFailures, e)
		}
	}

	for _, sched := range s.schedules {
		if sched.Status.Evaluable() && sched.NeedsEvaluation() && sched.UpdatedAt.After(staleCutoff) {
			stats.PendingEvaluations++
		}
	}

	for _, r := range s.rules {
		if r.Active {
			stats.ActiveRules++
		}
	}

	return stats, nil
}

func (s *Store) SaveWebhookPayload(_ context.Context, action, scheduleID string, payload []byte, receivedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.payloads = append(s.payloads, WebhookPayload{
		Action:     action,
		ScheduleID: scheduleID,
		Payload:    append([]byte(nil), payload...),
		ReceivedAt: receivedAt,
	})
	return nil
}

func (s *Store) WebhookPayloads() []WebhookPayload {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]WebhookPayload(nil), s.payloads...)
}
