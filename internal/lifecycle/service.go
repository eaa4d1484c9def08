package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"dispatchd/internal/domain"
	"dispatchd/internal/scheduler"
	"dispatchd/internal/store"
	"dispatchd/internal/worker"
)

// Scheduler is the part of the scheduler engine the lifecycle drives.
type Scheduler interface {
	Arm(m domain.Message) error
	Disarm(id string) error
	// Lock serializes work on one id with the scheduler's own sweep.
	Lock(id string) (unlock func())
}

// Service validates and applies create, update, cancel and retry requests,
// keeping the stored record and its live timer in step.
type Service struct {
	repo  store.Repository
	sched Scheduler
	clock clockwork.Clock
	loc   *time.Location
}

func New(repo store.Repository, sched Scheduler, clock clockwork.Clock, loc *time.Location) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Service{repo: repo, sched: sched, clock: clock, loc: loc}
}

type CreateRequest struct {
	Content       string               `json:"message"`
	Date          string               `json:"day"`
	Time          string               `json:"time"`
	Recipient     string               `json:"recipient"`
	RecipientType domain.RecipientType `json:"recipientType"`
	Priority      domain.Priority      `json:"priority"`
	Metadata      domain.Metadata      `json:"metadata"`
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (domain.Message, error) {
	if strings.TrimSpace(req.Content) == "" || strings.TrimSpace(req.Date) == "" || strings.TrimSpace(req.Time) == "" {
		return domain.Message{}, domain.Invalid("", "message, day, and time are required")
	}
	content, err := domain.ValidateContent(req.Content)
	if err != nil {
		return domain.Message{}, err
	}
	hhmm, err := domain.NormalizeClock(req.Time)
	if err != nil {
		return domain.Message{}, err
	}
	date, err := domain.ParseDate(req.Date)
	if err != nil {
		return domain.Message{}, err
	}
	rt := req.RecipientType
	if rt == "" {
		rt = domain.RecipientInternal
	}
	if !rt.Valid() {
		return domain.Message{}, domain.Invalid("recipientType", fmt.Sprintf("unknown recipient type %q", rt))
	}
	pri := req.Priority
	if pri == "" {
		pri = domain.PriorityMedium
	}
	if !pri.Valid() {
		return domain.Message{}, domain.Invalid("priority", fmt.Sprintf("unknown priority %q", pri))
	}

	now := s.clock.Now()
	fireAt, err := s.futureInstant(date, hhmm, now)
	if err != nil {
		return domain.Message{}, err
	}

	m, err := s.repo.Create(ctx, domain.Message{
		Content:       content,
		ScheduledDate: date,
		ScheduledTime: hhmm,
		FireAt:        fireAt,
		Status:        domain.StatusPending,
		Recipient:     strings.TrimSpace(req.Recipient),
		RecipientType: rt,
		Priority:      pri,
		Metadata:      trimMetadata(req.Metadata),
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		return domain.Message{}, fmt.Errorf("persist message: %w", err)
	}

	unlock := s.sched.Lock(m.ID)
	defer unlock()
	if err := s.sched.Arm(m); err != nil {
		if derr := s.repo.Delete(ctx, m.ID); derr != nil {
			log.Error().Err(derr).Str("message_id", m.ID).Msg("roll back unarmed message")
		}
		return domain.Message{}, fmt.Errorf("arm message: %w", err)
	}
	log.Info().Str("message_id", m.ID).Time("fire_at", fireAt).Msg("scheduled message created")
	return m, nil
}

func (s *Service) Get(ctx context.Context, id string) (domain.Message, error) {
	return s.repo.Get(ctx, id)
}

// Update applies patch to a message that has not been sent. The timer is
// disarmed first and re-armed if the result is still pending.
func (s *Service) Update(ctx context.Context, id string, patch domain.Patch) (domain.Message, error) {
	unlock := s.sched.Lock(id)
	defer unlock()

	cur, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.Message{}, err
	}
	if cur.Status == domain.StatusSent {
		return domain.Message{}, &domain.ImmutableError{ID: id, Status: cur.Status, Op: "update"}
	}

	now := s.clock.Now()
	next, err := s.applyPatch(cur, patch, now)
	if err != nil {
		return domain.Message{}, err
	}

	if err := s.sched.Disarm(id); err != nil {
		return domain.Message{}, busy(cur, "update", err)
	}
	if err := s.repo.Update(ctx, next); err != nil {
		s.restore(cur)
		return domain.Message{}, fmt.Errorf("persist update: %w", err)
	}
	if next.Status == domain.StatusPending {
		s.armSaved(next)
	}
	log.Info().Str("message_id", id).Bool("rescheduled", patch.ReschedulesFire()).Msg("scheduled message updated")
	return next, nil
}

// Cancel disarms and deletes a message that has not been sent.
func (s *Service) Cancel(ctx context.Context, id string) error {
	unlock := s.sched.Lock(id)
	defer unlock()

	cur, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if cur.Status == domain.StatusSent {
		return &domain.ImmutableError{ID: id, Status: cur.Status, Op: "cancel"}
	}
	if err := s.sched.Disarm(id); err != nil {
		return busy(cur, "cancel", err)
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		s.restore(cur)
		return err
	}
	log.Info().Str("message_id", id).Msg("scheduled message cancelled")
	return nil
}

// Retry puts a failed message back to pending and arms it after a backoff
// that grows with its retry count.
func (s *Service) Retry(ctx context.Context, id string) (domain.Message, error) {
	unlock := s.sched.Lock(id)
	defer unlock()

	m, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.Message{}, err
	}
	now := s.clock.Now()
	if err := m.Requeue(now); err != nil {
		return domain.Message{}, err
	}
	fireAt := ceilMinute(now.Add(worker.Backoff(m.RetryCount)).In(s.loc))
	m.ScheduledDate = fireAt.Format(domain.DateLayout)
	m.ScheduledTime = fireAt.Format("15:04")
	m.FireAt = fireAt
	m.ErrorMessage = ""

	ok, err := s.repo.UpdateIfStatus(ctx, m, domain.StatusFailed)
	if err != nil {
		return domain.Message{}, fmt.Errorf("persist retry: %w", err)
	}
	if !ok {
		return domain.Message{}, fmt.Errorf("%s: %w", id, domain.ErrNotFound)
	}
	s.armSaved(m)
	log.Info().Str("message_id", id).Int("retry_count", m.RetryCount).Time("fire_at", fireAt).Msg("message retry scheduled")
	return m, nil
}

// ListDue returns pending messages whose fire instant is at or before now.
func (s *Service) ListDue(ctx context.Context, now time.Time) ([]domain.Message, error) {
	return s.repo.FindByStatus(ctx, domain.StatusPending, time.Time{}, now)
}

type ListQuery struct {
	Page          int
	Limit         int
	Status        domain.Status
	Priority      domain.Priority
	RecipientType domain.RecipientType
}

type Pagination struct {
	CurrentPage  int `json:"currentPage"`
	TotalPages   int `json:"totalPages"`
	TotalItems   int `json:"totalItems"`
	ItemsPerPage int `json:"itemsPerPage"`
}

type Page struct {
	Data       []domain.Message `json:"data"`
	Pagination Pagination       `json:"pagination"`
}

func (s *Service) List(ctx context.Context, q ListQuery) (Page, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = 10
	}
	f := domain.Filter{
		Status:        q.Status,
		Priority:      q.Priority,
		RecipientType: q.RecipientType,
		Offset:        (q.Page - 1) * q.Limit,
		Limit:         q.Limit,
	}
	if err := f.Validate(); err != nil {
		return Page{}, err
	}
	items, err := s.repo.List(ctx, f)
	if err != nil {
		return Page{}, err
	}
	total, err := s.repo.Count(ctx, domain.Filter{Status: f.Status, Priority: f.Priority, RecipientType: f.RecipientType})
	if err != nil {
		return Page{}, err
	}
	if items == nil {
		items = []domain.Message{}
	}
	return Page{
		Data: items,
		Pagination: Pagination{
			CurrentPage:  q.Page,
			TotalPages:   int(math.Ceil(float64(total) / float64(q.Limit))),
			TotalItems:   total,
			ItemsPerPage: q.Limit,
		},
	}, nil
}

func (s *Service) applyPatch(m domain.Message, p domain.Patch, now time.Time) (domain.Message, error) {
	if p.Content != nil {
		c, err := domain.ValidateContent(*p.Content)
		if err != nil {
			return m, err
		}
		m.Content = c
	}
	if p.ReschedulesFire() {
		date, hhmm := m.ScheduledDate, m.ScheduledTime
		var err error
		if p.ScheduledDate != nil {
			if date, err = domain.ParseDate(*p.ScheduledDate); err != nil {
				return m, err
			}
		}
		if p.ScheduledTime != nil {
			if hhmm, err = domain.NormalizeClock(*p.ScheduledTime); err != nil {
				return m, err
			}
		}
		fireAt, err := s.futureInstant(date, hhmm, now)
		if err != nil {
			return m, err
		}
		m.ScheduledDate, m.ScheduledTime, m.FireAt = date, hhmm, fireAt
	}
	if p.Recipient != nil {
		m.Recipient = strings.TrimSpace(*p.Recipient)
	}
	if p.RecipientType != nil {
		if !p.RecipientType.Valid() {
			return m, domain.Invalid("recipientType", fmt.Sprintf("unknown recipient type %q", *p.RecipientType))
		}
		m.RecipientType = *p.RecipientType
	}
	if p.Priority != nil {
		if !p.Priority.Valid() {
			return m, domain.Invalid("priority", fmt.Sprintf("unknown priority %q", *p.Priority))
		}
		m.Priority = *p.Priority
	}
	if p.Metadata != nil {
		m.Metadata = trimMetadata(*p.Metadata)
	}
	if p.Status != nil && *p.Status != m.Status {
		if *p.Status != domain.StatusPending {
			return m, domain.Invalid("status", "status can only be set back to pending")
		}
		if err := m.Requeue(now); err != nil {
			return m, err
		}
		if !p.ReschedulesFire() && !m.FireAt.After(now) {
			return m, domain.Invalid("scheduledTime", "a new future date and time is required to requeue this message")
		}
	}
	m.UpdatedAt = now
	return m, nil
}

func (s *Service) futureInstant(date, hhmm string, now time.Time) (time.Time, error) {
	fireAt, err := scheduler.FireInstant(date, hhmm, s.loc)
	if err != nil {
		return time.Time{}, err
	}
	if !fireAt.After(now) {
		return time.Time{}, domain.Invalid("scheduledTime", "scheduled date and time must be in the future")
	}
	return fireAt, nil
}

// armSaved arms a record whose change is already stored. A failure is only
// logged: the record stays pending and the sweep arms it once it is due.
func (s *Service) armSaved(m domain.Message) {
	if err := s.sched.Arm(m); err != nil {
		log.Error().Err(err).Str("message_id", m.ID).Time("fire_at", m.FireAt).Msg("arm saved message, leaving it to the sweep")
	}
}

// restore re-arms the previous state after a failed write.
func (s *Service) restore(prev domain.Message) {
	if prev.Status != domain.StatusPending {
		return
	}
	if err := s.sched.Arm(prev); err != nil {
		log.Error().Err(err).Str("message_id", prev.ID).Msg("restore timer after failed write")
	}
}

// busy reports a record whose delivery is running as immutable. The result
// still matches domain.ErrFiring.
func busy(m domain.Message, op string, err error) error {
	if !errors.Is(err, domain.ErrFiring) {
		return err
	}
	return fmt.Errorf("%w: %w", &domain.ImmutableError{ID: m.ID, Status: m.Status, Op: op}, err)
}

func trimMetadata(md domain.Metadata) domain.Metadata {
	md.Source = strings.TrimSpace(md.Source)
	md.CampaignID = strings.TrimSpace(md.CampaignID)
	tags := md.Tags[:0:0]
	for _, t := range md.Tags {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	md.Tags = tags
	return md
}

func ceilMinute(t time.Time) time.Time {
	r := t.Truncate(time.Minute)
	if r.Before(t) {
		r = r.Add(time.Minute)
	}
	return r
}
