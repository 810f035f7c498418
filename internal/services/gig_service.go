package services

import (
	"context"
	"errors"
	"math"

	"trustwork_backend/internal/auth"
	"trustwork_backend/internal/config"
	"trustwork_backend/internal/events"
	"trustwork_backend/internal/logger"
	"trustwork_backend/internal/metrics"
	"trustwork_backend/internal/models"
	"trustwork_backend/internal/realtime"
	"trustwork_backend/internal/repositories"
	"trustwork_backend/internal/services/dto"
	"trustwork_backend/pkg/apperrors"

	"gorm.io/gorm"
)

const (
	tableGigs       = "gigs"
	tableMilestones = "milestones"
)

// percentageTolerance - допуск суммы процентов этапов
const percentageTolerance = 0.01

type GigService interface {
	CreateDirectGig(ctx context.Context, db *gorm.DB, p auth.Principal, req *dto.CreateGigRequest) (*models.Gig, error)
	DefineMilestones(ctx context.Context, db *gorm.DB, p auth.Principal, gigID string, req *dto.DefineMilestonesRequest) ([]models.Milestone, error)
	TransitionMilestone(ctx context.Context, db *gorm.DB, p auth.Principal, milestoneID string, req *dto.TransitionMilestoneRequest) (*models.Milestone, error)
	CompleteGig(ctx context.Context, db *gorm.DB, p auth.Principal, gigID string) (*models.Gig, error)
	CancelGig(ctx context.Context, db *gorm.DB, p auth.Principal, gigID string) (*models.Gig, error)
	GetGig(ctx context.Context, db *gorm.DB, p auth.Principal, gigID string) (*dto.GigDetail, error)
	ListGigs(ctx context.Context, db *gorm.DB, p auth.Principal, q dto.GigListQuery) (*dto.Page[models.Gig], error)
}

type gigService struct {
	gigRepo             repositories.GigRepository
	milestoneRepo       repositories.MilestoneRepository
	profileRepo         repositories.ProfileRepository
	outbox              EventRecorder
	post                postCommit
	defaultMaxRevisions int
}

func NewGigService(
	gigRepo repositories.GigRepository,
	milestoneRepo repositories.MilestoneRepository,
	profileRepo repositories.ProfileRepository,
	outbox EventRecorder,
	flusher EventFlusher,
	hub ChangePublisher,
	cfg *config.Config,
) GigService {
	maxRevisions := 2
	if cfg != nil {
		maxRevisions = cfg.Milestones.MaxRevisionsDefault
	}
	return &gigService{
		gigRepo:             gigRepo,
		milestoneRepo:       milestoneRepo,
		profileRepo:         profileRepo,
		outbox:              outbox,
		post:                postCommit{flusher: flusher, hub: hub},
		defaultMaxRevisions: maxRevisions,
	}
}

type milestoneActor int

const (
	actorFreelancer milestoneActor = iota
	actorClient
)

// milestoneRule - строка таблицы переходов этапа
type milestoneRule struct {
	from  models.MilestoneStatus
	to    models.MilestoneStatus
	actor milestoneActor
	event events.Type
}

var milestoneRules = map[models.MilestoneAction]milestoneRule{
	models.MilestoneActionStart:           {models.MilestoneStatusPending, models.MilestoneStatusInProgress, actorFreelancer, events.MilestoneStarted},
	models.MilestoneActionSubmit:          {models.MilestoneStatusInProgress, models.MilestoneStatusSubmitted, actorFreelancer, events.MilestoneSubmitted},
	models.MilestoneActionApprove:         {models.MilestoneStatusSubmitted, models.MilestoneStatusApproved, actorClient, events.MilestoneApproved},
	models.MilestoneActionRequestRevision: {models.MilestoneStatusSubmitted, models.MilestoneStatusRevisionRequested, actorClient, events.MilestoneRevisionRequested},
	models.MilestoneActionReject:          {models.MilestoneStatusSubmitted, models.MilestoneStatusRejected, actorClient, events.MilestoneRejected},
	models.MilestoneActionResubmit:        {models.MilestoneStatusRevisionRequested, models.MilestoneStatusSubmitted, actorFreelancer, events.MilestoneSubmitted},
}

// replayed: этап уже в статусе, который дает это действие.
// Отклонение считается результатом запроса правки, только если лимит правок превышен.
func (r milestoneRule) replayed(m *models.Milestone) bool {
	if m.Status == r.to {
		return true
	}
	return r.to == models.MilestoneStatusRevisionRequested &&
		m.Status == models.MilestoneStatusRejected &&
		m.RevisionCount > m.MaxRevisions
}

// =======================
// Создание гига
// =======================

func (s *gigService) CreateDirectGig(ctx context.Context, db *gorm.DB, p auth.Principal, req *dto.CreateGigRequest) (*models.Gig, error) {
	if err := auth.RequireRole(&p, models.RoleEmployer); err != nil {
		return nil, err
	}
	if req.FreelancerID == p.UserID {
		return nil, apperrors.FieldError("freelancer_id", "must differ from the client")
	}

	tx, err := beginTx(ctx, db)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	freelancer, err := s.profileRepo.FindByID(tx, req.FreelancerID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, apperrors.FieldError("freelancer_id", "freelancer not found")
		}
		return nil, apperrors.InternalError(err)
	}
	if freelancer.Role != models.RoleFreelancer {
		return nil, apperrors.FieldError("freelancer_id", "profile is not a freelancer")
	}

	gig := &models.Gig{
		ClientID:     p.UserID,
		FreelancerID: freelancer.ID,
		Title:        req.Title,
		Category:     req.Category,
		Budget:       req.Budget,
		Status:       models.GigStatusOpen,
		Deadline:     req.Deadline,
	}
	if err := s.gigRepo.Create(tx, gig); err != nil {
		return nil, repoError(err, "gig", "Gig not found")
	}
	if err := s.outbox.Record(tx, events.New(events.GigCreated, events.AggregateGig, gig.ID, events.Payload{
		GigID:        gig.ID,
		GigTitle:     gig.Title,
		ClientID:     gig.ClientID,
		FreelancerID: gig.FreelancerID,
		Amount:       gig.Budget,
	})); err != nil {
		return nil, apperrors.InternalError(err)
	}

	if err := commitTx(tx); err != nil {
		return nil, err
	}

	metrics.RecordTransition("gig", string(gig.Status))
	logger.CtxInfo(ctx, "Gig created", "gig_id", gig.ID, "freelancer_id", gig.FreelancerID)
	s.post.run(ctx, changeOf(tableGigs, realtime.EventInsert, nil, gig, gig.ClientID, gig.FreelancerID))
	return gig, nil
}

// =======================
// Этапы
// =======================

func (s *gigService) DefineMilestones(ctx context.Context, db *gorm.DB, p auth.Principal, gigID string, req *dto.DefineMilestonesRequest) ([]models.Milestone, error) {
	if err := auth.RequireAuthenticated(&p); err != nil {
		return nil, err
	}

	tx, err := beginTx(ctx, db)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	gig, err := s.gigRepo.FindVisible(repositories.LockForUpdate(tx), p, gigID)
	if err != nil {
		return nil, repoError(err, "gig", "Gig not found")
	}
	if err := auth.RequireActor(&p, gig.ClientID); err != nil {
		return nil, err
	}
	if gig.Status != models.GigStatusOpen {
		return nil, apperrors.ErrConflict(nil, "gig", "Milestones can only be defined while the gig is open").
			WithDetails(map[string]string{"gig_status": string(gig.Status)})
	}

	drafts, err := s.buildMilestones(gig, req.Milestones)
	if err != nil {
		return nil, err
	}
	if err := s.milestoneRepo.ReplaceForGig(tx, gig.ID, drafts); err != nil {
		return nil, repoError(err, "milestone", "Milestone not found")
	}

	milestones, err := s.milestoneRepo.ListByGig(tx, gig.ID)
	if err != nil {
		return nil, apperrors.InternalError(err)
	}

	if err := commitTx(tx); err != nil {
		return nil, err
	}

	logger.CtxInfo(ctx, "Milestones defined", "gig_id", gig.ID, "count", len(milestones))
	changes := make([]rowChange, 0, len(milestones))
	for i := range milestones {
		changes = append(changes, changeOf(tableMilestones, realtime.EventInsert, nil, milestones[i], gig.ClientID, gig.FreelancerID))
	}
	s.post.run(ctx, changes...)
	return milestones, nil
}

// buildMilestones проверяет суммы и раскладывает бюджет по этапам с нулевой суммой.
// Последний такой этап забирает остаток округления.
func (s *gigService) buildMilestones(gig *models.Gig, drafts []dto.MilestoneDraft) ([]*models.Milestone, error) {
	if len(drafts) == 0 {
		return nil, apperrors.FieldError("milestones", "at least one milestone is required")
	}

	var pctSum float64
	for _, d := range drafts {
		pctSum += d.Percentage
	}
	if math.Abs(pctSum-100) > percentageTolerance {
		return nil, apperrors.FieldError("milestones", "percentages must sum to 100")
	}

	out := make([]*models.Milestone, len(drafts))
	var amountSum int64
	for i, d := range drafts {
		amount := d.Amount
		if amount == 0 {
			amount = int64(math.Round(float64(gig.Budget) * d.Percentage / 100))
		}
		maxRevisions := s.defaultMaxRevisions
		if d.MaxRevisions != nil {
			maxRevisions = *d.MaxRevisions
		}
		out[i] = &models.Milestone{
			GigID:        gig.ID,
			Ordinal:      i + 1,
			Title:        d.Title,
			Description:  d.Description,
			Amount:       amount,
			Percentage:   d.Percentage,
			DueDate:      d.DueDate,
			Status:       models.MilestoneStatusPending,
			MaxRevisions: maxRevisions,
		}
		amountSum += amount
	}

	last := len(drafts) - 1
	if drafts[last].Amount == 0 {
		out[last].Amount += gig.Budget - amountSum
		amountSum = gig.Budget
	}
	if amountSum != gig.Budget {
		return nil, apperrors.FieldError("milestones", "amounts must sum to the gig budget")
	}
	for _, m := range out {
		if m.Amount <= 0 {
			return nil, apperrors.FieldError("milestones", "every milestone amount must be positive")
		}
	}
	return out, nil
}

// transitionAttempts - повтор после проигранной гонки версий
const transitionAttempts = 2

func (s *gigService) TransitionMilestone(ctx context.Context, db *gorm.DB, p auth.Principal, milestoneID string, req *dto.TransitionMilestoneRequest) (*models.Milestone, error) {
	if err := auth.RequireAuthenticated(&p); err != nil {
		return nil, err
	}
	rule, ok := milestoneRules[req.Action]
	if !ok {
		return nil, apperrors.FieldError("action", "unknown milestone action")
	}

	var lastErr error
	for attempt := 0; attempt < transitionAttempts; attempt++ {
		m, err := s.transitionOnce(ctx, db, p, milestoneID, req, rule)
		if err == nil {
			return m, nil
		}
		if !errors.Is(err, repositories.ErrVersionConflict) {
			return nil, err
		}
		lastErr = err
		logger.CtxDebug(ctx, "Milestone version conflict, re-reading", "milestone_id", milestoneID)
	}
	return nil, repoError(lastErr, "milestone", "Milestone not found")
}

func (s *gigService) transitionOnce(ctx context.Context, db *gorm.DB, p auth.Principal, milestoneID string, req *dto.TransitionMilestoneRequest, rule milestoneRule) (*models.Milestone, error) {
	tx, err := beginTx(ctx, db)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	m, err := s.milestoneRepo.FindVisible(tx, p, milestoneID)
	if err != nil {
		return nil, repoError(err, "milestone", "Milestone not found")
	}
	gig, err := s.gigRepo.FindByIDForUpdate(tx, m.GigID)
	if err != nil {
		return nil, repoError(err, "gig", "Gig not found")
	}
	if m, err = s.milestoneRepo.FindByID(tx, milestoneID); err != nil {
		return nil, repoError(err, "milestone", "Milestone not found")
	}

	actorID := gig.FreelancerID
	if rule.actor == actorClient {
		actorID = gig.ClientID
	}
	if err := auth.RequireActor(&p, actorID); err != nil {
		return nil, err
	}

	if req.ExpectedStatus != nil && m.Status != *req.ExpectedStatus {
		if *req.ExpectedStatus == rule.from && rule.replayed(m) {
			// повтор уже примененного действия
			return m, nil
		}
		return nil, apperrors.ErrStaleState("milestone", string(*req.ExpectedStatus), string(m.Status))
	}
	if m.Status != rule.from {
		if rule.replayed(m) {
			return m, nil
		}
		return nil, apperrors.ErrIllegalTransition("milestone", string(m.Status), string(rule.to))
	}

	if gig.Status != models.GigStatusOpen && gig.Status != models.GigStatusInProgress {
		return nil, apperrors.ErrIllegalTransition("gig", string(gig.Status), string(rule.to))
	}

	now := models.NowUTC()
	to := rule.to
	evType := rule.event
	fields := map[string]interface{}{}
	gigFields := map[string]interface{}{}
	var milestones []models.Milestone

	switch req.Action {
	case models.MilestoneActionStart:
		milestones, err = s.milestoneRepo.ListByGig(tx, gig.ID)
		if err != nil {
			return nil, apperrors.InternalError(err)
		}
		for _, other := range milestones {
			if other.Ordinal < m.Ordinal && other.Status != models.MilestoneStatusApproved {
				return nil, apperrors.ErrOutOfOrder("milestone", other.Ordinal)
			}
		}
		fields["started_at"] = now
		if gig.Status == models.GigStatusOpen {
			gigFields["status"] = models.GigStatusInProgress
			gigFields["started_at"] = now
		}
	case models.MilestoneActionSubmit, models.MilestoneActionResubmit:
		fields["submitted_at"] = now
	case models.MilestoneActionApprove:
		fields["approved_at"] = now
		fields["payment_released"] = false
	case models.MilestoneActionRequestRevision:
		count := m.RevisionCount + 1
		fields["revision_count"] = count
		if count > m.MaxRevisions {
			to = models.MilestoneStatusRejected
			evType = events.MilestoneRejected
		}
	}
	if req.Notes != nil && rule.actor == actorClient {
		fields["client_notes"] = *req.Notes
	}
	fields["status"] = to

	before := *m
	if err := s.milestoneRepo.Update(tx, m, fields); err != nil {
		if errors.Is(err, repositories.ErrVersionConflict) {
			return nil, err
		}
		return nil, repoError(err, "milestone", "Milestone not found")
	}

	payload := events.Payload{
		GigID:        gig.ID,
		GigTitle:     gig.Title,
		ClientID:     gig.ClientID,
		FreelancerID: gig.FreelancerID,
		MilestoneID:  m.ID,
		Ordinal:      m.Ordinal,
		Amount:       m.Amount,
		Status:       string(to),
	}
	if req.Notes != nil {
		payload.Message = *req.Notes
	}
	evs := []events.Event{events.New(evType, events.AggregateMilestone, m.ID, payload)}

	// одобрение последнего этапа завершает гиг
	if to == models.MilestoneStatusApproved {
		milestones, err = s.milestoneRepo.ListByGig(tx, gig.ID)
		if err != nil {
			return nil, apperrors.InternalError(err)
		}
		if allApproved(milestones) {
			gigFields["status"] = models.GigStatusCompleted
			gigFields["completed_at"] = now
			evs = append(evs, events.New(events.GigCompleted, events.AggregateGig, gig.ID, events.Payload{
				GigID:        gig.ID,
				GigTitle:     gig.Title,
				ClientID:     gig.ClientID,
				FreelancerID: gig.FreelancerID,
				Amount:       gig.Budget,
			}))
		}
	}

	gigBefore := *gig
	if len(gigFields) > 0 {
		if err := s.gigRepo.Update(tx, gig, gigFields); err != nil {
			return nil, repoError(err, "gig", "Gig not found")
		}
	}

	if err := s.outbox.Record(tx, evs...); err != nil {
		return nil, apperrors.InternalError(err)
	}

	updated, err := s.milestoneRepo.FindByID(tx, m.ID)
	if err != nil {
		return nil, repoError(err, "milestone", "Milestone not found")
	}
	var updatedGig *models.Gig
	if len(gigFields) > 0 {
		if updatedGig, err = s.gigRepo.FindByID(tx, gig.ID); err != nil {
			return nil, repoError(err, "gig", "Gig not found")
		}
	}

	if err := commitTx(tx); err != nil {
		return nil, err
	}

	logger.TransitionLog("milestone", m.ID, string(before.Status), string(to))
	metrics.RecordTransition("milestone", string(to))
	changes := []rowChange{changeOf(tableMilestones, realtime.EventUpdate, before, updated, gig.ClientID, gig.FreelancerID)}
	if updatedGig != nil {
		logger.TransitionLog("gig", gig.ID, string(gigBefore.Status), string(updatedGig.Status))
		metrics.RecordTransition("gig", string(updatedGig.Status))
		changes = append(changes, changeOf(tableGigs, realtime.EventUpdate, gigBefore, updatedGig, gig.ClientID, gig.FreelancerID))
	}
	s.post.run(ctx, changes...)
	return updated, nil
}

func allApproved(milestones []models.Milestone) bool {
	if len(milestones) == 0 {
		return false
	}
	for _, m := range milestones {
		if m.Status != models.MilestoneStatusApproved {
			return false
		}
	}
	return true
}

// =======================
// Завершение и отмена
// =======================

func (s *gigService) CompleteGig(ctx context.Context, db *gorm.DB, p auth.Principal, gigID string) (*models.Gig, error) {
	if err := auth.RequireAuthenticated(&p); err != nil {
		return nil, err
	}

	tx, err := beginTx(ctx, db)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	gig, err := s.gigRepo.FindVisible(repositories.LockForUpdate(tx), p, gigID)
	if err != nil {
		return nil, repoError(err, "gig", "Gig not found")
	}
	if err := auth.RequireSelfOrAdmin(&p, gig.ClientID); err != nil {
		return nil, err
	}
	if gig.Status == models.GigStatusCompleted {
		return gig, nil
	}
	if gig.Status != models.GigStatusOpen && gig.Status != models.GigStatusInProgress {
		return nil, apperrors.ErrIllegalTransition("gig", string(gig.Status), string(models.GigStatusCompleted))
	}

	milestones, err := s.milestoneRepo.ListByGig(tx, gig.ID)
	if err != nil {
		return nil, apperrors.InternalError(err)
	}
	if !allApproved(milestones) {
		return nil, apperrors.ErrIllegalTransition("gig", string(gig.Status), string(models.GigStatusCompleted)).
			WithDetails(map[string]interface{}{
				"from":   string(gig.Status),
				"to":     string(models.GigStatusCompleted),
				"reason": "every milestone must be approved",
			})
	}

	before := *gig
	if err := s.gigRepo.Update(tx, gig, map[string]interface{}{
		"status":       models.GigStatusCompleted,
		"completed_at": models.NowUTC(),
	}); err != nil {
		return nil, repoError(err, "gig", "Gig not found")
	}
	if err := s.outbox.Record(tx, events.New(events.GigCompleted, events.AggregateGig, gig.ID, events.Payload{
		GigID:        gig.ID,
		GigTitle:     gig.Title,
		ClientID:     gig.ClientID,
		FreelancerID: gig.FreelancerID,
		Amount:       gig.Budget,
	})); err != nil {
		return nil, apperrors.InternalError(err)
	}
	updated, err := s.gigRepo.FindByID(tx, gig.ID)
	if err != nil {
		return nil, repoError(err, "gig", "Gig not found")
	}

	if err := commitTx(tx); err != nil {
		return nil, err
	}

	logger.TransitionLog("gig", gig.ID, string(before.Status), string(updated.Status))
	metrics.RecordTransition("gig", string(updated.Status))
	s.post.run(ctx, changeOf(tableGigs, realtime.EventUpdate, before, updated, gig.ClientID, gig.FreelancerID))
	return updated, nil
}

func (s *gigService) CancelGig(ctx context.Context, db *gorm.DB, p auth.Principal, gigID string) (*models.Gig, error) {
	if err := auth.RequireAuthenticated(&p); err != nil {
		return nil, err
	}

	tx, err := beginTx(ctx, db)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	gig, err := s.gigRepo.FindVisible(repositories.LockForUpdate(tx), p, gigID)
	if err != nil {
		return nil, repoError(err, "gig", "Gig not found")
	}
	if err := auth.RequireActor(&p, gig.ClientID); err != nil {
		return nil, err
	}
	if gig.Status == models.GigStatusCancelled {
		return gig, nil
	}
	if gig.Status != models.GigStatusOpen {
		return nil, apperrors.ErrIllegalTransition("gig", string(gig.Status), string(models.GigStatusCancelled))
	}

	before := *gig
	if err := s.gigRepo.Update(tx, gig, map[string]interface{}{"status": models.GigStatusCancelled}); err != nil {
		return nil, repoError(err, "gig", "Gig not found")
	}
	if err := s.outbox.Record(tx, events.New(events.GigCancelled, events.AggregateGig, gig.ID, events.Payload{
		GigID:        gig.ID,
		GigTitle:     gig.Title,
		ClientID:     gig.ClientID,
		FreelancerID: gig.FreelancerID,
	})); err != nil {
		return nil, apperrors.InternalError(err)
	}
	updated, err := s.gigRepo.FindByID(tx, gig.ID)
	if err != nil {
		return nil, repoError(err, "gig", "Gig not found")
	}

	if err := commitTx(tx); err != nil {
		return nil, err
	}

	logger.TransitionLog("gig", gig.ID, string(before.Status), string(updated.Status))
	metrics.RecordTransition("gig", string(updated.Status))
	s.post.run(ctx, changeOf(tableGigs, realtime.EventUpdate, before, updated, gig.ClientID, gig.FreelancerID))
	return updated, nil
}

// =======================
// Чтение
// =======================

func (s *gigService) GetGig(ctx context.Context, db *gorm.DB, p auth.Principal, gigID string) (*dto.GigDetail, error) {
	db = db.WithContext(ctx)
	gig, err := s.gigRepo.FindVisible(db, p, gigID)
	if err != nil {
		return nil, repoError(err, "gig", "Gig not found")
	}
	milestones, err := s.milestoneRepo.ListByGig(db, gig.ID)
	if err != nil {
		return nil, apperrors.InternalError(err)
	}
	if milestones == nil {
		milestones = []models.Milestone{}
	}
	return &dto.GigDetail{Gig: *gig, Milestones: milestones, Progress: Progress(milestones)}, nil
}

func (s *gigService) ListGigs(ctx context.Context, db *gorm.DB, p auth.Principal, q dto.GigListQuery) (*dto.Page[models.Gig], error) {
	if err := auth.RequireAuthenticated(&p); err != nil {
		return nil, err
	}
	gigs, total, err := s.gigRepo.ListVisible(db.WithContext(ctx), p, q.Status, repositories.Pagination{Page: q.Page, PageSize: q.PageSize})
	if err != nil {
		return nil, apperrors.InternalError(err)
	}
	return dto.NewPage(gigs, total, q.PageQuery), nil
}
