package services

import (
	"context"
	"fmt"
	"net/http"
	"time"
	"unicode/utf8"

	"trustwork_backend/internal/auth"
	"trustwork_backend/internal/config"
	"trustwork_backend/internal/events"
	"trustwork_backend/internal/logger"
	"trustwork_backend/internal/metrics"
	"trustwork_backend/internal/models"
	"trustwork_backend/internal/realtime"
	"trustwork_backend/internal/repositories"
	"trustwork_backend/internal/services/dto"
	"trustwork_backend/internal/validator"
	"trustwork_backend/pkg/apperrors"

	"gorm.io/gorm"
)

// PositionFilledMessage - сообщение соседним заявкам при принятии одной из них
const PositionFilledMessage = "Position has been filled"

const tableApplications = "applications"

// ApplicationRules - ограничения подачи заявок
type ApplicationRules struct {
	CoverLetterMin int
	CoverLetterMax int
	ActiveLimit    int
}

func ApplicationRulesFromConfig(cfg *config.Config) ApplicationRules {
	return ApplicationRules{
		CoverLetterMin: cfg.Applications.CoverLetterMin,
		CoverLetterMax: cfg.Applications.CoverLetterMax,
		ActiveLimit:    cfg.Applications.ActiveLimit,
	}
}

type ApplicationService interface {
	Submit(ctx context.Context, db *gorm.DB, p auth.Principal, req *dto.SubmitApplicationRequest) (*models.Application, error)
	ListForEmployer(ctx context.Context, db *gorm.DB, p auth.Principal, assignmentID string, q dto.ApplicationListQuery) (*dto.Page[dto.EmployerApplicationView], error)
	ListForFreelancer(ctx context.Context, db *gorm.DB, p auth.Principal, freelancerID string, q dto.ApplicationListQuery) (*dto.Page[dto.FreelancerApplicationView], error)
	Get(ctx context.Context, db *gorm.DB, p auth.Principal, applicationID string) (*models.Application, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, p auth.Principal, applicationID string, req *dto.UpdateApplicationStatusRequest) (*models.Application, error)
	Withdraw(ctx context.Context, db *gorm.DB, p auth.Principal, applicationID string, req *dto.WithdrawApplicationRequest) (*models.Application, error)
}

type applicationService struct {
	appRepo        repositories.ApplicationRepository
	assignmentRepo repositories.AssignmentRepository
	gigRepo        repositories.GigRepository
	profileRepo    repositories.ProfileRepository
	outbox         EventRecorder
	post           postCommit
	rules          ApplicationRules
}

func NewApplicationService(
	appRepo repositories.ApplicationRepository,
	assignmentRepo repositories.AssignmentRepository,
	gigRepo repositories.GigRepository,
	profileRepo repositories.ProfileRepository,
	outbox EventRecorder,
	flusher EventFlusher,
	hub ChangePublisher,
	rules ApplicationRules,
) ApplicationService {
	return &applicationService{
		appRepo:        appRepo,
		assignmentRepo: assignmentRepo,
		gigRepo:        gigRepo,
		profileRepo:    profileRepo,
		outbox:         outbox,
		post:           postCommit{flusher: flusher, hub: hub},
		rules:          rules,
	}
}

// applicationTransitions - разрешенные работодателю переходы
var applicationTransitions = map[models.ApplicationStatus][]models.ApplicationStatus{
	models.ApplicationStatusPending:     {models.ApplicationStatusShortlisted, models.ApplicationStatusAccepted, models.ApplicationStatusRejected},
	models.ApplicationStatusReviewing:   {models.ApplicationStatusShortlisted, models.ApplicationStatusAccepted, models.ApplicationStatusRejected},
	models.ApplicationStatusShortlisted: {models.ApplicationStatusAccepted, models.ApplicationStatusRejected},
}

func canTransitionApplication(from, to models.ApplicationStatus) bool {
	for _, allowed := range applicationTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// =======================
// Подача заявки
// =======================

func (s *applicationService) Submit(ctx context.Context, db *gorm.DB, p auth.Principal, req *dto.SubmitApplicationRequest) (*models.Application, error) {
	if err := auth.RequireRole(&p, models.RoleFreelancer); err != nil {
		return nil, err
	}

	links, err := s.validateSubmission(req)
	if err != nil {
		return nil, err
	}

	tx, err := beginTx(ctx, db)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	// блокировка задания сериализует проверку лимита активных заявок
	assignment, err := s.assignmentRepo.FindByIDForUpdate(tx, req.AssignmentID)
	if err != nil {
		return nil, repoError(err, "assignment", "Assignment not found")
	}
	if assignment.Status != models.AssignmentStatusOpen {
		return nil, apperrors.New(apperrors.CodeConflict, "application", "Assignment is not open for applications", http.StatusConflict).
			WithDetails(map[string]string{"assignment_status": string(assignment.Status)})
	}

	active, err := s.appRepo.CountActive(tx, assignment.ID, p.UserID)
	if err != nil {
		return nil, apperrors.InternalError(err)
	}
	if active >= int64(s.rules.ActiveLimit) {
		return nil, apperrors.New(apperrors.CodeConflict, "application", "You already have an active application for this assignment", http.StatusConflict)
	}

	app := &models.Application{
		AssignmentID:      assignment.ID,
		FreelancerID:      p.UserID,
		CoverLetter:       req.CoverLetter,
		ProposedRate:      req.ProposedRate,
		ProposedTimeline:  req.ProposedTimeline,
		AvailabilityStart: req.AvailabilityStart,
		PortfolioLinks:    links,
		Status:            models.ApplicationStatusPending,
	}
	if err := s.appRepo.Create(tx, app); err != nil {
		return nil, repoError(err, "application", "Application not found")
	}

	if err := s.outbox.Record(tx, events.New(events.ApplicationSubmitted, events.AggregateApplication, app.ID, events.Payload{
		ApplicationID:   app.ID,
		AssignmentID:    assignment.ID,
		AssignmentTitle: assignment.Title,
		EmployerID:      assignment.EmployerID,
		FreelancerID:    p.UserID,
	})); err != nil {
		return nil, apperrors.InternalError(err)
	}

	if err := commitTx(tx); err != nil {
		return nil, err
	}

	metrics.RecordTransition("application", string(app.Status))
	logger.CtxInfo(ctx, "Application submitted", "application_id", app.ID, "assignment_id", assignment.ID)
	s.post.run(ctx, changeOf(tableApplications, realtime.EventInsert, nil, app, app.FreelancerID, assignment.EmployerID))
	return app, nil
}

func (s *applicationService) validateSubmission(req *dto.SubmitApplicationRequest) ([]string, error) {
	fields := map[string]string{}

	n := utf8.RuneCountInString(req.CoverLetter)
	if n < s.rules.CoverLetterMin || n > s.rules.CoverLetterMax {
		fields["cover_letter"] = fmt.Sprintf("must be between %d and %d characters", s.rules.CoverLetterMin, s.rules.CoverLetterMax)
	}
	if req.ProposedRate != nil && (*req.ProposedRate < 0 || *req.ProposedRate > 1e6) {
		fields["proposed_rate"] = "must be between 0 and 1000000"
	}
	if req.AvailabilityStart != nil {
		today := models.NowUTC().Truncate(24 * time.Hour)
		if req.AvailabilityStart.UTC().Before(today) {
			fields["availability_start"] = "must not be in the past"
		}
	}

	links, idx, err := validator.SanitizeURLs(req.PortfolioLinks)
	if err != nil {
		fields[fmt.Sprintf("portfolio_links[%d]", idx)] = err.Error()
	}

	if len(fields) > 0 {
		return nil, apperrors.ValidationError(fields)
	}
	return links, nil
}

// =======================
// Проекции списков
// =======================

func (s *applicationService) ListForEmployer(ctx context.Context, db *gorm.DB, p auth.Principal, assignmentID string, q dto.ApplicationListQuery) (*dto.Page[dto.EmployerApplicationView], error) {
	if err := auth.RequireRole(&p, models.RoleEmployer, models.RoleAdmin); err != nil {
		return nil, err
	}
	db = db.WithContext(ctx)

	assignment, err := s.assignmentRepo.FindVisible(db, p, assignmentID)
	if err != nil {
		return nil, repoError(err, "assignment", "Assignment not found")
	}
	if !p.IsAdmin() && assignment.EmployerID != p.UserID {
		return nil, apperrors.ErrNotOwner
	}

	apps, total, err := s.appRepo.List(db, repositories.ApplicationFilter{
		AssignmentID: assignment.ID,
		Status:       q.Status,
		Pagination:   repositories.Pagination{Page: q.Page, PageSize: q.PageSize},
	})
	if err != nil {
		return nil, apperrors.InternalError(err)
	}

	ids := make([]string, 0, len(apps))
	for _, a := range apps {
		ids = append(ids, a.FreelancerID)
	}
	profiles, err := s.profileRepo.FindByIDs(db, ids)
	if err != nil {
		return nil, apperrors.InternalError(err)
	}

	views := make([]dto.EmployerApplicationView, 0, len(apps))
	for _, a := range apps {
		views = append(views, dto.EmployerApplicationView{
			Application: a,
			Freelancer:  dto.NewFreelancerSummary(profiles[a.FreelancerID]),
		})
	}
	return dto.NewPage(views, total, q.PageQuery), nil
}

func (s *applicationService) ListForFreelancer(ctx context.Context, db *gorm.DB, p auth.Principal, freelancerID string, q dto.ApplicationListQuery) (*dto.Page[dto.FreelancerApplicationView], error) {
	if err := auth.RequireSelfOrAdmin(&p, freelancerID); err != nil {
		return nil, err
	}
	db = db.WithContext(ctx)

	apps, total, err := s.appRepo.List(db, repositories.ApplicationFilter{
		FreelancerID: freelancerID,
		Status:       q.Status,
		Pagination:   repositories.Pagination{Page: q.Page, PageSize: q.PageSize},
	})
	if err != nil {
		return nil, apperrors.InternalError(err)
	}

	ids := make([]string, 0, len(apps))
	for _, a := range apps {
		ids = append(ids, a.AssignmentID)
	}
	assignments, err := s.assignmentRepo.FindByIDs(db, ids)
	if err != nil {
		return nil, apperrors.InternalError(err)
	}

	views := make([]dto.FreelancerApplicationView, 0, len(apps))
	for _, a := range apps {
		views = append(views, dto.FreelancerApplicationView{
			Application: a,
			Assignment:  dto.NewAssignmentSummary(assignments[a.AssignmentID]),
		})
	}
	return dto.NewPage(views, total, q.PageQuery), nil
}

func (s *applicationService) Get(ctx context.Context, db *gorm.DB, p auth.Principal, applicationID string) (*models.Application, error) {
	app, err := s.appRepo.FindVisible(db.WithContext(ctx), p, applicationID)
	if err != nil {
		return nil, repoError(err, "application", "Application not found")
	}
	return app, nil
}

// =======================
// Смена статуса работодателем
// =======================

func (s *applicationService) UpdateStatus(ctx context.Context, db *gorm.DB, p auth.Principal, applicationID string, req *dto.UpdateApplicationStatusRequest) (*models.Application, error) {
	if err := auth.RequireRole(&p, models.RoleEmployer); err != nil {
		return nil, err
	}

	tx, err := beginTx(ctx, db)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	app, assignment, err := s.loadForUpdate(tx, p, applicationID)
	if err != nil {
		return nil, err
	}
	if assignment.EmployerID != p.UserID {
		return nil, apperrors.ErrNotOwner
	}
	before := *app

	from, to := app.Status, req.Status
	if !canTransitionApplication(from, to) {
		return nil, apperrors.ErrIllegalTransition("application", string(from), string(to))
	}

	now := models.NowUTC()
	fields := map[string]interface{}{
		"status":      to,
		"reviewed_at": now,
		"reviewed_by": p.UserID,
	}
	if req.EmployerMessage != nil {
		fields["employer_message"] = *req.EmployerMessage
	}
	if to == models.ApplicationStatusRejected && req.RejectionReason != nil {
		fields["rejection_reason"] = *req.RejectionReason
	}
	if err := s.appRepo.Update(tx, app, fields); err != nil {
		return nil, repoError(err, "application", "Application not found")
	}

	payload := events.Payload{
		ApplicationID:   app.ID,
		AssignmentID:    assignment.ID,
		AssignmentTitle: assignment.Title,
		EmployerID:      assignment.EmployerID,
		FreelancerID:    app.FreelancerID,
		Status:          string(to),
	}
	if req.RejectionReason != nil {
		payload.Reason = *req.RejectionReason
	}

	var evs []events.Event
	changes := []rowChange{}
	var peers []models.Application

	switch to {
	case models.ApplicationStatusShortlisted:
		evs = append(evs, events.New(events.ApplicationShortlisted, events.AggregateApplication, app.ID, payload))
	case models.ApplicationStatusRejected:
		evs = append(evs, events.New(events.ApplicationRejected, events.AggregateApplication, app.ID, payload))
	case models.ApplicationStatusAccepted:
		gig, rejected, err := s.acceptCascade(tx, p, assignment, app, now)
		if err != nil {
			return nil, err
		}
		peers = rejected
		payload.GigID = gig.ID
		evs = append(evs, events.New(events.ApplicationAccepted, events.AggregateApplication, app.ID, payload))
		for _, peer := range rejected {
			evs = append(evs, events.New(events.ApplicationRejected, events.AggregateApplication, peer.ID, events.Payload{
				ApplicationID:   peer.ID,
				AssignmentID:    assignment.ID,
				AssignmentTitle: assignment.Title,
				EmployerID:      assignment.EmployerID,
				FreelancerID:    peer.FreelancerID,
				Status:          string(models.ApplicationStatusRejected),
				Message:         PositionFilledMessage,
			}))
		}
		evs = append(evs, events.New(events.GigCreated, events.AggregateGig, gig.ID, events.Payload{
			GigID:         gig.ID,
			GigTitle:      gig.Title,
			ClientID:      gig.ClientID,
			FreelancerID:  gig.FreelancerID,
			ApplicationID: app.ID,
			AssignmentID:  assignment.ID,
			Amount:        gig.Budget,
		}))
		changes = append(changes, changeOf(tableGigs, realtime.EventInsert, nil, gig, gig.ClientID, gig.FreelancerID))
	}

	if err := s.outbox.Record(tx, evs...); err != nil {
		return nil, apperrors.InternalError(err)
	}

	updated, err := s.appRepo.FindByID(tx, app.ID)
	if err != nil {
		return nil, repoError(err, "application", "Application not found")
	}

	if err := commitTx(tx); err != nil {
		return nil, err
	}

	logger.TransitionLog("application", app.ID, string(from), string(to))
	metrics.RecordTransition("application", string(to))
	changes = append(changes, changeOf(tableApplications, realtime.EventUpdate, before, updated, updated.FreelancerID, assignment.EmployerID))
	for i := range peers {
		changes = append(changes, changeOf(tableApplications, realtime.EventUpdate, nil, peers[i], peers[i].FreelancerID, assignment.EmployerID))
	}
	s.post.run(ctx, changes...)
	return updated, nil
}

// loadForUpdate блокирует задание и перечитывает заявку под блокировкой
func (s *applicationService) loadForUpdate(tx *gorm.DB, p auth.Principal, applicationID string) (*models.Application, *models.Assignment, error) {
	app, err := s.appRepo.FindVisible(tx, p, applicationID)
	if err != nil {
		return nil, nil, repoError(err, "application", "Application not found")
	}
	assignment, err := s.assignmentRepo.FindByIDForUpdate(tx, app.AssignmentID)
	if err != nil {
		return nil, nil, repoError(err, "assignment", "Assignment not found")
	}
	app, err = s.appRepo.FindByID(tx, applicationID)
	if err != nil {
		return nil, nil, repoError(err, "application", "Application not found")
	}
	return app, assignment, nil
}

// acceptCascade: соседние заявки отклоняются, задание закрывается, создается гиг.
// Все в транзакции вызывающего.
func (s *applicationService) acceptCascade(tx *gorm.DB, p auth.Principal, assignment *models.Assignment, app *models.Application, now time.Time) (*models.Gig, []models.Application, error) {
	if assignment.Status != models.AssignmentStatusOpen {
		return nil, nil, apperrors.ErrConflict(nil, "assignment", "Assignment is no longer open, refresh and retry").
			WithDetails(map[string]string{"assignment_status": string(assignment.Status)})
	}

	siblings, err := s.appRepo.ListActiveSiblings(tx, assignment.ID, app.ID)
	if err != nil {
		return nil, nil, apperrors.InternalError(err)
	}
	for i := range siblings {
		peer := &siblings[i]
		if err := s.appRepo.Update(tx, peer, map[string]interface{}{
			"status":           models.ApplicationStatusRejected,
			"employer_message": PositionFilledMessage,
			"reviewed_at":      now,
			"reviewed_by":      p.UserID,
		}); err != nil {
			return nil, nil, repoError(err, "application", "Application not found")
		}
		peer.Status = models.ApplicationStatusRejected
		peer.EmployerMessage = ptr(PositionFilledMessage)
	}

	if err := s.assignmentRepo.Update(tx, assignment, map[string]interface{}{
		"status": models.AssignmentStatusFilled,
	}); err != nil {
		return nil, nil, repoError(err, "assignment", "Assignment not found")
	}

	gig := &models.Gig{
		AssignmentID:  &assignment.ID,
		ApplicationID: &app.ID,
		ClientID:      assignment.EmployerID,
		FreelancerID:  app.FreelancerID,
		Title:         assignment.Title,
		Category:      assignment.Category,
		Budget:        assignment.ResolveBudget(app.ProposedRate),
		Status:        models.GigStatusOpen,
		Deadline:      assignment.Deadline,
	}
	if err := s.gigRepo.Create(tx, gig); err != nil {
		return nil, nil, repoError(err, "gig", "Gig not found")
	}
	return gig, siblings, nil
}

// =======================
// Отзыв заявки фрилансером
// =======================

func (s *applicationService) Withdraw(ctx context.Context, db *gorm.DB, p auth.Principal, applicationID string, req *dto.WithdrawApplicationRequest) (*models.Application, error) {
	if err := auth.RequireAuthenticated(&p); err != nil {
		return nil, err
	}

	tx, err := beginTx(ctx, db)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	app, assignment, err := s.loadForUpdate(tx, p, applicationID)
	if err != nil {
		return nil, err
	}
	if err := auth.RequireActor(&p, app.FreelancerID); err != nil {
		return nil, err
	}
	if app.Status.IsTerminal() {
		return nil, apperrors.ErrIllegalTransition("application", string(app.Status), string(models.ApplicationStatusWithdrawn))
	}

	fields := map[string]interface{}{"status": models.ApplicationStatusWithdrawn}
	payload := events.Payload{
		ApplicationID:   app.ID,
		AssignmentID:    assignment.ID,
		AssignmentTitle: assignment.Title,
		EmployerID:      assignment.EmployerID,
		FreelancerID:    app.FreelancerID,
		Status:          string(models.ApplicationStatusWithdrawn),
	}
	if req != nil && req.Reason != nil {
		fields["withdrawal_reason"] = *req.Reason
		payload.Reason = *req.Reason
	}

	before := *app
	if err := s.appRepo.Update(tx, app, fields); err != nil {
		return nil, repoError(err, "application", "Application not found")
	}
	if err := s.outbox.Record(tx, events.New(events.ApplicationWithdrawn, events.AggregateApplication, app.ID, payload)); err != nil {
		return nil, apperrors.InternalError(err)
	}
	updated, err := s.appRepo.FindByID(tx, app.ID)
	if err != nil {
		return nil, repoError(err, "application", "Application not found")
	}

	if err := commitTx(tx); err != nil {
		return nil, err
	}

	logger.TransitionLog("application", app.ID, string(before.Status), string(updated.Status))
	metrics.RecordTransition("application", string(updated.Status))
	s.post.run(ctx, changeOf(tableApplications, realtime.EventUpdate, before, updated, updated.FreelancerID, assignment.EmployerID))
	return updated, nil
}
