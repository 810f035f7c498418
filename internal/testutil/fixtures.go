package testutil

import (
	"testing"

	"trustwork_backend/internal/auth"
	"trustwork_backend/internal/models"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// Fixtures - построители тестовых строк
type Fixtures struct {
	t  testing.TB
	db *gorm.DB
}

func NewFixtures(t testing.TB, db *gorm.DB) *Fixtures {
	return &Fixtures{t: t, db: db}
}

func (f *Fixtures) Profile(role models.UserRole, name string) *models.Profile {
	f.t.Helper()
	email := name + "@example.com"
	p := &models.Profile{
		Role:        role,
		DisplayName: name,
		Email:       &email,
		Skills:      []string{"go", "sql"},
	}
	require.NoError(f.t, f.db.Create(p).Error)
	return p
}

func (f *Fixtures) Principal(p *models.Profile) auth.Principal {
	return auth.PrincipalFromProfile(p)
}

func (f *Fixtures) Employer() (*models.Profile, auth.Principal) {
	p := f.Profile(models.RoleEmployer, "employer")
	return p, f.Principal(p)
}

func (f *Fixtures) Freelancer(name string) (*models.Profile, auth.Principal) {
	p := f.Profile(models.RoleFreelancer, name)
	return p, f.Principal(p)
}

func (f *Fixtures) Admin() (*models.Profile, auth.Principal) {
	p := f.Profile(models.RoleAdmin, "admin")
	return p, f.Principal(p)
}

// OpenAssignment - открытое задание с фиксированным бюджетом
func (f *Fixtures) OpenAssignment(employerID string, budgetMax int64) *models.Assignment {
	f.t.Helper()
	a := &models.Assignment{
		EmployerID:  employerID,
		Title:       "Build a landing page",
		Description: "Responsive landing page with a contact form",
		Category:    "web",
		BudgetMax:   &budgetMax,
		BudgetType:  models.BudgetTypeFixed,
		Status:      models.AssignmentStatusOpen,
	}
	a.Version = 1
	require.NoError(f.t, f.db.Create(a).Error)
	return a
}

func (f *Fixtures) Application(assignmentID, freelancerID string, status models.ApplicationStatus) *models.Application {
	f.t.Helper()
	app := &models.Application{
		AssignmentID: assignmentID,
		FreelancerID: freelancerID,
		CoverLetter:  "I have shipped a dozen landing pages and can start this week.",
		Status:       status,
	}
	app.Version = 1
	require.NoError(f.t, f.db.Create(app).Error)
	return app
}

func (f *Fixtures) Gig(clientID, freelancerID string, budget int64, status models.GigStatus) *models.Gig {
	f.t.Helper()
	g := &models.Gig{
		ClientID:     clientID,
		FreelancerID: freelancerID,
		Title:        "Landing page",
		Budget:       budget,
		Status:       status,
	}
	g.Version = 1
	require.NoError(f.t, f.db.Create(g).Error)
	return g
}

// Milestones создает этапы с равными долями; последний забирает остаток
func (f *Fixtures) Milestones(gig *models.Gig, n int) []*models.Milestone {
	f.t.Helper()
	out := make([]*models.Milestone, 0, n)
	var assigned int64
	for i := 1; i <= n; i++ {
		amount := gig.Budget / int64(n)
		if i == n {
			amount = gig.Budget - assigned
		}
		assigned += amount
		m := &models.Milestone{
			GigID:        gig.ID,
			Ordinal:      i,
			Title:        "Stage",
			Amount:       amount,
			Percentage:   100.0 / float64(n),
			Status:       models.MilestoneStatusPending,
			MaxRevisions: 2,
		}
		m.Version = 1
		require.NoError(f.t, f.db.Create(m).Error)
		out = append(out, m)
	}
	return out
}

func (f *Fixtures) BankAccount(ownerID string, verified bool) *models.BankAccount {
	f.t.Helper()
	b := &models.BankAccount{
		OwnerID:       ownerID,
		BankName:      "FNB",
		AccountNumber: "62000000001",
		AccountHolder: "Test Holder",
		Verified:      verified,
	}
	require.NoError(f.t, f.db.Create(b).Error)
	return b
}

// HeldPayment - удержанный платеж по гигу (и этапу, если задан)
func (f *Fixtures) HeldPayment(gig *models.Gig, milestone *models.Milestone, amount int64) *models.EscrowPayment {
	f.t.Helper()
	now := models.NowUTC()
	p := &models.EscrowPayment{
		GigID:         gig.ID,
		PayerID:       gig.ClientID,
		RecipientID:   gig.FreelancerID,
		Amount:        amount,
		PlatformFee:   amount / 10,
		PaymentMethod: models.PaymentMethodEFT,
		PaymentFee:    0,
		TotalCharge:   amount,
		FreelancerNet: amount - amount/10,
		Status:        models.PaymentStatusHeld,
		HeldAt:        &now,
	}
	if milestone != nil {
		p.MilestoneID = &milestone.ID
	}
	p.Version = 1
	require.NoError(f.t, f.db.Create(p).Error)
	return p
}
