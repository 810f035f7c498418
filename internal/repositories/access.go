package repositories

import (
	"trustwork_backend/internal/auth"
	"trustwork_backend/internal/models"

	"gorm.io/gorm"
)

// Предикаты доступа к строкам. Читатель видит свои строки, строки, где он участник,
// и публичные строки. Админ видит все.

// VisibleAssignments - свои задания и открытые
func VisibleAssignments(p auth.Principal) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if p.IsAdmin() {
			return db
		}
		return db.Where("assignments.employer_id = ? OR assignments.status = ?", p.UserID, models.AssignmentStatusOpen)
	}
}

// VisibleApplications - заявитель либо владелец задания
func VisibleApplications(p auth.Principal) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if p.IsAdmin() {
			return db
		}
		owned := db.Session(&gorm.Session{NewDB: true}).
			Model(&models.Assignment{}).
			Select("id").
			Where("employer_id = ?", p.UserID)
		return db.Where("applications.freelancer_id = ? OR applications.assignment_id IN (?)", p.UserID, owned)
	}
}

// VisibleGigs - стороны гига
func VisibleGigs(p auth.Principal) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if p.IsAdmin() {
			return db
		}
		return db.Where("gigs.client_id = ? OR gigs.freelancer_id = ?", p.UserID, p.UserID)
	}
}

// VisibleMilestones - через стороны гига
func VisibleMilestones(p auth.Principal) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if p.IsAdmin() {
			return db
		}
		gigs := db.Session(&gorm.Session{NewDB: true}).
			Model(&models.Gig{}).
			Select("id").
			Where("client_id = ? OR freelancer_id = ?", p.UserID, p.UserID)
		return db.Where("milestones.gig_id IN (?)", gigs)
	}
}

// VisiblePayments - плательщик или получатель
func VisiblePayments(p auth.Principal) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if p.IsAdmin() {
			return db
		}
		return db.Where("escrow_payments.payer_id = ? OR escrow_payments.recipient_id = ?", p.UserID, p.UserID)
	}
}

// OwnedBy - строки, принадлежащие пользователю (уведомления, реквизиты)
func OwnedBy(column, userID string) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where(column+" = ?", userID)
	}
}
