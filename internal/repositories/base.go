package repositories

import (
	"errors"
	"strings"

	"trustwork_backend/internal/models"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrNotFound        = errors.New("record not found")
	ErrVersionConflict = errors.New("row version changed concurrently")
	ErrDuplicate       = errors.New("duplicate record")
)

// Pagination - параметры страницы для списков
type Pagination struct {
	Page     int
	PageSize int
}

func (p Pagination) normalized() Pagination {
	if p.Page <= 0 {
		p.Page = 1
	}
	if p.PageSize <= 0 {
		p.PageSize = 20
	}
	if p.PageSize > 100 {
		p.PageSize = 100
	}
	return p
}

// Scope применяет LIMIT/OFFSET
func (p Pagination) Scope(db *gorm.DB) *gorm.DB {
	n := p.normalized()
	return db.Limit(n.PageSize).Offset((n.Page - 1) * n.PageSize)
}

// LockForUpdate добавляет SELECT ... FOR UPDATE на Postgres.
// Остальные диалекты (sqlite в тестах) сериализуют запись сами.
func LockForUpdate(db *gorm.DB) *gorm.DB {
	if db.Dialector != nil && db.Dialector.Name() == "postgres" {
		return db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return db
}

// updateVersioned выполняет UPDATE ... SET version = version + 1 WHERE id = ? AND version = ?.
// Ноль затронутых строк означает, что строку уже изменили.
func updateVersioned(db *gorm.DB, model interface{}, id string, version int64, fields map[string]interface{}) error {
	values := make(map[string]interface{}, len(fields)+2)
	for k, v := range fields {
		values[k] = v
	}
	values["version"] = gorm.Expr("version + 1")
	values["updated_at"] = models.NowUTC()

	res := db.Model(model).Where("id = ? AND version = ?", id, version).Updates(values)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrVersionConflict
	}
	return nil
}

// initVersion - новые строки начинают с версии 1
func initVersion(v *models.Versioned) {
	if v.Version == 0 {
		v.Version = 1
	}
}

// translate приводит ошибки драйвера к ошибкам слоя хранения
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if IsUniqueViolation(err) {
		return errors.Join(ErrDuplicate, err)
	}
	return err
}

// IsUniqueViolation распознает нарушение уникальности (Postgres 23505 и sqlite)
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
