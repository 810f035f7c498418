package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BaseModel - общие поля. ID генерируется в приложении, а не в БД,
// чтобы идентификатор был известен до вставки (например, reference для шлюза).
type BaseModel struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (m *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

// Versioned - агрегат с оптимистической блокировкой
type Versioned struct {
	Version int64 `gorm:"not null;default:1" json:"version"`
}

func (v Versioned) CurrentVersion() int64 {
	return v.Version
}

// NowUTC - единая точка получения времени для моделей и сервисов
func NowUTC() time.Time {
	return time.Now().UTC()
}
