package models

import (
	"gorm.io/datatypes"
)

// Profile - профиль пользователя. Роль берется отсюда, а не из токена.
type Profile struct {
	BaseModel
	Role        UserRole                    `gorm:"type:varchar(20);not null;index" json:"role"`
	DisplayName string                      `gorm:"not null" json:"display_name"`
	Email       *string                     `json:"email,omitempty"`
	Phone       *string                     `json:"phone,omitempty"`
	Location    *string                     `json:"location,omitempty"`
	Skills      datatypes.JSONSlice[string] `json:"skills"`
	Verified    bool                        `gorm:"not null;default:false" json:"verified"`
	Rating      float64                     `gorm:"not null;default:0" json:"rating"`
	ReviewCount int                         `gorm:"not null;default:0" json:"review_count"`
}

func (Profile) TableName() string { return "profiles" }

// BankAccount - реквизиты фрилансера для выплат
type BankAccount struct {
	BaseModel
	OwnerID       string `gorm:"type:uuid;not null;uniqueIndex" json:"owner_id"`
	BankName      string `gorm:"not null" json:"bank_name"`
	AccountNumber string `gorm:"not null" json:"account_number"`
	AccountHolder string `gorm:"not null" json:"account_holder"`
	Verified      bool   `gorm:"not null;default:false" json:"verified"`
}

func (BankAccount) TableName() string { return "bank_accounts" }

// MaskedNumber - номер счета без первых цифр для ответов API
func (b *BankAccount) MaskedNumber() string {
	n := len(b.AccountNumber)
	if n <= 4 {
		return b.AccountNumber
	}
	masked := make([]byte, n)
	for i := range masked {
		if i < n-4 {
			masked[i] = '*'
		} else {
			masked[i] = b.AccountNumber[i]
		}
	}
	return string(masked)
}
