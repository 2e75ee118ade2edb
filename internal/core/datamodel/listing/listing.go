package listing

import (
	"time"

	"github.com/shopspring/decimal"
)

type Room struct {
	ID          string          `gorm:"column:id;primaryKey;type:uuid"`
	Title       string          `gorm:"column:title;not null"`
	Location    string          `gorm:"column:location"`
	MonthlyRent decimal.Decimal `gorm:"column:monthly_rent;type:numeric(12,2)"`
	OwnerName   string          `gorm:"column:owner_name;not null"`
	OwnerEmail  string          `gorm:"column:owner_email;not null"`
	OwnerPhone  string          `gorm:"column:owner_phone"`
	Status      string          `gorm:"column:status;not null;default:pending_review"`
	CreatedAt   time.Time       `gorm:"column:created_at"`
	UpdatedAt   time.Time       `gorm:"column:updated_at"`
}

func (Room) TableName() string {
	return "rooms"
}

type Profile struct {
	ID         string    `gorm:"column:id;primaryKey;type:uuid"`
	FullName   string    `gorm:"column:full_name;not null"`
	Email      string    `gorm:"column:email;not null"`
	Phone      string    `gorm:"column:phone"`
	Occupation string    `gorm:"column:occupation"`
	Location   string    `gorm:"column:location"`
	Status     string    `gorm:"column:status;not null;default:pending_review"`
	CreatedAt  time.Time `gorm:"column:created_at"`
	UpdatedAt  time.Time `gorm:"column:updated_at"`
}

func (Profile) TableName() string {
	return "profiles"
}
