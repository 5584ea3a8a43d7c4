package domain

import "time"

// Worker is a registered member of the GC worker fleet.
// Secret holds the sealed credential and is never serialized.
type Worker struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Username    string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"username"`
	Secret      []byte    `gorm:"not null" json:"-"`
	DisplayName string    `gorm:"type:varchar(128)" json:"display_name"`
	Jobs        []Job     `gorm:"foreignKey:WorkerID;constraint:OnDelete:CASCADE" json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

func (Worker) TableName() string {
	return "gc_workers"
}
