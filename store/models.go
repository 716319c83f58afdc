package store

import "time"

// ServerProfile is a saved connection target. The password is stored
// Fernet-encrypted; callers go through the secrets package to read it.
type ServerProfile struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Alias     string    `gorm:"not null" json:"alias"`
	Hostname  string    `gorm:"not null" json:"hostname"`
	Port      int       `gorm:"not null;default:22" json:"port"`
	Username  string    `gorm:"not null" json:"username"`
	Password  string    `json:"-"` // Fernet-encrypted
	GroupID   uint      `gorm:"not null;index" json:"group_id"`
	Remark    string    `json:"remark"`
	SortOrder int       `gorm:"not null;default:0" json:"sort_order"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// ProfileGroup buckets server profiles. Exactly one group carries
// IsDefault and absorbs profiles from deleted groups.
type ProfileGroup struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"uniqueIndex;not null;size:64" json:"name"`
	IsDefault bool      `gorm:"not null;default:false" json:"is_default"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

type Setting struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `gorm:"not null" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
