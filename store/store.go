// Package store persists server profiles, profile groups, and key/value
// settings in a local SQLite database.
package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/termbridge/termbridge/config"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

const defaultGroupName = "Default"

func Init() error {
	dbPath := config.Cfg.DatabasePath
	dbDir := filepath.Dir(dbPath)
	if dbDir != "" {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return fmt.Errorf("create db directory: %w", err)
		}
	}

	var err error
	DB, err = gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}

	if err := DB.AutoMigrate(&ServerProfile{}, &ProfileGroup{}, &Setting{}); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}

	if err := seedDefaults(); err != nil {
		return fmt.Errorf("seed defaults: %w", err)
	}

	return nil
}

// seedDefaults makes sure exactly one default group exists.
func seedDefaults() error {
	var count int64
	DB.Model(&ProfileGroup{}).Where("is_default = ?", true).Count(&count)
	if count == 0 {
		if err := DB.Create(&ProfileGroup{Name: defaultGroupName, IsDefault: true}).Error; err != nil {
			return fmt.Errorf("seed default group: %w", err)
		}
	}
	return nil
}

func Close() error {
	if DB != nil {
		sqlDB, err := DB.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}

// Setting helpers

func GetSetting(key string) (string, error) {
	var s Setting
	if err := DB.Where("key = ?", key).First(&s).Error; err != nil {
		return "", err
	}
	return s.Value, nil
}

func SetSetting(key, value string) error {
	return DB.Where("key = ?", key).Assign(Setting{Value: value}).FirstOrCreate(&Setting{Key: key}).Error
}

func DeleteSetting(key string) error {
	return DB.Where("key = ?", key).Delete(&Setting{}).Error
}

// Profile helpers

func CreateProfile(p *ServerProfile) error {
	if p.GroupID == 0 {
		g, err := DefaultGroup()
		if err != nil {
			return fmt.Errorf("resolve default group: %w", err)
		}
		p.GroupID = g.ID
	}
	if err := DB.Create(p).Error; err != nil {
		return err
	}
	if p.SortOrder == 0 {
		return DB.Model(p).Update("sort_order", p.ID).Error
	}
	return nil
}

func GetProfile(id uint) (*ServerProfile, error) {
	var p ServerProfile
	if err := DB.First(&p, id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func UpdateProfile(p *ServerProfile) error {
	return DB.Save(p).Error
}

func DeleteProfile(id uint) error {
	return DB.Delete(&ServerProfile{}, id).Error
}

func ListProfiles() ([]ServerProfile, error) {
	var profiles []ServerProfile
	if err := DB.Order("sort_order, id").Find(&profiles).Error; err != nil {
		return nil, err
	}
	return profiles, nil
}

func ListProfilesByGroup(groupID uint) ([]ServerProfile, error) {
	var profiles []ServerProfile
	if err := DB.Where("group_id = ?", groupID).Order("sort_order, id").Find(&profiles).Error; err != nil {
		return nil, err
	}
	return profiles, nil
}

// ReorderProfiles rewrites sort_order to match the given id order.
func ReorderProfiles(ids []uint) error {
	for i, id := range ids {
		if err := DB.Model(&ServerProfile{}).Where("id = ?", id).Update("sort_order", i+1).Error; err != nil {
			return err
		}
	}
	return nil
}

// Group helpers

func DefaultGroup() (*ProfileGroup, error) {
	var g ProfileGroup
	if err := DB.Where("is_default = ?", true).First(&g).Error; err != nil {
		return nil, err
	}
	return &g, nil
}

func CreateGroup(g *ProfileGroup) error {
	return DB.Create(g).Error
}

func ListGroups() ([]ProfileGroup, error) {
	var groups []ProfileGroup
	if err := DB.Order("id").Find(&groups).Error; err != nil {
		return nil, err
	}
	return groups, nil
}

// DeleteGroup removes a group and moves its profiles to the default group.
// The default group itself cannot be deleted.
func DeleteGroup(id uint) error {
	var g ProfileGroup
	if err := DB.First(&g, id).Error; err != nil {
		return err
	}
	if g.IsDefault {
		return fmt.Errorf("cannot delete the default group")
	}
	def, err := DefaultGroup()
	if err != nil {
		return fmt.Errorf("resolve default group: %w", err)
	}
	if err := DB.Model(&ServerProfile{}).Where("group_id = ?", id).Update("group_id", def.ID).Error; err != nil {
		return err
	}
	return DB.Delete(&ProfileGroup{}, id).Error
}
