package database

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

var C *gorm.DB

func NewGorm() (*gorm.DB, error) {
	dsn := viper.GetString("database.dsn")
	return gorm.Open(postgres.Open(dsn), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{
			TablePrefix: viper.GetString("database.prefix"),
		},
		Logger: logger.New(&log.Logger, logger.Config{
			Colorful: true,
			LogLevel: lo.Ternary(viper.GetBool("debug.database"), logger.Info, logger.Silent),
		}),
		TranslateError: true,
	})
}

// NewSource opens the configured store backend.
// The memory driver keeps everything in process and is meant for development and tests.
func NewSource() (Stores, error) {
	switch driver := viper.GetString("database.driver"); driver {
	case DriverMemory:
		log.Warn().Msg("Using in-memory store, nothing will survive a restart.")
		return NewMemoryStores(), nil
	case DriverPostgres, "":
		db, err := NewGorm()
		if err != nil {
			return Stores{}, err
		}
		if err := RunMigration(db); err != nil {
			return Stores{}, fmt.Errorf("unable to run migration: %v", err)
		}
		C = db
		return NewGormStores(db), nil
	default:
		return Stores{}, fmt.Errorf("unknown database driver %q", driver)
	}
}
