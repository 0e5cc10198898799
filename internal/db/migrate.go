package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/diewo77/go-achats/internal/config"
	"github.com/diewo77/go-achats/internal/models"
)

const connectAttempts = 5

// Connect opens the configured database. Postgres gets a few retries to let
// the container come up.
func Connect(ctx context.Context, cfg config.DatabaseConfig, log *zap.Logger) (*gorm.DB, error) {
	logLevel := logger.Silent
	if cfg.Debug {
		logLevel = logger.Info
	}
	gcfg := &gorm.Config{Logger: logger.Default.LogMode(logLevel), TranslateError: true}

	if cfg.Driver == "sqlite" {
		log.Info("opening sqlite database", zap.String("path", cfg.Path))
		return gorm.Open(sqlite.Open(cfg.DSN()), gcfg)
	}
	if cfg.Driver != "postgres" {
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.Driver)
	}

	log.Info("connecting to database",
		zap.String("host", cfg.Host), zap.Int("port", cfg.Port),
		zap.String("dbname", cfg.DBName), zap.String("user", cfg.User))
	var (
		db  *gorm.DB
		err error
	)
	for i := 1; i <= connectAttempts; i++ {
		db, err = gorm.Open(postgres.Open(cfg.DSN()), gcfg)
		if err == nil {
			err = ping(ctx, db)
		}
		if err == nil {
			return db, nil
		}
		log.Warn("database not ready", zap.Int("attempt", i), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	return nil, fmt.Errorf("connect database after %d attempts: %w", connectAttempts, err)
}

func ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// All lists every persisted model in dependency order.
func All() []any {
	return []any{
		// Auth & Authorization
		&models.Permission{},
		&models.Profile{},
		&models.Departement{},
		&models.User{},
		// Référentiels
		&models.Projet{},
		&models.Tiers{},
		&models.Fournisseur{},
		&models.Article{},
		&models.MouvementStock{},
		&models.PaymentCategory{},
		&models.PaymentMethod{},
		// Workflow
		&models.Besoin{},
		&models.BesoinLigne{},
		&models.DemandeAchat{},
		&models.DAArticle{},
		&models.BonLivraison{},
		&models.BLArticle{},
		&models.EcritureComptable{},
		&models.Caisse{},
		&models.CaisseMouvement{},
		&models.WorkflowEvent{},
		&models.Attachment{},
	}
}

// Migrate runs AutoMigrate for all models and checks the core tables exist.
func Migrate(db *gorm.DB) error {
	for _, m := range All() {
		if err := db.AutoMigrate(m); err != nil {
			return fmt.Errorf("automigrate %T: %w", m, err)
		}
	}
	for _, table := range []string{"users", "profiles", "besoins", "caisse_mouvements"} {
		if !db.Migrator().HasTable(table) {
			return errors.New("missing table after migration: " + table)
		}
	}
	return nil
}
