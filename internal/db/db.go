package db

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"collaborative-draft-editor/internal/config"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var AppDb *gorm.DB

// DSN builds the postgres connection string for cfg
func DSN(cfg config.Config) string {
	return fmt.Sprintf("host=%v user=%v password=%v dbname=%v port=%v sslmode=disable",
		cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort)
}

func newLogger(env string) logger.Interface {
	level := logger.Warn
	switch env {
	case "production":
		level = logger.Error
	case "development":
		level = logger.Info
	}
	return logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
			Colorful:                  env == "development",
		},
	)
}

// ConnectDb opens AppDb and checks the connection
func ConnectDb() error {
	db, err := gorm.Open(postgres.Open(DSN(config.AppConfig)), &gorm.Config{
		Logger:         newLogger(config.AppConfig.Environment),
		TranslateError: true,
	})
	if err != nil {
		return fmt.Errorf("connect to db: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("connect to db: %w", err)
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return fmt.Errorf("ping db: %w", err)
	}

	AppDb = db
	log.Println("Success connecting to db")
	return nil
}

func CloseDb() {
	if AppDb == nil {
		return
	}
	sqlDB, err := AppDb.DB()
	if err == nil {
		err = sqlDB.Close()
	}
	if err != nil {
		log.Printf("failed to close db %v", err)
		return
	}
	AppDb = nil
	log.Println("Closing DB")
}
