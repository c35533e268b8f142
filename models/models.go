package models

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB
var Redis *redis.Client

func ConnectDatabase(dsnUrl, env string) error {

	// Configure logger
	var logLevel logger.LogLevel
	if env == "prod" {
		logLevel = logger.Error
	} else {
		logLevel = logger.Info
	}

	newLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold: time.Second,
			LogLevel:      logLevel,
			Colorful:      true,
		},
	)

	database, err := gorm.Open(postgres.Open(dsnUrl), &gorm.Config{
		Logger: newLogger,
	})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}

	if os.Getenv("DB_MIGRATE") == "true" {
		if err := database.AutoMigrate(&ConnectedAccount{}, &PublishLog{}); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	getDb, err := database.DB()
	if err != nil {
		return err
	}
	getDb.SetMaxIdleConns(10)
	getDb.SetMaxOpenConns(100)
	getDb.SetConnMaxLifetime(time.Hour)
	DB = database
	return nil
}

func ConnectRedis(host, port, user, password, db, env string) error {
	dbInt, _ := strconv.Atoi(db)
	options := &redis.Options{
		Addr:        fmt.Sprintf("%s:%s", host, port),
		Password:    password,
		DB:          dbInt,
		Username:    user,
		ReadTimeout: -1,
	}

	// Managed redis requires TLS in prod
	if env == "prod" {
		options.TLSConfig = &tls.Config{
			ServerName: host,
		}
	}

	rdb := redis.NewClient(options)

	if _, err := rdb.Ping(context.Background()).Result(); err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}

	Redis = rdb
	return nil
}
