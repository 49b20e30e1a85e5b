package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/jwtauth/v5"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/jinzhu/copier"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/tendant/chi-demo/app"
	dbutils "github.com/tendant/db-utils/db"

	"github.com/tutorlane/tutor-idm/pkg/account"
	"github.com/tutorlane/tutor-idm/pkg/notification"
	"github.com/tutorlane/tutor-idm/pkg/password"
	"github.com/tutorlane/tutor-idm/pkg/pendingsession"
	"github.com/tutorlane/tutor-idm/pkg/twofactor"
	"github.com/tutorlane/tutor-idm/pkg/twofactor/api"
)

type IdmDbConfig struct {
	Host     string `env:"IDM_PG_HOST" env-default:"localhost"`
	Port     uint16 `env:"IDM_PG_PORT" env-default:"5432"`
	Database string `env:"IDM_PG_DATABASE" env-default:"idm_db"`
	User     string `env:"IDM_PG_USER" env-default:"idm"`
	Password string `env:"IDM_PG_PASSWORD" env-default:"pwd"`
}

func (d IdmDbConfig) toDbConfig() dbutils.DbConfig {
	return dbutils.DbConfig{
		Host:     d.Host,
		Port:     d.Port,
		Database: d.Database,
		User:     d.User,
		Password: d.Password,
	}
}

type JwtConfig struct {
	JwtSecret string `env:"JWT_SECRET" env-default:"very-secure-jwt-secret"`
	Issuer    string `env:"JWT_ISSUER" env-default:"tutor-idm"`
	Audience  string `env:"JWT_AUDIENCE" env-default:"tutorlane"`
}

type StorageConfig struct {
	// postgres or file
	Backend string `env:"STORAGE_BACKEND" env-default:"postgres"`
	DataDir string `env:"DATA_DIR" env-default:"./data"`
}

type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" env-default:"0"`
}

type EmailConfig struct {
	Host     string `env:"SMTP_HOST"`
	Port     int    `env:"SMTP_PORT" env-default:"587"`
	TLS      bool   `env:"SMTP_TLS" env-default:"true"`
	Username string `env:"SMTP_USERNAME"`
	Password string `env:"SMTP_PASSWORD"`
	From     string `env:"SMTP_FROM"`
}

type TwofaConfig struct {
	OtpTTLMinutes          int  `env:"TWOFA_OTP_TTL_MINUTES" env-default:"10"`
	BackupCodeCount        int  `env:"TWOFA_BACKUP_CODE_COUNT" env-default:"10"`
	PendingSessionMultiUse bool `env:"PENDING_SESSION_MULTI_USE" env-default:"false"`
}

type Config struct {
	IdmDbConfig   IdmDbConfig
	AppConfig     app.AppConfig
	JwtConfig     JwtConfig
	StorageConfig StorageConfig
	RedisConfig   RedisConfig
	EmailConfig   EmailConfig
	TwilioConfig  notification.TwilioConfig
	TwofaConfig   TwofaConfig
}

func main() {
	godotenv.Load()

	config := Config{}
	cleanenv.ReadEnv(&config)

	server := app.DefaultApp()

	app.RoutesHealthz(server.R)
	app.RoutesHealthzReady(server.R)

	// Credential store
	var repo account.Repository
	switch config.StorageConfig.Backend {
	case "file":
		fileRepo, err := account.NewFileRepository(config.StorageConfig.DataDir)
		if err != nil {
			slog.Error("Failed creating file repository", "dataDir", config.StorageConfig.DataDir, "err", err)
			os.Exit(-1)
		}
		repo = fileRepo
	default:
		dbConfig := config.IdmDbConfig.toDbConfig()
		pool, err := dbutils.NewDbPool(context.Background(), dbConfig)
		if err != nil {
			slog.Error("Failed creating dbpool", "db", dbConfig.Database, "host", dbConfig.Host, "port", dbConfig.Port, "user", dbConfig.User)
			os.Exit(-1)
		}
		repo = account.NewPostgresRepository(pool)
	}

	// Pending-session store: redis when configured, process-local otherwise
	var sessions pendingsession.Store
	if config.RedisConfig.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     config.RedisConfig.Addr,
			Password: config.RedisConfig.Password,
			DB:       config.RedisConfig.DB,
		})
		redisOpts := []pendingsession.RedisOption{}
		if config.TwofaConfig.PendingSessionMultiUse {
			redisOpts = append(redisOpts, pendingsession.WithRedisMultiUse())
		}
		sessions = pendingsession.NewRedisStore(client, redisOpts...)
	} else {
		slog.Warn("Using in-memory pending-session store; not suitable for multi-instance deployments")
		inmemOpts := []pendingsession.InMemoryOption{}
		if config.TwofaConfig.PendingSessionMultiUse {
			inmemOpts = append(inmemOpts, pendingsession.WithMultiUse())
		}
		store := pendingsession.NewInMemoryStore(inmemOpts...)
		defer store.Close()
		sessions = store
	}

	// Notification transports, console fallback for anything unconfigured
	notifierOpts := []notification.NotificationManagerOption{
		notification.WithDefaultTemplates(),
	}
	if config.EmailConfig.Host != "" {
		var smtpConfig notification.SMTPConfig
		copier.Copy(&smtpConfig, &config.EmailConfig)
		notifierOpts = append(notifierOpts, notification.WithSMTP(smtpConfig))
	}
	if config.TwilioConfig.TwilioAccountSid != "" {
		notifierOpts = append(notifierOpts, notification.WithTwilio(config.TwilioConfig))
	}
	notifierOpts = append(notifierOpts, notification.WithConsoleFallback(notification.EmailSystem, notification.SMSSystem))

	notifier, err := notification.NewNotificationManagerWithOptions(notifierOpts...)
	if err != nil {
		slog.Error("Failed creating notification manager", "err", err)
		os.Exit(-1)
	}

	hasher := password.NewBcryptHasher(0)

	twofaService := twofactor.NewService(repo, notifier, hasher, sessions,
		twofactor.WithOtpTTL(time.Duration(config.TwofaConfig.OtpTTLMinutes)*time.Minute),
		twofactor.WithBackupCodeCount(config.TwofaConfig.BackupCodeCount),
	)

	jwtAuth := jwtauth.New("HS256", []byte(config.JwtConfig.JwtSecret), nil)

	twofaHandle := api.NewHandle(twofaService)

	twofaRouter := chi.NewRouter()
	twofaRouter.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))
	twofaHandle.Routes(twofaRouter, jwtAuth)

	server.R.Mount("/2fa", twofaRouter)

	server.Run()
}
