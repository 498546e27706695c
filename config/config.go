package config

import "time"

type Config struct {
	AppName                       string   `env:"APP_NAME" env-default:"quill-api"`
	Port                          int      `env:"PORT" env-default:"3004"`
	LogLevel                      string   `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs                    bool     `env:"PRETTY_LOGS" env-default:"false"`
	HttpServerWriteTimeoutSeconds int      `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerReadTimeoutSeconds  int      `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerIdleTimeoutSeconds  int      `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" env-default:"10"`
	MaxHeaderBytes                int      `env:"HTTP_SERVER_MAX_HEADER_BYTES" env-default:"64000"` // 64KB
	ReadHeaderTimeoutSeconds      int      `env:"HTTP_SERVER_READ_HEADER_TIMEOUT_SECONDS" env-default:"10"`
	AllowOrigins                  []string `env:"HTTP_SERVER_ALLOW_ORIGINS" env-default:"*"`
	AllowMethods                  []string `env:"HTTP_SERVER_ALLOW_METHODS" env-default:"GET,POST,PUT,DELETE"`
	StartupMaxAttempts            int      `env:"STARTUP_MAX_ATTEMPTS" env-default:"5"`

	// PostgreSQL
	DatabaseDriver                string        `env:"DB_DRIVER" env-default:"postgres"`
	DatabaseHost                  string        `env:"DB_HOST" env-default:""`
	DatabasePort                  string        `env:"DB_PORT" env-default:"5432"`
	DatabaseUserName              string        `env:"DB_USER_NAME" env-default:""`
	DatabasePassword              string        `env:"DB_PASSWORD" env-default:""`
	DatabaseName                  string        `env:"DB_NAME" env-default:"quill"`
	DatabaseSSLMode               string        `env:"DB_SQL_MODE" env-default:"disable"`
	DatabaseMaxOpenConns          int           `env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	DatabaseMaxIdleConns          int           `env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	DatabaseConnMaxLifetime       time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"10s"`
	DatabaseMigrationFolderPath   string        `env:"DB_MIGRATION_FOLDER_PATH" env-default:"db/pg"`
	DatabaseMigrationVersion      int           `env:"DB_MIGRATION_VERSION" env-default:"0"`
	DatabaseMigrationForce        int           `env:"DB_MIGRATION_FORCE" env-default:"0"`
	DatabaseMigrationAutoRollback bool          `env:"DB_MIGRATION_AUTO_ROLLBACK" env-default:"true"`

	// Redis (per-request match lock; engine runs without it single-process)
	RedisEnabled        bool   `env:"REDIS_ENABLED" env-default:"false"`
	RedisHost           string `env:"REDIS_HOST" env-default:"localhost"`
	RedisPort           int    `env:"REDIS_PORT" env-default:"6379"`
	RedisPassword       string `env:"REDIS_PASSWORD" env-default:""`
	RedisDB             int    `env:"REDIS_DB" env-default:"0"`
	MatchLockTTLSeconds int    `env:"MATCH_LOCK_TTL_SECONDS" env-default:"30"`

	// Kafka Producer settings (match history + notifications)
	KafkaBrokers            []string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	KafkaMatchEventsTopic   string   `env:"KAFKA_MATCH_EVENTS_TOPIC" env-default:"match-events"`
	KafkaNotificationsTopic string   `env:"KAFKA_NOTIFICATIONS_TOPIC" env-default:"match-notifications"`
	KafkaBatchSize          int      `env:"KAFKA_BATCH_SIZE" env-default:"100"`
	KafkaBatchTimeout       int      `env:"KAFKA_BATCH_TIMEOUT_MS" env-default:"100"`
	KafkaRequiredAcks       int      `env:"KAFKA_REQUIRED_ACKS" env-default:"1"`
	KafkaCompression        string   `env:"KAFKA_COMPRESSION" env-default:"snappy"`

	// Kafka Consumer (request-created triggers)
	KafkaTriggerTopic    string `env:"KAFKA_TRIGGER_TOPIC" env-default:"scribe-requests"`
	KafkaConsumerGroup   string `env:"KAFKA_CONSUMER_GROUP" env-default:"quill-consumer"`
	KafkaConsumerEnabled bool   `env:"KAFKA_CONSUMER_ENABLED" env-default:"true"`

	// Matching
	MatchDefaultRadiusKm  float64 `env:"MATCH_DEFAULT_RADIUS_KM" env-default:"50"`
	MatchCriticalRadiusKm float64 `env:"MATCH_CRITICAL_RADIUS_KM" env-default:"100"`
	MatchBackupCount      int     `env:"MATCH_BACKUP_COUNT" env-default:"3"`

	// Expiry sweep
	SweepIntervalSeconds int `env:"SWEEP_INTERVAL_SECONDS" env-default:"30"`
	SweepBatchSize       int `env:"SWEEP_BATCH_SIZE" env-default:"100"`
}
