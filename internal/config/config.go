package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

// Configはアプリ全体の設定
type Config struct {
	Port  string `envconfig:"PORT" default:"8080"`
	GoEnv string `envconfig:"GO_ENV" default:"development"` // development/production

	DatabaseURL      string `envconfig:"DATABASE_URL"` // あれば最優先
	PostgresUser     string `envconfig:"POSTGRES_USER" default:"postgres"`
	PostgresPassword string `envconfig:"POSTGRES_PASSWORD" default:"postgres"`
	PostgresDB       string `envconfig:"POSTGRES_DB" default:"app"`
	PostgresHost     string `envconfig:"POSTGRES_HOST" default:"localhost"`
	PostgresPort     int    `envconfig:"POSTGRES_PORT" default:"5432"`
	PostgresSSLMode  string `envconfig:"POSTGRES_SSLMODE" default:"disable"`
	DBMaxOpenConns   int    `envconfig:"DB_MAX_OPEN_CONNS" default:"25"`
	DBMaxIdleConns   int    `envconfig:"DB_MAX_IDLE_CONNS" default:"5"`
	AutoMigrate      bool   `envconfig:"AUTO_MIGRATE" default:"true"`

	JWTSecret string `envconfig:"JWT_SECRET" required:"true"` // JWT署名シークレット

	PaymobHMACSecret string `envconfig:"PAYMOB_HMAC_SECRET" required:"true"`

	RedisAddr     string `envconfig:"REDIS_ADDR"` // 空ならキャッシュ無効
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	CacheTTLSec   int    `envconfig:"CACHE_TTL_SEC" default:"300"`

	KafkaBrokers    string `envconfig:"KAFKA_BROKERS"` // カンマ区切り。空ならイベント無効
	KafkaOrderTopic string `envconfig:"KAFKA_ORDER_TOPIC" default:"order.status"`

	AWSRegion        string `envconfig:"AWS_REGION" default:"ap-northeast-1"`
	SQSQueueURL      string `envconfig:"SQS_QUEUE_URL"`       // 空ならメモリキュー
	SNSAlertTopicARN string `envconfig:"SNS_ALERT_TOPIC_ARN"` // 空ならログのみ

	QueueWorkers    int `envconfig:"QUEUE_WORKERS" default:"4"`
	QueueMaxRetries int `envconfig:"QUEUE_MAX_RETRIES" default:"5"`

	TaxRate               decimal.Decimal `envconfig:"TAX_RATE" default:"0"`
	ShippingFee           decimal.Decimal `envconfig:"SHIPPING_FEE" default:"0"`
	FreeShippingThreshold decimal.Decimal `envconfig:"FREE_SHIPPING_THRESHOLD" default:"0"`

	RestockOnRefund bool `envconfig:"RESTOCK_ON_REFUND" default:"false"`
	RestockOnReturn bool `envconfig:"RESTOCK_ON_RETURN" default:"false"`
}

// Load は .env（あれば）を読んでから環境変数を Config に詰める
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, err
	}

	//範囲チェック
	if cfg.TaxRate.IsNegative() || cfg.ShippingFee.IsNegative() || cfg.FreeShippingThreshold.IsNegative() {
		return Config{}, fmt.Errorf("TAX_RATE, SHIPPING_FEE and FREE_SHIPPING_THRESHOLD must be >= 0")
	}
	if cfg.QueueWorkers <= 0 {
		return Config{}, fmt.Errorf("QUEUE_WORKERS must be > 0")
	}

	return cfg, nil
}

// DSN は gorm/postgres 用の接続文字列
func (c Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.PostgresHost, c.PostgresPort, c.PostgresUser, c.PostgresPassword, c.PostgresDB, c.PostgresSSLMode,
	)
}

func (c Config) Brokers() []string {
	if strings.TrimSpace(c.KafkaBrokers) == "" {
		return nil
	}
	var out []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

func (c Config) IsProduction() bool {
	return c.GoEnv == "production"
}
