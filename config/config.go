package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Server  ServerConfig
	Redis   RedisConfig
	MySQL   MySQLConfig
	Kafka   KafkaConfig
	Stream  StreamConfig
	Seckill SeckillConfig
	Log     LogConfig
}

type ServerConfig struct {
	Addr        string `envconfig:"SERVER_ADDR" default:":8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":8081"`
}

type RedisConfig struct {
	Addr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	Password string `envconfig:"REDIS_PASSWORD" default:""`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

type MySQLConfig struct {
	User     string `envconfig:"MYSQL_USER" default:"root"`
	Password string `envconfig:"MYSQL_PASSWORD" default:""`
	Host     string `envconfig:"MYSQL_HOST" default:"127.0.0.1"`
	Port     string `envconfig:"MYSQL_PORT" default:"3306"`
	DBName   string `envconfig:"MYSQL_DB" default:"flashsale"`
}

type KafkaConfig struct {
	Brokers     []string `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
	OrdersTopic string   `envconfig:"KAFKA_ORDERS_TOPIC" default:"voucher-orders"`
	DLQTopic    string   `envconfig:"KAFKA_DLQ_TOPIC" default:"voucher-orders-dlq"`
}

type StreamConfig struct {
	Name     string `envconfig:"ORDER_STREAM" default:"stream.orders"`
	Group    string `envconfig:"ORDER_GROUP" default:"g1"`
	Consumer string `envconfig:"ORDER_CONSUMER" default:"c1"`
}

type SeckillConfig struct {
	OrderLockTTL time.Duration `envconfig:"ORDER_LOCK_TTL" default:"10s"`
	ReadBlock    time.Duration `envconfig:"ORDER_READ_BLOCK" default:"2s"`
	CacheTTL     time.Duration `envconfig:"VOUCHER_CACHE_TTL" default:"30m"`
}

type LogConfig struct {
	Level string `envconfig:"LOG_LEVEL" default:"info"`
}

func (c MySQLConfig) DSN() string {
	return fmt.Sprintf(
		"%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.User, c.Password, c.Host, c.Port, c.DBName,
	)
}

func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to process env config: %w", err)
	}
	return cfg, nil
}
