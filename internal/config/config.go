package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Config holds the environment-driven settings shared by all services.
// Each main reads only the fields it needs.
type Config struct {
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	KafkaBrokers string

	HTTPPort string

	PaymentGatewayURL string
}

// Load reads the service configuration from the environment. A .env file in
// the working directory is picked up when present; real environment variables
// win over it.
func Load(service string) *Config {
	_ = godotenv.Load()

	return &Config{
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", service),
		DBPassword: getEnv("DB_PASSWORD", service),
		DBName:     getEnv("DB_NAME", service),

		KafkaBrokers: getEnv("KAFKA_BROKERS", "localhost:9092"),

		HTTPPort: getEnv("HTTP_PORT", "8080"),

		PaymentGatewayURL: getEnv("PAYMENT_GATEWAY_URL", "http://localhost:8090"),
	}
}

// DSN renders the Postgres connection string for lib/pq.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
