package api

import "time"

type Config struct {
	HTTPAddr        string        `envconfig:"FT_HTTP_ADDR" default:"0.0.0.0:8080"`
	DBDSN           string        `envconfig:"FT_DB_DSN" required:"true"`
	DBMaxConns      int32         `envconfig:"FT_DB_MAX_CONNS" default:"20"`
	MetricsAddr     string        `envconfig:"FT_METRICS_ADDR" default:"0.0.0.0:9090"`
	LogLevel        string        `envconfig:"FT_LOG_LEVEL" default:"info"`
	ShutdownTimeout time.Duration `envconfig:"FT_SHUTDOWN_TIMEOUT" default:"30s"`
	SMTPAddr        string        `envconfig:"FT_SMTP_ADDR" default:""`
	SMTPFrom        string        `envconfig:"FT_SMTP_FROM" default:"flowtrail@localhost"`
}
