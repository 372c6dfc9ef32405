package worker

import "time"

type Config struct {
	DBDSN           string        `envconfig:"FT_DB_DSN" required:"true"`
	DBMaxConns      int32         `envconfig:"FT_DB_MAX_CONNS" default:"10"`
	MetricsAddr     string        `envconfig:"FT_METRICS_ADDR" default:"0.0.0.0:9091"`
	LogLevel        string        `envconfig:"FT_LOG_LEVEL" default:"info"`
	PollInterval    time.Duration `envconfig:"FT_WORKER_POLL_INTERVAL" default:"1s"`
	IdleBackoff     time.Duration `envconfig:"FT_WORKER_IDLE_BACKOFF" default:"5s"`
	BatchSize       int32         `envconfig:"FT_WORKER_BATCH_SIZE" default:"20"`
	ShutdownTimeout time.Duration `envconfig:"FT_SHUTDOWN_TIMEOUT" default:"120s"`
	SMTPAddr        string        `envconfig:"FT_SMTP_ADDR" default:""`
	SMTPFrom        string        `envconfig:"FT_SMTP_FROM" default:"flowtrail@localhost"`
}
