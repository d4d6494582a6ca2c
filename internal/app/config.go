package app

import (
	"strings"
	"time"

	"github.com/edgeward/fleet-backend/internal/jobs/monitor"
	"github.com/edgeward/fleet-backend/internal/platform/envutil"
	"github.com/edgeward/fleet-backend/internal/platform/logger"
)

type Config struct {
	Port         string
	Environment  string
	Version      string
	ServiceName  string
	JWTSecretKey string
	CORSOrigins  []string
	LongPollMax  time.Duration
	Monitor      monitor.Config
}

func LoadConfig(log *logger.Logger) Config {
	var origins []string
	for _, o := range strings.Split(envutil.String("CORS_ALLOWED_ORIGINS", "", log), ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return Config{
		Port:         envutil.String("PORT", "8080", log),
		Environment:  envutil.String("APP_ENV", "development", log),
		Version:      envutil.String("APP_VERSION", "dev", log),
		ServiceName:  envutil.String("OTEL_SERVICE_NAME", "fleet-backend", log),
		JWTSecretKey: envutil.String("JWT_SECRET_KEY", "", log),
		CORSOrigins:  origins,
		LongPollMax:  envutil.Duration("DESIRED_LONGPOLL_MAX", 60*time.Second, log),
		Monitor:      monitor.LoadConfig(log),
	}
}
