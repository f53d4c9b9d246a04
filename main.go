package main

import (
	"net/http"
	"os"
	"time"

	"github.com/fiffu/uptimesync/app"
	"github.com/fiffu/uptimesync/channels"
	"github.com/fiffu/uptimesync/config"
	"github.com/fiffu/uptimesync/lib"
	"github.com/fiffu/uptimesync/lib/metrics"
	"github.com/fiffu/uptimesync/lib/reconciler"
	"github.com/fiffu/uptimesync/lib/scanner"
	"github.com/fiffu/uptimesync/lib/taskqueue"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func NewLogger() (*zap.Logger, error) {
	switch os.Getenv("ENVIRONMENT") {
	default:
		return zap.NewDevelopment()

	case "production":
		logCfg := zap.NewProductionConfig()
		logCfg.EncoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			t = t.UTC()
			zapcore.ISO8601TimeEncoder(t, enc)
		}
		return logCfg.Build()
	}
}

func main() {
	fx.New(
		fx.Provide(config.NewConfig),
		fx.Provide(NewLogger),

		fx.Provide(fx.Annotate(
			app.NewRegistry,
			fx.As(new(prometheus.Registerer)),
			fx.As(new(prometheus.Gatherer)),
		)),
		fx.Provide(metrics.New),

		fx.Provide(app.NewDatabase),
		fx.Provide(app.NewStore),
		fx.Provide(app.NewTransport),
		fx.Provide(app.NewRedisLocker),

		fx.Provide(channels.NewRegistry),
		fx.Provide(channels.NewChannel),
		fx.Provide(taskqueue.NewQueue),
		fx.Provide(reconciler.NewReconciler),

		fx.Provide(lib.NewService),
		fx.Provide(func(svc *lib.Service) scanner.DetectorDisabler { return svc }),
		fx.Provide(scanner.NewScanner),
		fx.Provide(app.NewAPI),

		fx.Invoke(func(*http.Server, *reconciler.Reconciler, *scanner.Scanner) {}),
	).Run()
}
