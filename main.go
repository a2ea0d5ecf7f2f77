package main

import (
	"os"
	"time"

	"github.com/eric2788/shortrec/internal/controllers/library"
	"github.com/eric2788/shortrec/internal/controllers/record"
	"github.com/eric2788/shortrec/internal/modules/config"
	"github.com/eric2788/shortrec/internal/modules/rest"
	"github.com/eric2788/shortrec/internal/services/capture"
	lib "github.com/eric2788/shortrec/internal/services/library"
	"github.com/eric2788/shortrec/internal/services/path"
	"github.com/eric2788/shortrec/internal/services/source"
	"github.com/eric2788/shortrec/utils"
	"go.uber.org/fx"
)

func main() {

	app := fx.New(
		config.Module,
		rest.Module,

		fx.Provide(path.NewService),
		fx.Provide(lib.NewService),
		fx.Provide(capture.NewPipeline),
		fx.Provide(capture.NewService),
		fx.Provide(source.NewService),

		fx.Invoke(record.NewController),
		fx.Invoke(library.NewController),

		fx.StartTimeout(utils.Ternary(os.Getenv("ANONYMOUS_LOGIN") == "true", 15*time.Second, 1*time.Minute)),
	)

	app.Run()
}
