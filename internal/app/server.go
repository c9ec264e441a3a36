package app

import (
	"context"

	"session-keeper/internal/access"
	commonhttp "session-keeper/internal/common/http"
	"session-keeper/internal/common/logging"
	"session-keeper/internal/common/utils"
	"session-keeper/internal/exchange"
	"session-keeper/internal/login"
	"session-keeper/internal/server"
	"session-keeper/internal/session"
	"session-keeper/internal/storage"
)

func (app *App) initializeExchange() {
	httpClient := commonhttp.NewHTTPClient(
		commonhttp.WithTimeout(app.Config.HTTPTimeout),
		commonhttp.WithUserAgent("session-keeper/"+Version),
	)

	app.Exchange = exchange.NewHTTPClient(exchange.Endpoints{
		SignIn:   app.Config.SignInEndpoint,
		SignOut:  app.Config.SignOutEndpoint,
		Identity: app.Config.IdentityEndpoint,
		Access:   app.Config.AccessEndpoint,
	},
		exchange.WithHTTPClient(httpClient),
		exchange.WithLogger(app.Logger.WithFields(logging.Field{Key: "component", Value: "exchange"})),
	)
}

func (app *App) initializeManagers(ctx context.Context) {
	sessionOpts := []session.Option{
		session.WithLogger(app.Logger.WithFields(logging.Field{Key: "component", Value: "user_session"})),
		session.WithPollInterval(app.Config.PollInterval),
		session.WithMargin(app.Config.UserSessionMargin),
	}
	if app.Locker != nil {
		sessionOpts = append(sessionOpts, session.WithLocker(app.Locker, ""))
	}
	app.Sessions = session.New(ctx, app.Exchange, app.Store, sessionOpts...)

	app.Access = access.New(ctx, app.Exchange,
		access.WithLogger(app.Logger.WithFields(logging.Field{Key: "component", Value: "service_access"})),
		access.WithPollInterval(app.Config.PollInterval),
		access.WithMargin(app.Config.ServiceAccessMargin),
	)

	app.Logger.Info("Managers: Configured",
		logging.String("poll_interval", utils.FormatDuration(app.Config.PollInterval)),
		logging.String("user_session_margin", utils.FormatDuration(app.Config.UserSessionMargin)),
		logging.String("service_access_margin", utils.FormatDuration(app.Config.ServiceAccessMargin)),
		logging.Bool("distributed_lock", app.Locker != nil),
	)

	app.Login = login.NewController(app.Sessions, app.Access, app.Exchange, login.Config{
		SignInEndpoint: app.Config.SignInEndpoint,
		RedirectType:   app.Config.RedirectType,
	}, app.Logger.WithFields(logging.Field{Key: "component", Value: "login"}))
}

func (app *App) initializeServer() {
	handlers := login.NewHandlers(app.Login, app.Logger.WithFields(logging.Field{Key: "component", Value: "callback_server"})).
		WithHealthCheck(func(ctx context.Context) error {
			return storage.Health(ctx, app.Store)
		})
	app.Server = server.New(handlers.Router(), app.Config.CallbackAddress, app.Logger)
}
