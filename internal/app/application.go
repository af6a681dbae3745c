package app

import (
	"context"
	"errors"
	"io"

	"github.com/raysh454/reconcile/internal/logging"
)

// Application is the runtime state container of the server binary. It owns the
// service and the resources behind it and releases them on Shutdown.
type Application struct {
	Config  *Config
	Logger  logging.Logger
	Service *Service

	closers []io.Closer
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewApplication constructs an Application from already-constructed parts. closers
// are closed in reverse order on Shutdown, after the service.
func NewApplication(cfg *Config, logger logging.Logger, svc *Service, closers ...io.Closer) *Application {
	ctx, cancel := context.WithCancel(context.Background())
	return &Application{
		Config:  cfg,
		Logger:  logger,
		Service: svc,
		closers: closers,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Context is cancelled when Shutdown starts.
func (a *Application) Context() context.Context {
	return a.ctx
}

// Shutdown closes event subscriptions and then the owned resources. Errors from the
// closers are joined.
func (a *Application) Shutdown(ctx context.Context) error {
	if a == nil {
		return errors.New("application is nil")
	}
	if a.Logger != nil {
		a.Logger.Info("application shutdown initiated")
	}
	a.cancel()

	if a.Service != nil {
		a.Service.Close()
	}

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
			if a.Logger != nil {
				a.Logger.Warn("close returned error", logging.Field{Key: "error", Value: err.Error()})
			}
		}
	}
	return errors.Join(errs...)
}
