package internal

import (
	"go.uber.org/dig"
	"go.uber.org/zap"
)

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config *Config
	logger *zap.Logger
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithLogger overrides the logger built from the configuration.
func WithLogger(log *zap.Logger) Option {
	return func(a *application) {
		a.logger = log
	}
}

func newApplication(opts []Option) (*application, error) {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, errConfigRequired
	}
	return app, nil
}

func (a *application) container() (*dig.Container, error) {
	var copts []ContainerOption
	if a.logger != nil {
		copts = append(copts, WithContainerLogger(a.logger))
	}
	return BuildContainer(a.config, copts...)
}
