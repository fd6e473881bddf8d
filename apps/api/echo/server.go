package echoapi

import (
	"context"
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/trezcool/masomo-grad/core"
	"github.com/trezcool/masomo-grad/core/modality"
	"github.com/trezcool/masomo-grad/core/user"
)

type (
	// Deps are the services the API is built on.
	Deps struct {
		Conf        *core.Config
		Logger      core.Logger
		Validate    *validator.Validate
		Translator  ut.Translator
		UserSvc     *user.Service
		ModalitySvc *modality.Service
	}

	Option func(*Server)

	Server struct {
		deps           Deps
		app            *echo.Echo
		disableReqLogs bool
		signalShutdown func()
	}
)

// WithoutRequestLogs disables the access log middleware.
func WithoutRequestLogs() Option {
	return func(s *Server) { s.disableReqLogs = true }
}

// WithShutdownSignal registers the func called when a handler hits a core shutdown error.
func WithShutdownSignal(signal func()) Option {
	return func(s *Server) { s.signalShutdown = signal }
}

func NewServer(deps Deps, opts ...Option) *Server {
	s := &Server{
		deps: deps,
		app:  echo.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setup()
	return s
}

func (s *Server) setup() {
	conf := s.deps.Conf

	s.app.HideBanner = true
	s.app.Pre(middleware.RemoveTrailingSlash())
	if !s.disableReqLogs {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(conf.Debug || conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.deps.Logger, s.deps.Translator, s.signalShutdown)
	s.app.Debug = conf.Debug

	s.app.GET("/", home)

	v1 := s.app.Group("/v1")
	jwt := middleware.JWTWithConfig(jwtConfig(conf))

	registerUserAPI(v1, jwt, s.deps)
	registerModalityAPI(v1, jwt, s.deps)
}

func (s *Server) Start(addr string) error {
	return s.app.Start(addr)
}

func (s *Server) Stop(ctx context.Context) error {
	return s.app.Shutdown(ctx)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to Masomo Grad API!")
}
