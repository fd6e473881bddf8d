package dig_container

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"syscall"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/dig"

	echoapi "github.com/trezcool/masomo-grad/apps/api/echo"
	"github.com/trezcool/masomo-grad/core"
	"github.com/trezcool/masomo-grad/core/modality"
	"github.com/trezcool/masomo-grad/core/user"
	appfs "github.com/trezcool/masomo-grad/fs"
	emailsvc "github.com/trezcool/masomo-grad/services/email"
	logsvc "github.com/trezcool/masomo-grad/services/logger"
	notifysvc "github.com/trezcool/masomo-grad/services/notification"
	"github.com/trezcool/masomo-grad/storage/database"
	sqlxrepos "github.com/trezcool/masomo-grad/storage/database/sqlx"
)

type DBLoggerParam struct {
	dig.In
	Logger core.Logger `name:"dbLogger"`
}

// ServerParams are the dependencies of the API server.
type ServerParams struct {
	dig.In
	Conf        *core.Config
	Logger      core.Logger
	Validate    *validator.Validate
	Translator  ut.Translator
	UserSvc     *user.Service
	ModalitySvc *modality.Service
	Shutdown    Shutdown
}

// Shutdown receives OS signals and internal shutdown requests.
type Shutdown chan os.Signal

func newShutdown() Shutdown {
	return make(Shutdown, 1)
}

func newLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "API : ", log.LstdFlags)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newDBLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newDB(conf *core.Config, loggerParam DBLoggerParam) (*sql.DB, *sqlx.DB) {
	setUp := func() (*sql.DB, error) {
		if err := database.CreateIfNotExist(conf); err != nil {
			return nil, err
		}

		db, err := database.Open(conf)
		if err != nil {
			return nil, err
		}

		if err = database.Migrate(db); err != nil {
			return nil, err
		}
		return db, nil
	}

	db, err := setUp()
	if err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	return db, sqlxrepos.NewDB(db)
}

func newEmailService(conf *core.Config, logger core.Logger) core.EmailService {
	core.ParseEmailTemplates(appfs.FS, "templates", conf, logger)
	if conf.Debug {
		return emailsvc.NewConsoleService(conf, os.Stdout, logger)
	}
	return emailsvc.NewSendgridService(conf, logger)
}

func newValidator(translator ut.Translator, logger core.Logger) *validator.Validate {
	validate := validator.New()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	user.LoadCommonPasswords(appfs.FS, "assets/common-passwords.txt", logger)
	return validate
}

func newEngine(conf *core.Config, logger core.Logger) *modality.Engine {
	engConf, err := modality.NewEngineConfig(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("loading workflow policy: %v", err), err)
	}
	return modality.NewEngine(engConf)
}

func newPublisher(users *user.Service, mailer core.EmailService, logger core.Logger) modality.Publisher {
	return notifysvc.NewEmailPublisher(users, mailer, logger)
}

func newModalityService(
	repo modality.Repository,
	users *user.Service,
	engine *modality.Engine,
	publisher modality.Publisher,
	logger core.Logger,
) *modality.Service {
	return modality.NewService(repo, users, engine, publisher, logger)
}

func newServer(p ServerParams) *echoapi.Server {
	return echoapi.NewServer(echoapi.Deps{
		Conf:        p.Conf,
		Logger:      p.Logger,
		Validate:    p.Validate,
		Translator:  p.Translator,
		UserSvc:     p.UserSvc,
		ModalitySvc: p.ModalitySvc,
	}, echoapi.WithShutdownSignal(func() {
		select {
		case p.Shutdown <- syscall.SIGTERM:
		default:
		}
	}))
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newShutdown))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newDB))
	must(c.Provide(newEmailService))
	must(c.Provide(sqlxrepos.NewUserRepository))
	must(c.Provide(sqlxrepos.NewModalityRepository))
	must(c.Provide(core.NewTranslator))
	must(c.Provide(newValidator))
	must(c.Provide(user.NewService))
	must(c.Provide(newEngine))
	must(c.Provide(newPublisher))
	must(c.Provide(newModalityService))
	must(c.Provide(newServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
