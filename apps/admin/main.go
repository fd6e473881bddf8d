package main

import (
	"fmt"
	"log"
	"os"

	"github.com/trezcool/masomo-grad/core"
	"github.com/trezcool/masomo-grad/core/modality"
	"github.com/trezcool/masomo-grad/core/user"
	logsvc "github.com/trezcool/masomo-grad/services/logger"
	"github.com/trezcool/masomo-grad/storage/database"
	sqlxrepos "github.com/trezcool/masomo-grad/storage/database/sqlx"
)

func main() {
	conf := core.NewConfig()
	logger := logsvc.NewRollbarLogger(log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile), conf)
	logger.Enable(!conf.Debug)

	// set up DB
	db, err := database.Open(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("opening database: %v", err), err)
	}
	dbx := sqlxrepos.NewDB(db)

	engConf, err := modality.NewEngineConfig(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("loading workflow policy: %v", err), err)
	}
	usrSvc := user.NewService(sqlxrepos.NewUserRepository(dbx))

	// start CLI
	cli := commandLine{
		db:          db,
		usrSvc:      usrSvc,
		modalitySvc: modality.NewService(sqlxrepos.NewModalityRepository(dbx), usrSvc, modality.NewEngine(engConf), nil, logger),
		out:         os.Stdout,
	}
	code := 0
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Error(fmt.Sprintf("\nerror: %s\n", err), err)
		}
		code = 1
	}
	_ = db.Close()
	os.Exit(code)
}
