package main

import (
	"log"
	"os"

	"github.com/elimuhq/elimu/core"
	"github.com/elimuhq/elimu/core/session"
	logsvc "github.com/elimuhq/elimu/services/logger"
	"github.com/elimuhq/elimu/services/restclient"
	sessionstore "github.com/elimuhq/elimu/storage/session"
)

var logger *log.Logger

func main() {
	defer os.Exit(0)

	logger = log.New(os.Stderr, "", 0)

	conf := core.NewConfig()
	svcLogger := logsvc.NewStdLogger("ELIMU")

	store := sessionstore.NewFileStore(conf.Session.FilePath)
	client := restclient.NewClient(conf, store, svcLogger)
	gate := session.NewGate(store, client.GateLogin())

	cli := commandLine{
		conf:   conf,
		client: client,
		gate:   gate,
		logger: svcLogger,
	}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Printf("\nerror: %s\n", err)
		}
		os.Exit(1)
	}
}
