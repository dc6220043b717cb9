package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danthegoodman1/icetier/crdb"
	"github.com/danthegoodman1/icetier/datastore"
	"github.com/danthegoodman1/icetier/db"
	"github.com/danthegoodman1/icetier/gologger"
	"github.com/danthegoodman1/icetier/http_server"
	"github.com/danthegoodman1/icetier/metastore"
	"github.com/danthegoodman1/icetier/migrations"
	"github.com/danthegoodman1/icetier/partitioner"
	"github.com/danthegoodman1/icetier/readbuffer"
	"github.com/danthegoodman1/icetier/utils"
)

var logger = gologger.NewLogger()

func main() {
	logger.Debug().Msg("starting icetier")

	ds, err := datastore.FromEnv()
	if err != nil {
		logger.Error().Err(err).Msg("error creating datastore")
		os.Exit(1)
	}

	plans, err := partitioner.ParsePlan(utils.PARTITION_PLAN)
	if err != nil {
		logger.Error().Err(err).Msg("error parsing PARTITION_PLAN")
		os.Exit(1)
	}

	var ms metastore.MetaStore = metastore.NewMemoryMetaStore()
	if utils.CRDB_DSN != "" {
		if utils.MIGRATE_ON_START {
			if _, err := migrations.RunMigrations(utils.CRDB_DSN); err != nil {
				logger.Error().Err(err).Msg("error running migrations")
				os.Exit(1)
			}
		}
		if err := migrations.CheckMigrations(utils.CRDB_DSN); err != nil {
			logger.Error().Err(err).Msg("Error checking migrations")
			os.Exit(1)
		}
		pool, err := crdb.ConnectToDB(context.Background(), utils.CRDB_DSN)
		if err != nil {
			logger.Error().Err(err).Msg("error connecting to CRDB")
			os.Exit(1)
		}
		ms = metastore.NewCRDBMetaStore(pool)
	}

	d := db.New(readbuffer.NewHandle(nil), ds, ms, plans)
	n, err := d.Restore(logger.WithContext(context.Background()))
	if err != nil {
		logger.Error().Err(err).Msg("error restoring chunks from metastore")
		os.Exit(1)
	}
	logger.Info().Int("chunks", n).Msg("restored persisted chunks")
	httpServer, err := http_server.StartHTTPServer(d)
	if err != nil {
		logger.Error().Err(err).Msg("error starting HTTP server")
		os.Exit(1)
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	logger.Warn().Msg("received shutdown signal!")

	// For AWS ALB needing some time to de-register pod
	sleepTime := utils.SHUTDOWN_SLEEP_SEC
	logger.Info().Msg(fmt.Sprintf("sleeping for %ds before exiting", sleepTime))

	time.Sleep(time.Second * time.Duration(sleepTime))
	logger.Info().Msg(fmt.Sprintf("slept for %ds, exiting", sleepTime))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown HTTP server")
	} else {
		logger.Info().Msg("successfully shutdown HTTP server")
	}
	if err := ds.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown datastore")
	}
	if err := ms.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown metastore")
	}
}
