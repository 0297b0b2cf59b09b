package main

import (
	"flag"
	"fmt"
	stdlog "log"
	"os"
	"os/signal"
	"path"
	"syscall"

	"github.com/GOptimistic/CloudShuffleService-fork/common/conf"
	"github.com/GOptimistic/CloudShuffleService-fork/common/logger"
	"github.com/GOptimistic/CloudShuffleService-fork/common/protocol"
	"github.com/GOptimistic/CloudShuffleService-fork/common/util"
	"github.com/GOptimistic/CloudShuffleService-fork/network/server"
	"github.com/GOptimistic/CloudShuffleService-fork/worker/store"
)

var (
	log = &logger.ColorLogger{Color: true, Level: logger.LOG_LEVEL_INFO}
	sig = make(chan os.Signal, 1)
)

func init() {
	signal.Notify(sig, syscall.SIGTERM, syscall.SIGINT, syscall.SIGABRT)
}

func main() {
	port := flag.Int("port", 16789, "port served to shuffle clients")
	dir := flag.String("dir", "/tmp/css-worker", "root directory of committed partition files")
	debug := flag.Bool("debug", false, "debug log level")
	noColor := flag.Bool("nocolor", false, "disable colored log")
	logFile := flag.String("log", "", "log to file instead of stderr")
	flag.Parse()

	if *debug {
		log.Level = logger.LOG_LEVEL_ALL
	}
	log.Color = !*noColor
	if *logFile != "" {
		file, err := os.OpenFile(path.Clean(*logFile), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
		if err != nil {
			panic(err)
		}
		defer file.Close()
		stdlog.SetOutput(file)
	}

	cssConf := conf.New()
	diskStore := store.NewDiskStore(*dir)
	srv := server.NewTransportServer(diskStore, server.WithLogger(log))

	addr := fmt.Sprintf(":%d", *port)
	if err := srv.ListenAndServe(addr); err != nil {
		log.Error("Failed to listen on %s: %v", addr, err)
		os.Exit(1)
	}
	log.Info("%s@%s serving %s on %s (fetch timeout %v)",
		protocol.WORKER_EP, util.LocalHostName(), *dir, addr, cssConf.FetchTimeout())

	<-sig
	log.Info("Shutting down...")
	srv.Close()
}
