package main

import (
	"net/http"
	"os"
	"os/signal"

	"github.com/gorilla/mux"
	"github.com/hashicorp/go-hclog"
	"github.com/socialnet/socialnet-chat/config"
	"github.com/socialnet/socialnet-chat/directory"
	"github.com/socialnet/socialnet-chat/globals"
	"github.com/socialnet/socialnet-chat/notify"
	"github.com/socialnet/socialnet-chat/persistence"
	"github.com/socialnet/socialnet-chat/presence"
	"github.com/socialnet/socialnet-chat/rooms"
	"github.com/socialnet/socialnet-chat/ws"
	"github.com/spf13/pflag"
)

var (
	configPath = pflag.StringP("config", "c", "", "path to config file or directory")
	addr       = pflag.String("addr", "localhost:8881", "ws service address (including port)")
	sslCert    = pflag.String("ssl-cert", "", "SSL cert for websocket (optional)")
	sslKey     = pflag.String("ssl-key", "", "SSL key for websocket (optional)")
)

func main() {
	flagSet := config.GetFlagSet()
	pflag.CommandLine.AddFlagSet(flagSet)
	pflag.Parse()

	globalConfig, err := config.ReadConfiguration(*configPath, flagSet)
	if err != nil {
		panic(err)
	}

	if globalConfig.LogLevel != "" {
		globals.AppLogger.SetLevel(hclog.LevelFromString(globalConfig.LogLevel))
	}

	persister, err := persistence.NewPersister(globalConfig)
	if err != nil {
		panic(err)
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	go func() {
		<-c
		if persister != nil {
			persister.Close()
		}
		globals.AppLogger.Error("interrupted!")
		os.Exit(1)
	}()

	resolver, err := rooms.NewResolver(persister, globals.AppLogger)
	if err != nil {
		panic(err)
	}
	registry := presence.NewRegistry(persister, globals.AppLogger)

	var notifier *notify.Dispatcher
	if sender := notify.NewSMTPSender(globalConfig.NotificationConfig); sender != nil && persister != nil {
		userDirectory := directory.NewDirectory(persister)
		notifier = notify.NewDispatcher(resolver, userDirectory, sender, globals.AppLogger)
	} else {
		globals.AppLogger.Info("notifications disabled")
	}

	hub := ws.NewHub(globalConfig, persister, resolver, registry, notifier)
	go hub.Run()

	router := mux.NewRouter()
	router.HandleFunc("/chat", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWS(hub, w, r)
	}).Methods(http.MethodGet)
	http.Handle("/", router)

	globals.AppLogger.Info("listening", "addr", *addr)
	if *sslCert != "" && *sslKey != "" {
		err = http.ListenAndServeTLS(*addr, *sslCert, *sslKey, nil)
	} else {
		err = http.ListenAndServe(*addr, nil)
	}
	globals.AppLogger.Error("stopped listening", "error", err)
}
