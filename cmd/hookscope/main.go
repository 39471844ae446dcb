package main

import (
	"log/slog"
	"net/http"
	"os"

	_ "net/http/pprof" // profiling

	"hookscope/internal/hookscope/cmd"
	"hookscope/internal/hookscope/log"
)

func main() {
	log.Setup(os.Getenv("HOOKSCOPE_SLOG_FILE"), os.Getenv("HOOKSCOPE_LOG_LEVEL") == "debug")
	defer log.RecoverPanic("main", func() {
		slog.Error("Application terminated due to unhandled panic")
	})

	if os.Getenv("HOOKSCOPE_PROFILE") != "" {
		go func() {
			slog.Info("Serving pprof at localhost:6060")
			if httpErr := http.ListenAndServe("localhost:6060", nil); httpErr != nil {
				slog.Error("Failed to pprof listen", "error", httpErr)
			}
		}()
	}

	cmd.Execute()
}
