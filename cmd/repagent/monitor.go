package main

import (
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/edge-sdn/repagent/pkg/agent"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Track ports and log every change to the table",
	Run:   runMonitor,
}

func monitorInit() {
	monitorCmd.Flags().Duration("poll-interval", defaultPollInterval,
		"How often to drain the event monitors")
	_ = viper.BindPFlag("monitor-poll-interval",
		monitorCmd.Flags().Lookup("poll-interval"))
}

func runMonitor(cmd *cobra.Command, args []string) {
	a := agent.New(agent.Config{})
	if err := a.Init(); err != nil {
		log.Fatal(err)
	}
	defer a.Shutdown()

	log.Info("monitoring devlink port and netdev rename events")
	ticker := time.NewTicker(viper.GetDuration("monitor-poll-interval"))
	defer ticker.Stop()
	for range ticker.C {
		if a.RunOnce() {
			log.Info("port table changed")
		}
	}
}
