package main

import (
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/edge-sdn/repagent/pkg/agent"
)

const (
	defaultListenAddr   = "localhost:8765"
	defaultPollInterval = time.Second
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the tracking agent with its HTTP status API",
	Run:   runAgent,
}

func agentInit() {
	agentCmd.Flags().String("listen", defaultListenAddr,
		"Address for the HTTP status API")
	agentCmd.Flags().Duration("poll-interval", defaultPollInterval,
		"How often to drain the event monitors")
	agentCmd.Flags().String("pf-config-template", "",
		"Override the sysfs path template for the host PF MAC fallback")
	agentCmd.Flags().Bool("verify-netdev", false,
		"Verify resolved interfaces against rtnetlink")
	_ = viper.BindPFlag("listen", agentCmd.Flags().Lookup("listen"))
	_ = viper.BindPFlag("poll-interval", agentCmd.Flags().Lookup("poll-interval"))
	_ = viper.BindPFlag("pf-config-template", agentCmd.Flags().Lookup("pf-config-template"))
	_ = viper.BindPFlag("verify-netdev", agentCmd.Flags().Lookup("verify-netdev"))
}

func runAgent(cmd *cobra.Command, args []string) {
	a := agent.New(agent.Config{
		PFConfigTemplate: viper.GetString("pf-config-template"),
		VerifyNetdev:     viper.GetBool("verify-netdev"),
	})
	if err := a.Init(); err != nil {
		log.Fatal(err)
	}
	defer a.Shutdown()

	srv := &http.Server{
		Handler: a.Router(),
		Addr:    viper.GetString("listen"),
	}
	go func() {
		log.Infof("HTTP status API listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	ticker := time.NewTicker(viper.GetDuration("poll-interval"))
	defer ticker.Stop()
	for range ticker.C {
		if a.RunOnce() {
			log.Debug("port table changed")
		}
	}
}
