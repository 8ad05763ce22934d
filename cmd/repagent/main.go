package main

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	configFile string
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:   "repagent",
	Short: "Track devlink representor ports and resolve their netdev names",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if debug || viper.GetBool("debug") {
			log.SetLevel(log.DebugLevel)
		} else {
			log.SetLevel(log.InfoLevel)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "",
		"Path to config file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false,
		"Set Debug log level")
	cobra.OnInitialize(initConfig)

	rootCmd.AddCommand(agentCmd)
	agentInit()
	rootCmd.AddCommand(dumpCmd)
	dumpInit()
	rootCmd.AddCommand(monitorCmd)
	monitorInit()
}

func initConfig() {
	if configFile == "" {
		return
	}
	viper.SetConfigFile(configFile)
	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("unable to read config file %s: %v", configFile, err)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
