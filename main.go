// @title Feedback Board API
// @version 1.0
// @description Backend API for collaborative feedback boards: columns, grouping, bounded voting, realtime sync

// @securityDefinitions.apikey BearerToken
// @in header
// @name Authorization
package main

import (
	"github.com/spf13/viper"

	"github.com/microsoft/vsts-extension-retrospectives-sub000/api"
	"github.com/microsoft/vsts-extension-retrospectives-sub000/logging"
)

func main() {
	logging.BootstrapLogger()

	// Load env
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		logging.Log.Errorf("Failed to read config file: %v", err)
		panic("Failed to read config file: " + err.Error())
	}

	// Read config
	config := api.ReadConfig()

	// Start the service (locally or inside the lambda)
	service := api.NewServer(config)
	service.Start()
}
