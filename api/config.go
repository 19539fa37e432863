package api

import (
	"sync"

	"github.com/spf13/viper"

	"github.com/microsoft/vsts-extension-retrospectives-sub000/logging"
)

type Config struct {
	StorageConfig
	ServerConfig
	RealtimeConfig
	AuthConfig
}

type StorageConfig struct {
	TableNameBoards string
	TableNameItems  string
}

type ServerConfig struct {
	Port int
}

type RealtimeConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

type AuthConfig struct {
	TokenSecret  string
	TokenTTLSecs int
}

var settingsOnce sync.Once

func ReadConfig() *Config {

	var conf = &Config{
		StorageConfig: StorageConfig{
			TableNameBoards: getString("storage.TableNameBoards"),
			TableNameItems:  getString("storage.TableNameItems"),
		},
		ServerConfig: ServerConfig{
			Port: getIntOrDefault("server.port", 8080),
		},
		RealtimeConfig: RealtimeConfig{
			RedisAddr:     getStringOrDefault("realtime.RedisAddr", "localhost:6379"),
			RedisPassword: getStringOrDefault("realtime.RedisPassword", ""),
			RedisDB:       getIntOrDefault("realtime.RedisDB", 0),
		},
		AuthConfig: AuthConfig{
			TokenSecret:  getString("auth.TokenSecret"),
			TokenTTLSecs: getIntOrDefault("auth.TokenTTLSecs", 3600),
		},
	}

	settingsOnce.Do(func() {
		logging.Log.Print("Reading settings!")
	})

	return conf
}

func getString(name string) string {
	if viper.IsSet(name) {
		v := viper.GetString(name)
		logging.Log.Printf("found '%s' in viper", name)
		return v
	}
	logging.Log.Fatalf("required environment variable '%s' is missing", name)
	return ""
}

func getIntOrDefault(name string, def int) int {
	if viper.IsSet(name) {
		v := viper.GetInt(name)
		logging.Log.Printf("found '%s' in viper", name)
		return v
	}
	logging.Log.Printf("could not find '%s' in viper! Returning default", name)
	return def
}

func getStringOrDefault(name string, def string) string {
	if viper.IsSet(name) {
		v := viper.GetString(name)
		logging.Log.Printf("found '%s' in viper", name)
		return v
	}
	logging.Log.Printf("could not find '%s' in viper! Returning default", name)
	return def
}
