package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Boards   BoardsConfig   `mapstructure:"boards"`
	Game     GameConfig     `mapstructure:"game"`
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	StaticDir      string        `mapstructure:"static_dir"`
	RPCAddress     string        `mapstructure:"rpc_address"`
	HealthAddress  string        `mapstructure:"health_address"`
	SessionTimeout time.Duration `mapstructure:"session_timeout"`
}

type BoardsConfig struct {
	Dir string `mapstructure:"dir"`
}

type GameConfig struct {
	MoveInterval    time.Duration `mapstructure:"move_interval"`
	ChatInterval    time.Duration `mapstructure:"chat_interval"`
	RoomIdleTimeout time.Duration `mapstructure:"room_idle_timeout"`
	ReapInterval    time.Duration `mapstructure:"reap_interval"`
	MaxCodeAttempts int           `mapstructure:"max_code_attempts"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type DatabaseConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Driver   string         `mapstructure:"driver"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.static_dir", "public")
	v.SetDefault("server.rpc_address", ":3001")
	v.SetDefault("server.health_address", ":3002")
	v.SetDefault("server.session_timeout", 2*time.Minute)

	v.SetDefault("boards.dir", "boards")

	v.SetDefault("game.move_interval", 500*time.Millisecond)
	v.SetDefault("game.chat_interval", 500*time.Millisecond)
	v.SetDefault("game.room_idle_timeout", 10*time.Minute)
	v.SetDefault("game.reap_interval", time.Minute)
	v.SetDefault("game.max_code_attempts", 16)

	v.SetDefault("log.level", "info")

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.driver", "gorm")
	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.dbname", "gridchase")
}

// LoadConfig reads config.yaml from path if present. Environment variables
// override file values, e.g. SERVER_PORT or the bare PORT.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("server.port", "SERVER_PORT", "PORT"); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}
	return &config, nil
}
