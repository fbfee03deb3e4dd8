package config

import (
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	log "github.com/sirupsen/logrus"
)

type Application struct {
	Host     string             `koanf:"host" yaml:"host"`
	Server   Server             `koanf:"server" yaml:"server"`
	Database Database           `koanf:"db" yaml:"db"`
	Sync     Sync               `koanf:"sync" yaml:"sync"`
	View     View               `koanf:"view" yaml:"view"`
	Google   Google             `koanf:"google" yaml:"google"`
	Accounts map[string]Account `koanf:"accounts" yaml:"accounts"`
}

type Server struct {
	Addr string `koanf:"addr" yaml:"addr"`
}

type Database struct {
	Path string `koanf:"path" yaml:"path"`
}

type Sync struct {
	Interval       time.Duration `koanf:"interval" yaml:"interval"`
	RequestTimeout time.Duration `koanf:"requesttimeout" yaml:"requesttimeout"`
	RetryInitial   time.Duration `koanf:"retryinitial" yaml:"retryinitial"`
	MaxBackoff     time.Duration `koanf:"maxbackoff" yaml:"maxbackoff"`
	Parallel       int           `koanf:"parallel" yaml:"parallel"`
	// Calendars holds per-calendar enable flags; calendars not listed are enabled.
	Calendars map[string]bool `koanf:"calendars" yaml:"calendars"`
}

type View struct {
	CacheSize int    `koanf:"cachesize" yaml:"cachesize"`
	Timezone  string `koanf:"timezone" yaml:"timezone"`
	WeekStart string `koanf:"weekstart" yaml:"weekstart"`
}

type Google struct {
	ClientId     string `koanf:"clientid" yaml:"clientid"`
	ClientSecret string `koanf:"clientsecret" yaml:"clientsecret"`
}

type AuthKind string

const (
	AuthBasic  AuthKind = "basic"
	AuthGoogle AuthKind = "google"
)

// Account describes a CalDAV server connection. Credential is a reference,
// never the secret itself: "env:NAME" or "file:/path/to/secret".
type Account struct {
	URL        string   `koanf:"url" yaml:"url"`
	Username   string   `koanf:"username" yaml:"username"`
	Credential string   `koanf:"credential" yaml:"credential"`
	Auth       AuthKind `koanf:"auth" yaml:"auth"`
}

func Defaults() Application {
	return Application{
		Host: "http://localhost:8181",
		Server: Server{
			Addr: ":8181",
		},
		Database: Database{
			Path: "./data/solcal.db",
		},
		Sync: Sync{
			Interval:       15 * time.Minute,
			RequestTimeout: 30 * time.Second,
			RetryInitial:   30 * time.Second,
			MaxBackoff:     30 * time.Minute,
			Parallel:       4,
		},
		View: View{
			CacheSize: 64,
			Timezone:  "Local",
			WeekStart: "monday",
		},
	}
}

func Load(path string) (Application, error) {
	var k = koanf.New(".")

	err := k.Load(structs.Provider(Defaults(), "koanf"), nil)
	if err != nil {
		log.Errorf("error loading config from structs: %v", err)
		return Application{}, err
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if os.IsNotExist(err) {
			log.Infof("Config file not found at %s, using defaults and environment variables", path)
		} else {
			log.Errorf("error loading config from YAML: %v", err)
			return Application{}, err
		}
	} else {
		log.Infof("Loaded configuration from file: %s", path)
	}

	err = k.Load(env.Provider(".", env.Opt{
		Prefix: "SOLCAL_",
		TransformFunc: func(k, v string) (string, any) {
			// SOLCAL_SYNC_INTERVAL -> sync.interval
			k = strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(k, "SOLCAL_")), "_", ".")
			return k, v
		},
	}), nil)
	if err != nil {
		log.Errorf("error loading config from envs: %v", err)
		return Application{}, err
	}

	var app Application
	if err := k.Unmarshal("", &app); err != nil {
		return Application{}, err
	}
	if err := app.Validate(); err != nil {
		return Application{}, err
	}

	return app, nil
}
