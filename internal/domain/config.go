package domain

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"reflect"

	configKit "github.com/gookit/config/v2"
	"github.com/gookit/config/v2/yaml"
	"github.com/imdario/mergo"
	"github.com/mitchellh/mapstructure"
)

const (
	OptionName = "name"
	OptionDesc = "description"
)

// Configuration encapsulates the configuration for the backend.
// These are all parsed and converted into flag arguments using the
// provided 'flag' package (i.e., the one that's part of the standard library).
type Configuration struct {
	YAML string `name:"yaml" description:"Path to config file in the yml format."`

	ServerPort              int    `name:"server-port" yaml:"server-port" json:"server-port" description:"Port of the backend server."`
	BaseListenPrefix        string `name:"base-url" yaml:"base-url" json:"base-url" default:"/" description:"The base path on which the server listens. Useful when deployed behind a reverse proxy."`
	PrometheusEndpoint      string `name:"prometheus-endpoint" yaml:"prometheus-endpoint" json:"prometheus-endpoint" default:"/metrics" description:"Endpoint on which Prometheus metric scraping requests are served."`
	AdminUser               string `name:"admin_username" yaml:"admin_username" json:"admin_username"`
	AdminPassword           string `name:"admin_password" yaml:"admin_password" json:"admin_password"`
	TokenValidDurationSec   int    `name:"token_valid_duration_sec" yaml:"token_valid_duration_sec" json:"token_valid_duration_sec"`
	TokenRefreshIntervalSec int    `name:"token_refresh_interval_sec" yaml:"token_refresh_interval_sec" json:"token_refresh_interval_sec"`
	ExpectedOriginPort      int    `name:"expected-origin-port" description:"Port of the expected origin for websocket connections from the frontend."`
	ExpectedOriginAddresses string `name:"expected_websocket_origins" json:"expected_websocket_origins" yaml:"expected_websocket_origins" description:"Comma-separated list of addresses (without ports) passed as a single string. These are acceptable/expected origins for the websocket connection upgrader to allow."`

	// PushUpdateInterval is how frequently (in seconds) the server pushes session-state
	// updates to subscribed frontend websockets.
	PushUpdateInterval int `name:"push-update-interval" description:"How frequently the server should push updates about active bulk sessions to the frontend"`

	// PausePollIntervalMillis is the interval at which an in-flight bulk operation re-checks
	// a paused session before resuming or observing a cancellation.
	PausePollIntervalMillis int `name:"pause-poll-interval-milliseconds" yaml:"pause-poll-interval-milliseconds" json:"pause-poll-interval-milliseconds" description:"Interval, in milliseconds, at which queued bulk operations re-check a paused session."`

	// MaxConcurrentLimit is the largest per-batch concurrency the API will accept.
	// Individual batch requests may ask for anything in [1, MaxConcurrentLimit].
	MaxConcurrentLimit int `name:"max-concurrent-limit" yaml:"max-concurrent-limit" json:"max-concurrent-limit" description:"Upper bound on the per-batch concurrency that batch-start requests may ask for."`

	RemoteAPIBaseURL        string `name:"remote-api-base-url" yaml:"remote-api-base-url" json:"remote-api-base-url" description:"Base URL of the remote network-management API against which bulk operations are executed."`
	RemoteAPIToken          string `name:"remote-api-token" yaml:"remote-api-token" json:"remote-api-token" description:"Bearer token used to authenticate with the remote network-management API."`
	RemoteRequestTimeoutSec int    `name:"remote-request-timeout-seconds" yaml:"remote-request-timeout-seconds" json:"remote-request-timeout-seconds" description:"Per-request timeout, in seconds, applied by the remote API client."`

	Debug   bool `name:"debug" description:"Display debug logs."`
	Verbose bool `name:"v" description:"Display verbose logs."`
}

func GetDefaultConfig() *Configuration {
	return &Configuration{
		ServerPort:              8000,
		BaseListenPrefix:        "/",
		PrometheusEndpoint:      "/metrics",
		ExpectedOriginPort:      9001,
		ExpectedOriginAddresses: "localhost,127.0.0.1",
		PushUpdateInterval:      1,
		PausePollIntervalMillis: 500,
		MaxConcurrentLimit:      20,
		RemoteAPIBaseURL:        "https://api.netmgmt.cloud",
		RemoteRequestTimeoutSec: 60,
		TokenValidDurationSec:   3600,
		TokenRefreshIntervalSec: 5400,
	}
}

func (opts *Configuration) String() string {
	out, err := json.MarshalIndent(opts, "", "  ")
	if err != nil {
		panic(err)
	}

	return string(out)
}

// CheckUsage registers one command-line flag per tagged Configuration field, parses the
// command line, and then overlays any YAML configuration file specified via the 'yaml' flag.
func (opts *Configuration) CheckUsage() {
	var printInfo bool
	flag.BoolVar(&printInfo, "h", false, "help info?")

	oType := reflect.TypeOf(opts).Elem()
	oVal := reflect.ValueOf(opts).Elem()
	numField := oType.NumField()
	for i := 0; i < numField; i++ {
		field := oType.Field(i)
		if field.PkgPath != "" {
			continue
		}

		name := field.Tag.Get(OptionName)
		if name == "" {
			continue
		}
		desc := field.Tag.Get(OptionDesc)
		opt := oVal.Field(i)
		switch field.Type.Kind() {
		case reflect.Bool:
			flag.BoolVar(opt.Addr().Interface().(*bool), name, opt.Bool(), desc)
		case reflect.Int:
			flag.IntVar(opt.Addr().Interface().(*int), name, int(opt.Int()), desc)
		case reflect.Int64:
			flag.Int64Var(opt.Addr().Interface().(*int64), name, opt.Int(), desc)
		case reflect.Float64:
			flag.Float64Var(opt.Addr().Interface().(*float64), name, opt.Float(), desc)
		case reflect.String:
			flag.StringVar(opt.Addr().Interface().(*string), name, opt.String(), desc)
		default:
			panic(fmt.Errorf("unsupported config type: %v", field.Type.Kind()))
		}
	}

	flag.Parse()

	if printInfo {
		_, _ = fmt.Fprintf(os.Stderr, "Usage: ./bulkops-backend [options]\n")
		_, _ = fmt.Fprintf(os.Stderr, "Available options:\n")
		flag.PrintDefaults()
		os.Exit(0)
	}

	if opts.YAML != "" {
		fmt.Printf("Reading configuration from file: \"%s\"\n", opts.YAML)
		configKit.WithOptions(func(opt *configKit.Options) {
			opt.SetTagName(OptionName)
			// DecoderConfig initialization is due a bug in configKit: no TagName will be applied if DecoderConfig is nil.
			opt.DecoderConfig = &mapstructure.DecoderConfig{}
		})
		configKit.AddDriver(yaml.Driver)
		if err := configKit.LoadFiles(opts.YAML); err != nil {
			panic(err)
		}
		fileOpts := &Configuration{}
		if err := configKit.BindStruct("", fileOpts); err != nil {
			panic(err)
		}

		if err := mergo.Merge(opts, fileOpts, mergo.WithOverride); err != nil {
			panic(err)
		}
	} else {
		fmt.Printf("[WARNING] No YAML configuration file specified...\n")
	}

	if opts.PausePollIntervalMillis <= 0 {
		opts.PausePollIntervalMillis = 500
	}
	if opts.MaxConcurrentLimit <= 0 {
		opts.MaxConcurrentLimit = 20
	}

	fmt.Printf("Server configuration:\n%v\n", opts)
}
