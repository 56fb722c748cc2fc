package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/semihalev/zlog/v2"
)

const configver = "1.0.0"

// Config type
type Config struct {
	Version             string
	LogLevel            string
	Bind                string
	ServerName          string
	API                 string
	AccessList          []string
	Bans                []string
	ConnectRate         float64
	ConnectBurst        int
	RegistrationTimeout Duration

	// Resolver
	ResolvConf  string
	Nameservers []string
	Timeout     Duration
	Retries     int
	Options     []string
	Domain      string
	Search      []string
	CacheSize   int
	TTLFloor    Duration
	MaxPending  int
	Exhaustion  string
	MaxSleep    Duration

	sVersion string
}

// ServerVersion return current server version
func (c *Config) ServerVersion() string {
	return c.sVersion
}

// Duration type
type Duration struct {
	time.Duration
}

// UnmarshalText for duration type
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// Default values applied when a key is missing or zero.
const (
	DefaultTimeout             = 4 * time.Second
	DefaultRetries             = 3
	DefaultCacheSize           = 4096
	DefaultTTLFloor            = 600 * time.Second
	DefaultMaxSleep            = 60 * time.Second
	DefaultRegistrationTimeout = 30 * time.Second
	DefaultResolvConf          = "/etc/resolv.conf"
)

var defaultConfig = `
# Config version, config and build versions can be different.
version = "%s"

# What kind of information should be logged, Log verbosity level [debug,info,warn,error]
loglevel = "info"

# Address to bind to for client connections
bind = ":6667"

# Name used as the prefix of server notices
servername = "chatd.local"

# Address to bind to for the http API server, left blank for disabled
api = "127.0.0.1:8080"

# Which clients allowed to connect
accesslist = [
"0.0.0.0/0",
"::0/0"
]

# Banned client networks, checked after the access list
bans = []

# Connections per second allowed from one address, 0 for disabled
connectrate = 1.0

# Burst of connections allowed from one address
connectburst = 4

# How long a connecting client may wait for its hostname lookup
registrationtimeout = "30s"

# Resolver configuration file, nameservers and search domains are read from it
resolvconf = "/etc/resolv.conf"

# Nameservers overriding the resolver configuration file. Example: "1.1.1.1:53"
# nameservers = [
#	"8.8.8.8:53",
#	"8.8.4.4:53"
# ]
nameservers = [
]

# Base timeout of a DNS query, doubled on every retry
timeout = "4s"

# Number of attempts before a DNS query fails
retries = 3

# Resolver options [recurse,defnames,dnsrch,primary,igntc,stayopen]
options = ["recurse", "defnames"]

# Default domain appended to unqualified names, left blank to use the resolver configuration file
domain = ""

# Search list for unqualified names, left empty to use the resolver configuration file
search = []

# Maximum number of cached host records
cachesize = 4096

# Minimum lifetime of a cached host record
ttlfloor = "600s"

# Maximum number of DNS queries in flight, 0 for unlimited
maxpending = 0

# What to do when maxpending is reached [reject,abort]
exhaustion = "reject"

# Longest interval between two resolver maintenance passes
maxsleep = "60s"
`

// Load loads the given config file
func Load(cfgfile, version string) (*Config, error) {
	config := new(Config)

	if _, err := os.Stat(cfgfile); os.IsNotExist(err) {
		if err := generateConfig(cfgfile); err != nil {
			return nil, err
		}
	}

	zlog.Info("Loading config file", "path", cfgfile)

	if _, err := toml.DecodeFile(cfgfile, config); err != nil {
		return nil, fmt.Errorf("could not load config: %s", err)
	}

	if config.Version != configver {
		zlog.Warn("Config file is out of version, you can generate new one and check the changes.")
	}

	config.sVersion = version
	config.SetDefaults()

	return config, nil
}

// SetDefaults fills zero values with the built-in defaults.
func (c *Config) SetDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Bind == "" {
		c.Bind = ":6667"
	}
	if c.ServerName == "" {
		c.ServerName = "chatd.local"
	}
	if c.RegistrationTimeout.Duration <= 0 {
		c.RegistrationTimeout.Duration = DefaultRegistrationTimeout
	}
	if c.ResolvConf == "" {
		c.ResolvConf = DefaultResolvConf
	}
	if c.Timeout.Duration <= 0 {
		c.Timeout.Duration = DefaultTimeout
	}
	if c.Retries <= 0 {
		c.Retries = DefaultRetries
	}
	if c.CacheSize <= 0 {
		c.CacheSize = DefaultCacheSize
	}
	if c.TTLFloor.Duration <= 0 {
		c.TTLFloor.Duration = DefaultTTLFloor
	}
	if c.MaxSleep.Duration <= 0 {
		c.MaxSleep.Duration = DefaultMaxSleep
	}
	c.Exhaustion = strings.ToLower(c.Exhaustion)
}

func generateConfig(path string) error {
	output, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("could not generate config: %s", err)
	}

	defer func() {
		err := output.Close()
		if err != nil {
			zlog.Warn("Config generation failed while file closing", "error", err.Error())
		}
	}()

	r := strings.NewReader(fmt.Sprintf(defaultConfig, configver))
	if _, err := io.Copy(output, r); err != nil {
		return fmt.Errorf("could not copy default config: %s", err)
	}

	if abs, err := filepath.Abs(path); err == nil {
		zlog.Info("Default config file generated", "config", abs)
	}

	return nil
}
