package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/reedfamily/mcwarden/internal/jvm"
	"github.com/reedfamily/mcwarden/internal/logging"
)

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Server    ServerConfig
	Docker    DockerConfig
	HTTP      HTTPConfig
	Notify    NotifyConfig
	IPWatch   IPWatchConfig
	NATS      NATSConfig
	Events    EventsConfig
	Macros    []MacroConfig
	Schedules []ScheduleConfig
	Backup    BackupConfig
	Journal   JournalConfig
	Log       logging.Config
}

type ServerConfig struct {
	Executable   string
	Runtime      string
	MinHeap      jvm.HeapArgument
	MaxHeap      jvm.HeapArgument
	Options      []jvm.RuntimeOption
	ShowUI       bool
	StopCommand  string
	StopTimeout  time.Duration
	BufferSize   int
	Launcher     string // exec or docker
	AutoRestart  bool
	RestartDelay time.Duration
}

type DockerConfig struct {
	Image string
	Name  string
	// Ports are host:container pairs, e.g. "25565:25565".
	Ports  []string
	Memory jvm.HeapArgument
}

type HTTPConfig struct {
	Listen         string
	AdminUser      string
	AdminPass      string
	SessionTTL     time.Duration
	AllowedOrigins []string
}

type NotifyConfig struct {
	DiscordWebhook string
	// Events maps an event type id to a message template. Ids keep their case.
	Events      map[string]string
	Rate        float64
	Burst       int
	MaxAttempts int
}

type IPWatchConfig struct {
	Enabled   bool
	Interval  time.Duration
	Resolver  string // dns or command
	DNSServer string
	Command   []string
	// Announce is sent to the server when the address changes; {0} is the new address.
	Announce string
}

type NATSConfig struct {
	URL           string
	SubjectPrefix string
}

// NotifyTemplate is one notify.events entry.
type NotifyTemplate struct {
	Event    string `mapstructure:"event"`
	Template string `mapstructure:"template"`
}

type ScheduleConfig struct {
	Name    string `mapstructure:"name"`
	Cron    string `mapstructure:"cron"`
	Action  string `mapstructure:"action"`
	Command string `mapstructure:"command"`
}

type BackupConfig struct {
	Dir   string
	World string
	Keep  int
}

type JournalConfig struct {
	MaxRows int
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.runtime", "java")
	v.SetDefault("server.stop_command", "stop")
	v.SetDefault("server.stop_timeout", "60s")
	v.SetDefault("server.buffer_size", 64)
	v.SetDefault("server.launcher", "exec")
	v.SetDefault("server.restart_delay", "10s")

	v.SetDefault("docker.image", "eclipse-temurin:21-jre")
	v.SetDefault("docker.name", "mcwarden-server")
	v.SetDefault("docker.ports", []string{"25565:25565"})

	v.SetDefault("http.listen", ":8080")
	v.SetDefault("http.admin_user", "admin")
	v.SetDefault("http.admin_pass", "admin")
	v.SetDefault("http.session_ttl", "168h")
	v.SetDefault("http.allowed_origins", []string{"http://localhost:5173", "http://localhost:8080"})

	v.SetDefault("notify.rate", 0.5)
	v.SetDefault("notify.burst", 5)
	v.SetDefault("notify.max_attempts", 5)

	v.SetDefault("ip_watch.interval", "5m")
	v.SetDefault("ip_watch.resolver", "dns")
	v.SetDefault("ip_watch.dns_server", "resolver1.opendns.com:53")
	v.SetDefault("ip_watch.command", []string{"curl", "-s", "https://ifconfig.me"})

	v.SetDefault("nats.subject_prefix", "mcwarden.events")

	v.SetDefault("backup.dir", "./backups")
	v.SetDefault("backup.world", "world")
	v.SetDefault("backup.keep", 10)

	v.SetDefault("journal.max_rows", 10000)

	v.SetDefault("log.level", "info")
}

// NewViper returns a viper instance reading MCWARDEN_* environment variables, with defaults.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("MCWARDEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// ReadFile loads path into v. An empty path searches for mcwarden.yaml in the working
// directory and is not an error when nothing is found.
func ReadFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("mcwarden")
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// Load turns v into a validated Config.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	var errs []error
	invalid := func(key string, err error) {
		errs = append(errs, fmt.Errorf("%s: %w", key, err))
	}

	s := &cfg.Server
	s.Executable = v.GetString("server.executable")
	if s.Executable != "" {
		abs, err := filepath.Abs(s.Executable)
		if err != nil {
			invalid("server.executable", err)
		}
		s.Executable = abs
	}
	s.Runtime = v.GetString("server.runtime")
	s.MinHeap = heap(v, "server.min_heap", invalid)
	s.MaxHeap = heap(v, "server.max_heap", invalid)
	opts, err := jvm.ParseOptions(v.GetStringSlice("server.options"))
	if err != nil {
		invalid("server.options", err)
	}
	s.Options = opts
	s.ShowUI = v.GetBool("server.show_ui")
	s.StopCommand = v.GetString("server.stop_command")
	s.StopTimeout = v.GetDuration("server.stop_timeout")
	s.BufferSize = v.GetInt("server.buffer_size")
	s.Launcher = strings.ToLower(v.GetString("server.launcher"))
	if s.Launcher != "exec" && s.Launcher != "docker" {
		invalid("server.launcher", fmt.Errorf("%q is not exec or docker", s.Launcher))
	}
	s.AutoRestart = v.GetBool("server.auto_restart")
	s.RestartDelay = v.GetDuration("server.restart_delay")
	if !s.MinHeap.IsZero() && !s.MaxHeap.IsZero() && s.MinHeap.Compare(s.MaxHeap) > 0 {
		invalid("server.min_heap", fmt.Errorf("%s is larger than max_heap %s", s.MinHeap, s.MaxHeap))
	}

	cfg.Docker = DockerConfig{
		Image:  v.GetString("docker.image"),
		Name:   v.GetString("docker.name"),
		Ports:  v.GetStringSlice("docker.ports"),
		Memory: heap(v, "docker.memory", invalid),
	}
	for _, p := range cfg.Docker.Ports {
		if _, _, ok := strings.Cut(p, ":"); !ok {
			invalid("docker.ports", fmt.Errorf("%q is not host:container", p))
		}
	}

	cfg.HTTP = HTTPConfig{
		Listen:         v.GetString("http.listen"),
		AdminUser:      v.GetString("http.admin_user"),
		AdminPass:      v.GetString("http.admin_pass"),
		SessionTTL:     v.GetDuration("http.session_ttl"),
		AllowedOrigins: v.GetStringSlice("http.allowed_origins"),
	}

	cfg.Notify = NotifyConfig{
		DiscordWebhook: v.GetString("notify.discord_webhook"),
		Events:         map[string]string{},
		Rate:           v.GetFloat64("notify.rate"),
		Burst:          v.GetInt("notify.burst"),
		MaxAttempts:    v.GetInt("notify.max_attempts"),
	}

	var templates []NotifyTemplate
	if err := v.UnmarshalKey("notify.events", &templates); err != nil {
		invalid("notify.events", err)
	}
	for _, t := range templates {
		if _, dup := cfg.Notify.Events[t.Event]; dup {
			invalid("notify.events", fmt.Errorf("%q is listed twice", t.Event))
		}
		cfg.Notify.Events[t.Event] = t.Template
	}

	cfg.IPWatch = IPWatchConfig{
		Enabled:   v.GetBool("ip_watch.enabled"),
		Interval:  v.GetDuration("ip_watch.interval"),
		Resolver:  strings.ToLower(v.GetString("ip_watch.resolver")),
		DNSServer: v.GetString("ip_watch.dns_server"),
		Command:   v.GetStringSlice("ip_watch.command"),
		Announce:  v.GetString("ip_watch.announce"),
	}
	if cfg.IPWatch.Enabled {
		switch cfg.IPWatch.Resolver {
		case "dns", "command":
		default:
			invalid("ip_watch.resolver", fmt.Errorf("%q is not dns or command", cfg.IPWatch.Resolver))
		}
		if cfg.IPWatch.Interval <= 0 {
			invalid("ip_watch.interval", errors.New("must be positive"))
		}
	}

	cfg.NATS = NATSConfig{
		URL:           v.GetString("nats.url"),
		SubjectPrefix: v.GetString("nats.subject_prefix"),
	}

	if err := v.UnmarshalKey("macros", &cfg.Macros); err != nil {
		invalid("macros", err)
	}
	if err := v.UnmarshalKey("events.custom", &cfg.Events.Custom); err != nil {
		invalid("events.custom", err)
	}
	// Override keys are base event ids, which are all lower case.
	cfg.Events.Overrides = v.GetStringMapString("events.overrides")
	cfg.Events.File = v.GetString("events.file")

	if err := v.UnmarshalKey("schedules", &cfg.Schedules); err != nil {
		invalid("schedules", err)
	}

	cfg.Backup = BackupConfig{
		Dir:   v.GetString("backup.dir"),
		World: v.GetString("backup.world"),
		Keep:  v.GetInt("backup.keep"),
	}
	cfg.Journal = JournalConfig{MaxRows: v.GetInt("journal.max_rows")}
	cfg.Log = logging.Config{
		Level: v.GetString("log.level"),
		JSON:  v.GetBool("log.json"),
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return cfg, nil
}

func heap(v *viper.Viper, key string, invalid func(string, error)) jvm.HeapArgument {
	s := v.GetString(key)
	if s == "" {
		return jvm.HeapArgument{}
	}
	h, err := jvm.ParseHeap(s)
	if err != nil {
		invalid(key, err)
	}
	return h
}

// WorldDir is the world directory next to the server jar.
func (c *Config) WorldDir() string {
	if filepath.IsAbs(c.Backup.World) || c.Server.Executable == "" {
		return c.Backup.World
	}
	return filepath.Join(filepath.Dir(c.Server.Executable), c.Backup.World)
}

// EnsureBackupDir creates the backup directory and returns its absolute path.
func (c *Config) EnsureBackupDir() (string, error) {
	dir, err := filepath.Abs(c.Backup.Dir)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}
