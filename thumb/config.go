package thumb

import (
	"encoding"
	"errors"
	"flag"
	"fmt"
	"os"
	"reflect"
	"runtime"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/ShoshinNikita/thumbnailer/office"
	"github.com/ShoshinNikita/thumbnailer/pkg/rlog"
)

// OfficeTargetEnv is used as the default office target.
const OfficeTargetEnv = "OFFICE_TARGET"

type Config struct {
	BuildInfo BuildInfo

	ConfigFile string

	ServerPort int
	Dir        string

	Cache CacheConfig

	ThumbnailSize Size
	WorkersCount  int

	Office OfficeConfig

	// One-shot mode

	Input  string
	Output string

	// Debug options

	LogLevel rlog.Level
}

type BuildInfo struct {
	ShortGitHash string
	CommitTime   string
}

type CacheConfig struct {
	Dir    string
	Size   MiB
	MaxAge time.Duration
}

type OfficeConfig struct {
	Target       office.Target
	CheckHealth  bool
	MaxIdleTime  time.Duration
	LeaseTimeout time.Duration
}

func (cfg OfficeConfig) PoolOptions() office.Options {
	return office.Options{
		CheckHealth:  cfg.CheckHealth,
		MaxIdleTime:  cfg.MaxIdleTime,
		LeaseTimeout: cfg.LeaseTimeout,
	}
}

// IsOneShot reports whether a single thumbnail should be created instead of starting the server.
func (cfg Config) IsOneShot() bool {
	return cfg.Input != ""
}

type MiB int

func (mb MiB) Bytes() int64 {
	return int64(mb) << 20
}

func (mb MiB) String() string {
	if mb >= 1024 && mb%1024 == 0 {
		return strconv.Itoa(int(mb/1024)) + "Gi"
	}
	return strconv.Itoa(int(mb)) + "Mi"
}

func (mb MiB) MarshalText() (text []byte, err error) {
	return []byte(mb.String()), nil
}

func (mb *MiB) UnmarshalText(data []byte) error {
	text := string(data)

	mul := 1
	switch {
	case strings.HasSuffix(text, "Mi"):
	case strings.HasSuffix(text, "Gi"):
		mul = 1024
	default:
		return fmt.Errorf("valid suffixes: Mi, Gi")
	}
	n, err := strconv.Atoi(text[:len(text)-2])
	if err != nil {
		return fmt.Errorf("invalid size: %w", err)
	}

	*mb = MiB(n * mul)
	return nil
}

type flagParams struct {
	// p is a pointer to a value.
	p            any
	defaultValue any
	desc         string
}

func (cfg *Config) getFlagParams(defaultTarget office.Target) map[string]flagParams {
	return map[string]flagParams{
		"config": {
			p: &cfg.ConfigFile, defaultValue: "", desc: "" +
				"Path to a TOML config file, optional. Keys are flag names, for example:\n" +
				"  port = 8080\n" +
				"  office-target = \"http://gotenberg:3000\"\n" +
				"Flags passed on the command line take precedence",
		},
		"port": {
			p: &cfg.ServerPort, defaultValue: 8080, desc: "Server port",
		},
		"dir": {
			p: &cfg.Dir, defaultValue: ".", desc: "Directory with files to create thumbnails for",
		},
		//
		"cache-dir": {
			p: &cfg.Cache.Dir, defaultValue: "./var/thumbnails", desc: "Directory for cached thumbnails",
		},
		"cache-size": {
			p: &cfg.Cache.Size, defaultValue: MiB(200), desc: "Max total size of cached thumbnails",
		},
		"cache-max-age": {
			p: &cfg.Cache.MaxAge, defaultValue: 30 * 24 * time.Hour, desc: "Max age of cached thumbnails",
		},
		//
		"thumbnail-size": {
			p: &cfg.ThumbnailSize, defaultValue: DefaultSize, desc: "Default thumbnail bounding box, <width>x<height>",
		},
		"workers-count": {
			p: &cfg.WorkersCount, defaultValue: runtime.NumCPU(), desc: "Max number of thumbnails generated at the same time",
		},
		//
		"office-target": {
			p: &cfg.Office.Target, defaultValue: defaultTarget, desc: "" +
				"Office suite used to convert documents, $" + OfficeTargetEnv + " is used by default:\n" +
				"  - soffice[:<path>]: local LibreOffice, every session has its own profile\n" +
				"  - http(s)://<host>[:<port>]: Gotenberg-compatible conversion service",
		},
		"office-health-check": {
			p: &cfg.Office.CheckHealth, defaultValue: true, desc: "Check office sessions before reuse (if supported)",
		},
		"office-max-idle-time": {
			p: &cfg.Office.MaxIdleTime, defaultValue: 10 * time.Minute, desc: "Close office sessions idle for longer, 0 to keep them forever",
		},
		"office-lease-timeout": {
			p: &cfg.Office.LeaseTimeout, defaultValue: time.Duration(0), desc: "" +
				"Remove office sessions that are busy for longer from the pool, 0 to disable.\n" +
				"Such sessions are closed after the conversion finishes",
		},
		//
		"input": {
			p: &cfg.Input, defaultValue: "", desc: "Create a thumbnail for this file and exit",
		},
		"output": {
			p: &cfg.Output, defaultValue: "", desc: "Output file for --input",
		},
		//
		"log-level": {
			p: &cfg.LogLevel, defaultValue: rlog.LevelInfo, desc: "Set the minimal log level. One of: debug, info, warn, error",
		},
	}
}

func ParseConfig() (Config, error) {
	return parseConfig(flag.CommandLine, os.Args[1:], os.Getenv(OfficeTargetEnv))
}

func parseConfig(fs *flag.FlagSet, args []string, rawDefaultTarget string) (Config, error) {
	cfg := Config{
		BuildInfo: readBuildInfo(),
	}

	defaultTarget := office.Target{Protocol: office.ProtocolSoffice}
	if rawDefaultTarget != "" {
		var err error
		defaultTarget, err = office.ParseTarget(rawDefaultTarget)
		if err != nil {
			return cfg, fmt.Errorf("invalid $%s: %w", OfficeTargetEnv, err)
		}
	}

	var printVersion bool
	fs.BoolVar(&printVersion, "version", false, "Print version and exit")

	flags := cfg.getFlagParams(defaultTarget)
	for name, params := range flags {
		switch p := params.p.(type) {
		case *bool:
			fs.BoolVar(p, name, params.defaultValue.(bool), params.desc)
		case *int:
			fs.IntVar(p, name, params.defaultValue.(int), params.desc)
		case *int64:
			fs.Int64Var(p, name, params.defaultValue.(int64), params.desc)
		case *string:
			fs.StringVar(p, name, params.defaultValue.(string), params.desc)
		case *time.Duration:
			fs.DurationVar(p, name, params.defaultValue.(time.Duration), params.desc)
		case encoding.TextUnmarshaler:
			fs.TextVar(p, name, params.defaultValue.(encoding.TextMarshaler), params.desc)
		default:
			return Config{}, fmt.Errorf("flag %q has unsupported type: %T", name, p)
		}
	}

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	if printVersion {
		cfg.BuildInfo.Print()
		os.Exit(0)
	}

	if cfg.ConfigFile != "" {
		if err := loadConfigFile(fs, cfg.ConfigFile); err != nil {
			return cfg, err
		}
	}

	if cfg.IsOneShot() {
		if cfg.Output == "" {
			return cfg, errors.New("output can't be empty in one-shot mode")
		}
	} else {
		if cfg.ServerPort == 0 {
			return cfg, errors.New("server port must be > 0")
		}
		if cfg.Dir == "" {
			return cfg, errors.New("dir can't be empty")
		}
		if cfg.Cache.Dir == "" {
			return cfg, errors.New("cache dir can't be empty")
		}
	}
	if cfg.WorkersCount <= 0 {
		return cfg, errors.New("workers count must be > 0")
	}

	return cfg, nil
}

// loadConfigFile sets flags from a TOML file. Flags set on the command line are not overridden.
func loadConfigFile(fs *flag.FlagSet, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("couldn't read config file: %w", err)
	}

	var values map[string]any
	if err := toml.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("couldn't parse config file: %w", err)
	}

	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		explicit[f.Name] = true
	})

	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		if name == "config" || name == "version" {
			return fmt.Errorf("config file can't set %q", name)
		}
		if fs.Lookup(name) == nil {
			return fmt.Errorf("config file has unknown key %q", name)
		}
		if explicit[name] {
			continue
		}

		var value string
		switch v := values[name].(type) {
		case string, bool, int64, float64:
			value = fmt.Sprint(v)
		default:
			return fmt.Errorf("config file key %q must be a string, number or bool, got %T", name, v)
		}

		if err := fs.Set(name, value); err != nil {
			return fmt.Errorf("invalid value of config file key %q: %w", name, err)
		}
	}
	return nil
}

func readBuildInfo() BuildInfo {
	res := BuildInfo{
		ShortGitHash: "unknown",
		CommitTime:   "unknown",
	}

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return res
	}

	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			res.ShortGitHash = s.Value
			if len(res.ShortGitHash) > 7 {
				res.ShortGitHash = res.ShortGitHash[:7]
			}

		case "vcs.time":
			t, err := time.Parse(time.RFC3339, s.Value)
			if err == nil {
				res.CommitTime = t.UTC().Format("2006-01-02 15:04:05 UTC")
			}
		}
	}
	return res
}

func (info BuildInfo) Print() {
	fmt.Fprintf(os.Stderr, `
    thumbnailer

    Commit Hash: %q
    Commit Time: %q

`,
		info.ShortGitHash,
		info.CommitTime,
	)
}

func (cfg Config) Print() {
	flags := cfg.getFlagParams(cfg.Office.Target)

	var (
		names         = make([]string, 0, len(flags))
		maxNameLength int
	)
	for name := range flags {
		if len(name) > maxNameLength {
			maxNameLength = len(name)
		}
		names = append(names, name)
	}
	slices.Sort(names)

	fmt.Fprint(os.Stderr, "    Config:\n\n")
	for _, name := range names {
		fmt.Fprintf(os.Stderr, "        --%-*s = %v\n", maxNameLength, name, reflect.ValueOf(flags[name].p).Elem())
	}
	fmt.Fprint(os.Stderr, "\n")
}
