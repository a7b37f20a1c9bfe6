// Package config loads the lockstep server configuration from environment
// variables, command-line flags, and an optional YAML fixtures file, in that
// order of precedence from lowest to highest.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/dreamware/lockstep/internal/registry"
)

// DummyFixtureID is the id of the built-in permanent test peer.
const DummyFixtureID = "dummy-player-id"

// Config holds every tunable of the server.
type Config struct {
	IngestAddr   string `env:"INGEST_ADDR" envDefault:":8089"`
	SnapshotAddr string `env:"SNAPSHOT_ADDR" envDefault:":8090"`
	BindAddr     string `env:"BIND_ADDR" envDefault:":5000"`
	BarrierAddr  string `env:"BARRIER_ADDR" envDefault:":5001"`

	ReapInterval time.Duration `env:"REAP_INTERVAL" envDefault:"1s"`
	EntryTimeout time.Duration `env:"ENTRY_TIMEOUT" envDefault:"15s"`

	// HoldTimeout bounds how long a barrier connection may wait for its
	// group. Zero waits until the group completes or the peer hangs up.
	HoldTimeout  time.Duration `env:"HOLD_TIMEOUT" envDefault:"0s"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"5s"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console"`
	LogFile   string `env:"LOG_FILE"`

	FixturesFile string `env:"FIXTURES_FILE"`
	DummyFixture bool   `env:"DUMMY_FIXTURE" envDefault:"true"`
}

// Fixture is a permanent peer seeded into the registry at startup.
type Fixture struct {
	ID       string `yaml:"id"`
	GroupTag string `yaml:"group"`
	Color    string `yaml:"color"`
	X        int32  `yaml:"x"`
	Y        int32  `yaml:"y"`
	VX       int32  `yaml:"vx"`
	VY       int32  `yaml:"vy"`
}

// Entry converts the fixture into a permanent registry entry stamped now.
func (f Fixture) Entry(now int64) registry.Entry {
	return registry.Entry{
		ID:         f.ID,
		GroupTag:   f.GroupTag,
		Color:      f.Color,
		X:          f.X,
		Y:          f.Y,
		VX:         f.VX,
		VY:         f.VY,
		LastUpdate: now,
		Permanent:  true,
	}
}

// dummyFixture is the built-in test peer, parked at (200,200) in group 00000.
var dummyFixture = Fixture{
	ID:       DummyFixtureID,
	GroupTag: "00000",
	Color:    "blue",
	X:        200,
	Y:        200,
}

type fixturesFile struct {
	Fixtures []Fixture `yaml:"fixtures"`
}

// Load builds a Config from the LOCKSTEP_-prefixed environment, then applies
// flags parsed from args onto fs, then validates.
func Load(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "LOCKSTEP_"}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	fs.StringVar(&cfg.IngestAddr, "ingest", cfg.IngestAddr, "UDP address for kinematic updates")
	fs.StringVar(&cfg.SnapshotAddr, "snapshot", cfg.SnapshotAddr, "UDP address for snapshot lookups")
	fs.StringVar(&cfg.BindAddr, "bind", cfg.BindAddr, "TCP address for group binds")
	fs.StringVar(&cfg.BarrierAddr, "barrier", cfg.BarrierAddr, "TCP address for completion reports")
	fs.DurationVar(&cfg.ReapInterval, "reap-interval", cfg.ReapInterval, "how often idle peers are swept")
	fs.DurationVar(&cfg.EntryTimeout, "entry-timeout", cfg.EntryTimeout, "idle time after which a peer is evicted")
	fs.DurationVar(&cfg.HoldTimeout, "hold-timeout", cfg.HoldTimeout, "max barrier wait, 0 for none")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "console or json")
	fs.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "also append logs to this file")
	fs.StringVar(&cfg.FixturesFile, "fixtures", cfg.FixturesFile, "YAML file of permanent peers")
	fs.BoolVar(&cfg.DummyFixture, "dummy-fixture", cfg.DummyFixture, "seed the built-in test peer")
	if args == nil {
		args = []string{}
	}
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Fixtures returns the permanent peers to seed: the built-in dummy when
// DummyFixture is set, followed by the contents of FixturesFile.
func (c Config) Fixtures() ([]Fixture, error) {
	var out []Fixture
	if c.DummyFixture {
		out = append(out, dummyFixture)
	}
	if c.FixturesFile != "" {
		fixtures, err := LoadFixtures(c.FixturesFile)
		if err != nil {
			return nil, err
		}
		out = append(out, fixtures...)
	}
	return out, nil
}

// LoadFixtures reads permanent peers from a YAML file of the form
//
//	fixtures:
//	  - id: bot-1
//	    group: g1
//	    color: blue
//	    x: 100
//	    y: 40
func LoadFixtures(path string) ([]Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixtures: %w", err)
	}
	var f fixturesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixtures %s: %w", path, err)
	}
	for i, fx := range f.Fixtures {
		if fx.ID == "" {
			return nil, fmt.Errorf("fixture %d in %s has no id", i, path)
		}
	}
	return f.Fixtures, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	addrs := []struct{ name, addr string }{
		{"ingest", c.IngestAddr},
		{"snapshot", c.SnapshotAddr},
		{"bind", c.BindAddr},
		{"barrier", c.BarrierAddr},
	}
	for _, a := range addrs {
		if a.addr == "" {
			return fmt.Errorf("%s address is required", a.name)
		}
	}
	if c.ReapInterval <= 0 {
		return errors.New("reap interval must be positive")
	}
	if c.EntryTimeout <= 0 {
		return errors.New("entry timeout must be positive")
	}
	if c.HoldTimeout < 0 || c.ReadTimeout < 0 || c.WriteTimeout < 0 {
		return errors.New("timeouts must not be negative")
	}
	return nil
}
