/*
Package config implements a parser for l2tpd configuration represented in
the TOML format: https://github.com/toml-lang/toml.

Please refer to the TOML repos for an in-depth description of the syntax.

The configuration has an optional global table, and any number of named
LAC and LNS tables.

	# Daemon-wide settings.
	[global]

	# port is the UDP port the daemon listens on.
	port = 1701

	# pppd is the path to the pppd executable.
	pppd = "/usr/sbin/pppd"

	# control_pipe is the FIFO operator commands are read from.
	control_pipe = "/var/run/l2tp-control"

	# kernel enables the Linux kernel L2TP data plane.
	kernel = true

	# resolve_timeout bounds host name lookups.
	resolve_timeout = 5000 # milliseconds

	# This is a LAC instance named "office"
	[lac.office]

	# lns lists the LNS hosts to dial, as "host" or "host:port".
	# The first entry is used.
	lns = ["vpn.example.com:1701"]

	# autodial activates and dials the LAC when the daemon starts.
	autodial = true

	# redial enables automatic redial when the tunnel is lost.
	redial = true

	# redial_timeout is the delay before each redial.
	redial_timeout = 5 # seconds

	# max_redials caps the number of dial attempts.  Zero means no cap.
	max_redials = 3

	# ppp_options are passed to pppd for calls placed by the LAC.
	ppp_options = ["noauth", "debug"]

	# A LAC named "default" supplies the LNS list for LACs which have
	# none of their own.
	[lac.default]
	lns = ["lns.example.com"]

	# This is an LNS instance named "hq"
	[lns.hq]
	hostname = "hq.example.com"
	port = 1701
	ppp_options = ["require-chap"]
*/
package config

import (
	"fmt"
	"sort"
	"time"

	"github.com/katalix/go-l2tpd/l2tp"
	"github.com/pelletier/go-toml"
)

// Config contains the daemon settings and the LAC and LNS entries.
type Config struct {
	// The entire tree as a map as parsed from the TOML representation.
	// Apps may access this tree to handle their own config tables.
	Map map[string]interface{}
	// Settings for the L2TP context, including the LAC and LNS entries.
	Settings *l2tp.Settings
	// Kernel is set if the kernel data plane should be used.
	Kernel bool
}

func toBool(v interface{}) (bool, error) {
	if b, ok := v.(bool); ok {
		return b, nil
	}
	return false, fmt.Errorf("supplied value could not be parsed as a bool")
}

// go-toml's ToMap function represents numbers as either uint64 or int64.
// So when we are converting numbers, we need to figure out which one it
// has picked and range check to ensure that the number from the config
// fits within the range of the destination type.
func toUint16(v interface{}) (uint16, error) {
	if b, ok := v.(int64); ok {
		if b < 0x0 || b > 0xffff {
			return 0, fmt.Errorf("value %x out of range", b)
		}
		return uint16(b), nil
	} else if b, ok := v.(uint64); ok {
		if b > 0xffff {
			return 0, fmt.Errorf("value %x out of range", b)
		}
		return uint16(b), nil
	}
	return 0, fmt.Errorf("unexpected %T value %v", v, v)
}

func toUint32(v interface{}) (uint32, error) {
	if b, ok := v.(int64); ok {
		if b < 0x0 || b > 0xffffffff {
			return 0, fmt.Errorf("value %x out of range", b)
		}
		return uint32(b), nil
	} else if b, ok := v.(uint64); ok {
		if b > 0xffffffff {
			return 0, fmt.Errorf("value %x out of range", b)
		}
		return uint32(b), nil
	}
	return 0, fmt.Errorf("unexpected %T value %v", v, v)
}

func toPort(v interface{}) (int, error) {
	u, err := toUint16(v)
	if err == nil && u == 0 {
		return 0, fmt.Errorf("port must be nonzero")
	}
	return int(u), err
}

func toString(v interface{}) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	return "", fmt.Errorf("supplied value could not be parsed as a string")
}

func toStrings(v interface{}) ([]string, error) {
	var out []string

	// First ensure that the supplied value is actually an array
	values, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("expected array value")
	}

	for _, value := range values {
		s, err := toString(value)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func toHosts(v interface{}) ([]l2tp.Host, error) {
	var out []l2tp.Host

	// A single host may be given as a plain string
	if s, ok := v.(string); ok {
		v = []interface{}{s}
	}
	names, err := toStrings(v)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		h, err := l2tp.ParseHost(name)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}

func toDurationMs(v interface{}) (time.Duration, error) {
	u, err := toUint32(v)
	return time.Duration(u) * time.Millisecond, err
}

func toDurationS(v interface{}) (time.Duration, error) {
	u, err := toUint32(v)
	return time.Duration(u) * time.Second, err
}

func newLac(name string, lmap map[string]interface{}) (*l2tp.Lac, error) {
	lac := &l2tp.Lac{Name: name}
	for k, v := range lmap {
		var err error
		switch k {
		case "lns":
			lac.LNS, err = toHosts(v)
		case "autodial":
			lac.Autodial, err = toBool(v)
		case "redial":
			lac.Redial, err = toBool(v)
		case "redial_timeout":
			lac.RedialTimeout, err = toDurationS(v)
		case "max_redials":
			var u uint16
			u, err = toUint16(v)
			lac.MaxRedials = int(u)
		case "ppp_options":
			lac.PPPOptions, err = toStrings(v)
		default:
			return nil, fmt.Errorf("unrecognised parameter '%v'", k)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to process %v: %v", k, err)
		}
	}
	return lac, nil
}

func newLns(name string, lmap map[string]interface{}) (*l2tp.Lns, error) {
	lns := &l2tp.Lns{Name: name, Port: l2tp.DefaultPort}
	for k, v := range lmap {
		var err error
		switch k {
		case "hostname":
			lns.Hostname, err = toString(v)
		case "port":
			lns.Port, err = toPort(v)
		case "ppp_options":
			lns.PPPOptions, err = toStrings(v)
		default:
			return nil, fmt.Errorf("unrecognised parameter '%v'", k)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to process %v: %v", k, err)
		}
	}
	return lns, nil
}

// namedTables returns the named sub-tables of table key, sorted by name
// so that entries are processed in a stable order.
func (cfg *Config) namedTables(key string) ([]string, map[string]map[string]interface{}, error) {
	got, ok := cfg.Map[key]
	if !ok {
		return nil, nil, nil
	}
	tables, ok := got.(map[string]interface{})
	if !ok {
		return nil, nil, fmt.Errorf("%v instances must be named, e.g. '[%v.myname]'", key, key)
	}
	out := make(map[string]map[string]interface{})
	var names []string
	for name, got := range tables {
		tmap, ok := got.(map[string]interface{})
		if !ok {
			return nil, nil, fmt.Errorf("%v instances must be named, e.g. '[%v.myname]'", key, key)
		}
		out[name] = tmap
		names = append(names, name)
	}
	sort.Strings(names)
	return names, out, nil
}

func (cfg *Config) loadLacs() error {
	names, tables, err := cfg.namedTables("lac")
	if err != nil {
		return err
	}
	for _, name := range names {
		lac, err := newLac(name, tables[name])
		if err != nil {
			return fmt.Errorf("lac %v: %v", name, err)
		}
		cfg.Settings.Lacs = append(cfg.Settings.Lacs, lac)
	}
	return nil
}

func (cfg *Config) loadLnss() error {
	names, tables, err := cfg.namedTables("lns")
	if err != nil {
		return err
	}
	for _, name := range names {
		lns, err := newLns(name, tables[name])
		if err != nil {
			return fmt.Errorf("lns %v: %v", name, err)
		}
		cfg.Settings.Lnss = append(cfg.Settings.Lnss, lns)
	}
	return nil
}

func (cfg *Config) loadGlobal() error {
	got, ok := cfg.Map["global"]
	if !ok {
		return nil
	}
	gmap, ok := got.(map[string]interface{})
	if !ok {
		return fmt.Errorf("global must be a table")
	}
	for k, v := range gmap {
		var err error
		switch k {
		case "port":
			cfg.Settings.Port, err = toPort(v)
		case "pppd":
			cfg.Settings.PPPDPath, err = toString(v)
		case "control_pipe":
			cfg.Settings.ControlPipe, err = toString(v)
		case "kernel":
			cfg.Kernel, err = toBool(v)
		case "resolve_timeout":
			cfg.Settings.ResolveTimeout, err = toDurationMs(v)
		default:
			return fmt.Errorf("unrecognised parameter '%v'", k)
		}
		if err != nil {
			return fmt.Errorf("failed to process %v: %v", k, err)
		}
	}
	return nil
}

func newConfig(tree *toml.Tree) (*Config, error) {
	cfg := &Config{
		Map: tree.ToMap(),
		Settings: &l2tp.Settings{
			Port:           l2tp.DefaultPort,
			PPPDPath:       l2tp.DefaultPPPDPath,
			ControlPipe:    l2tp.DefaultControlPipe,
			ResolveTimeout: l2tp.DefaultResolveTimeout,
		},
	}
	for k := range cfg.Map {
		switch k {
		case "global", "lac", "lns":
		default:
			return nil, fmt.Errorf("unrecognised table '%v'", k)
		}
	}
	if err := cfg.loadGlobal(); err != nil {
		return nil, fmt.Errorf("failed to parse global settings: %v", err)
	}
	if err := cfg.loadLacs(); err != nil {
		return nil, fmt.Errorf("failed to parse LACs: %v", err)
	}
	if err := cfg.loadLnss(); err != nil {
		return nil, fmt.Errorf("failed to parse LNSs: %v", err)
	}
	return cfg, nil
}

// LoadFile loads configuration from the specified file.
func LoadFile(path string) (*Config, error) {
	tree, err := toml.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file: %v", err)
	}
	return newConfig(tree)
}

// LoadString loads configuration from the specified string.
func LoadString(content string) (*Config, error) {
	tree, err := toml.Load(content)
	if err != nil {
		return nil, fmt.Errorf("failed to load config string: %v", err)
	}
	return newConfig(tree)
}
