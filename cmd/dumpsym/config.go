package main

import (
	"bytes"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/drone/envsubst"
	"github.com/pkg/errors"
	"gopkg.in/alecthomas/kingpin.v2"
	"gopkg.in/yaml.v3"

	"github.com/grafana/dumpsym/pkg/pipeline"
)

const envPrefix = "DUMPSYM_"

type commander interface {
	Flag(name, help string) *kingpin.FlagClause
	Arg(name, help string) *kingpin.ArgClause
}

// configLoader builds a pipeline.Config from the flag defaults, an optional
// YAML file and the flags given on the command line or through the
// environment, in that order.
type configLoader struct {
	file      string
	expandEnv bool

	// Values given explicitly, by flag name.
	explicit map[string]string
	names    []string
}

func newConfigLoader() *configLoader {
	return &configLoader{explicit: map[string]string{}}
}

// register mirrors the flags of pipeline.Config onto cmd. Every flag can also
// be set with an environment variable named after it.
func (l *configLoader) register(cmd commander) {
	cmd.Flag("config.file", "YAML file with the configuration. Flags take precedence over it.").Envar(envVar("config.file")).StringVar(&l.file)
	cmd.Flag("config.expand-env", "Expands ${var} in config according to the values of the environment variables.").Default("false").BoolVar(&l.expandEnv)

	var cfg pipeline.Config
	fs := flag.NewFlagSet("dumpsym", flag.ContinueOnError)
	cfg.RegisterFlags(fs)
	fs.VisitAll(func(f *flag.Flag) {
		v := &explicitValue{name: f.Name, loader: l}
		clause := cmd.Flag(f.Name, f.Usage).Envar(envVar(f.Name))
		if isBoolFlag(f.Value) {
			clause.SetValue(&explicitBoolValue{v})
			return
		}
		clause.PlaceHolder(placeholder(f.DefValue)).SetValue(v)
	})
}

// load returns the resulting configuration. It does not validate it.
func (l *configLoader) load() (pipeline.Config, error) {
	var cfg pipeline.Config
	fs := flag.NewFlagSet("dumpsym", flag.ContinueOnError)
	cfg.RegisterFlags(fs)

	if l.file != "" {
		if err := l.loadFile(&cfg); err != nil {
			return cfg, err
		}
	}
	for _, name := range l.names {
		if err := fs.Set(name, l.explicit[name]); err != nil {
			return cfg, errors.Wrapf(err, "invalid value for --%s", name)
		}
	}
	return cfg, nil
}

func (l *configLoader) loadFile(cfg *pipeline.Config) error {
	data, err := os.ReadFile(l.file)
	if err != nil {
		return errors.Wrap(err, "read config file")
	}
	if l.expandEnv {
		expanded, err := envsubst.EvalEnv(string(data))
		if err != nil {
			return errors.Wrapf(err, "expand environment variables in %s", l.file)
		}
		data = []byte(expanded)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return errors.Wrapf(err, "parse config file %s", l.file)
	}
	return nil
}

func (l *configLoader) set(name, value string) {
	if _, ok := l.explicit[name]; !ok {
		l.names = append(l.names, name)
	}
	l.explicit[name] = value
}

// explicitValue records the value of a flag instead of applying it.
type explicitValue struct {
	name   string
	loader *configLoader
}

func (v *explicitValue) String() string {
	return v.loader.explicit[v.name]
}

func (v *explicitValue) Set(s string) error {
	v.loader.set(v.name, s)
	return nil
}

type explicitBoolValue struct {
	*explicitValue
}

func (v *explicitBoolValue) IsBoolFlag() bool { return true }

func isBoolFlag(v flag.Value) bool {
	b, ok := v.(interface{ IsBoolFlag() bool })
	return ok && b.IsBoolFlag()
}

func envVar(flagName string) string {
	return envPrefix + strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(flagName))
}

func placeholder(def string) string {
	if def == "" {
		return fmt.Sprintf("%q", def)
	}
	return def
}
