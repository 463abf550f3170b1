// SPDX-License-Identifier: MIT

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// duration accepts Go duration strings ("15m") in YAML, which yaml.v3 does
// not do for time.Duration on its own.
type duration time.Duration

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"15m\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = duration(parsed)
	return nil
}

// fileConfig mirrors the YAML layout. Pointer fields distinguish "absent"
// from zero values so the file only overrides what it mentions.
type fileConfig struct {
	Log struct {
		Level *string `yaml:"level"`
	} `yaml:"log"`
	Listen        *string `yaml:"listen"`
	MetricsListen *string `yaml:"metricsListen"`
	Redis         struct {
		Addr        *string `yaml:"addr"`
		Password    *string `yaml:"password"`
		DB          *int    `yaml:"db"`
		TopicPrefix *string `yaml:"topicPrefix"`
	} `yaml:"redis"`
	Events struct {
		Buffer *int `yaml:"buffer"`
	} `yaml:"events"`
	Realtime struct {
		SendBuffer   *int     `yaml:"sendBuffer"`
		Origins      []string `yaml:"origins"`
		ControlRate  *float64 `yaml:"controlRate"`
		ControlBurst *int     `yaml:"controlBurst"`
	} `yaml:"realtime"`
	Admission struct {
		TTL *duration `yaml:"ttl"`
	} `yaml:"admission"`
	Jobs struct {
		Workers   *int `yaml:"workers"`
		QueueSize *int `yaml:"queue"`
	} `yaml:"jobs"`
	CalDAV struct {
		Schedule *string           `yaml:"schedule"`
		Sources  map[string]string `yaml:"sources"`
	} `yaml:"caldav"`
	Imports struct {
		AllowPrivate *bool     `yaml:"allowPrivate"`
		MaxBodyBytes *int64    `yaml:"maxBodyBytes"`
		FetchTimeout *duration `yaml:"fetchTimeout"`
	} `yaml:"imports"`
	Rate struct {
		Requests *int      `yaml:"requests"`
		Window   *duration `yaml:"window"`
	} `yaml:"rate"`
	Tracing struct {
		Enabled    *bool    `yaml:"enabled"`
		Endpoint   *string  `yaml:"endpoint"`
		Protocol   *string  `yaml:"protocol"`
		SampleRate *float64 `yaml:"sampleRate"`
		Insecure   *bool    `yaml:"insecure"`
	} `yaml:"tracing"`
	Authority struct {
		URL     *string   `yaml:"url"`
		Timeout *duration `yaml:"timeout"`
	} `yaml:"authority"`
	APIToken      *string `yaml:"apiToken"`
	SessionSecret *string `yaml:"sessionSecret"`
	DataDir       *string `yaml:"dataDir"`
}

func applyFile(cfg App, fc fileConfig) App {
	setString(&cfg.LogLevel, fc.Log.Level)
	setString(&cfg.ListenAddr, fc.Listen)
	setString(&cfg.MetricsAddr, fc.MetricsListen)

	setString(&cfg.Redis.Addr, fc.Redis.Addr)
	setString(&cfg.Redis.Password, fc.Redis.Password)
	setInt(&cfg.Redis.DB, fc.Redis.DB)
	setString(&cfg.Redis.TopicPrefix, fc.Redis.TopicPrefix)

	setInt(&cfg.Events.Buffer, fc.Events.Buffer)

	setInt(&cfg.Realtime.SendBuffer, fc.Realtime.SendBuffer)
	if len(fc.Realtime.Origins) > 0 {
		cfg.Realtime.Origins = fc.Realtime.Origins
	}
	setFloat(&cfg.Realtime.ControlRate, fc.Realtime.ControlRate)
	setInt(&cfg.Realtime.ControlBurst, fc.Realtime.ControlBurst)

	setDuration(&cfg.Admission.TTL, fc.Admission.TTL)

	setInt(&cfg.Jobs.Workers, fc.Jobs.Workers)
	setInt(&cfg.Jobs.QueueSize, fc.Jobs.QueueSize)

	setString(&cfg.CalDAV.Schedule, fc.CalDAV.Schedule)
	if len(fc.CalDAV.Sources) > 0 {
		cfg.CalDAV.Sources = fc.CalDAV.Sources
	}

	setBool(&cfg.Imports.AllowPrivate, fc.Imports.AllowPrivate)
	setInt64(&cfg.Imports.MaxBodyBytes, fc.Imports.MaxBodyBytes)
	setDuration(&cfg.Imports.FetchTimeout, fc.Imports.FetchTimeout)

	setInt(&cfg.Rate.Requests, fc.Rate.Requests)
	setDuration(&cfg.Rate.Window, fc.Rate.Window)

	setBool(&cfg.Tracing.Enabled, fc.Tracing.Enabled)
	setString(&cfg.Tracing.Endpoint, fc.Tracing.Endpoint)
	setString(&cfg.Tracing.Protocol, fc.Tracing.Protocol)
	setFloat(&cfg.Tracing.SampleRate, fc.Tracing.SampleRate)
	setBool(&cfg.Tracing.Insecure, fc.Tracing.Insecure)

	setString(&cfg.Authority.BaseURL, fc.Authority.URL)
	setDuration(&cfg.Authority.Timeout, fc.Authority.Timeout)

	setString(&cfg.APIToken, fc.APIToken)
	setString(&cfg.SessionSecret, fc.SessionSecret)
	setString(&cfg.DataDir, fc.DataDir)

	return cfg
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = os.ExpandEnv(*src)
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setInt64(dst *int64, src *int64) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

func setFloat(dst *float64, src *float64) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *duration) {
	if src != nil {
		*dst = time.Duration(*src)
	}
}

// Load resolves the configuration. path may be empty, in which case only
// defaults and environment variables apply. A missing file at an explicit
// path is an error; malformed YAML always is.
func Load(path string) (App, error) {
	cfg := Defaults()

	if path != "" {
		raw, err := os.ReadFile(path) // #nosec G304 -- path comes from the operator
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return App{}, fmt.Errorf("config file %s: %w", path, err)
			}
			return App{}, fmt.Errorf("read config file %s: %w", path, err)
		}
		var fc fileConfig
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
			return App{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
		cfg = applyFile(cfg, fc)
	}

	cfg = applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return App{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
