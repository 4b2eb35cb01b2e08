package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"dario.cat/mergo"
	"github.com/titanous/json5"
)

// fileOverrides is the json5 shape of the config file. Durations are
// strings in time.ParseDuration form ("290s", "1.5m"); bools are pointers
// so an explicit false still overrides.
type fileOverrides struct {
	Logging struct {
		Level  string `json:"level"`
		Format string `json:"format"`
	} `json:"logging"`
	Server struct {
		Enabled *bool  `json:"enabled"`
		Host    string `json:"host"`
		Port    string `json:"port"`
	} `json:"server"`
	Crawler struct {
		MaxAttempts    int    `json:"max_attempts"`
		BackoffBase    string `json:"backoff_base"`
		BackoffCap     string `json:"backoff_cap"`
		JitterMin      string `json:"jitter_min"`
		JitterMax      string `json:"jitter_max"`
		StallThreshold string `json:"stall_threshold"`
		StallInterval  string `json:"stall_interval"`
		ItemDelayMin   string `json:"item_delay_min"`
		ItemDelayMax   string `json:"item_delay_max"`
		RestartDelay   string `json:"restart_delay"`
		MaxRestarts    *int   `json:"max_restarts"`
	} `json:"crawler"`
	Browser struct {
		Headless   *bool  `json:"headless"`
		NavTimeout string `json:"nav_timeout"`
		Locale     string `json:"locale"`
		Timezone   string `json:"timezone"`
		Proxy      string `json:"proxy"`
	} `json:"browser"`
	Storage struct {
		DataDir string `json:"data_dir"`
	} `json:"storage"`
	Journal struct {
		Enabled     *bool  `json:"enabled"`
		DatabaseURL string `json:"database_url"`
		RedisAddr   string `json:"redis_addr"`
		RedisStream string `json:"redis_stream"`
	} `json:"journal"`
}

// readOverrides loads <name>.json5 merged with <name>.local.json5 when the
// latter exists, local values winning. Returns os.ErrNotExist when neither
// file is present.
func readOverrides(name string) (fileOverrides, error) {
	var out fileOverrides
	found := false

	base, err := os.ReadFile(name)
	if err != nil && !os.IsNotExist(err) {
		return out, err
	}
	if len(base) > 0 {
		if err := json5.Unmarshal(base, &out); err != nil {
			return out, fmt.Errorf("parsing %s: %w", name, err)
		}
		found = true
	}

	localPath := localVariant(name)
	local, err := os.ReadFile(localPath)
	if err != nil && !os.IsNotExist(err) {
		return out, err
	}
	if len(local) > 0 {
		var override fileOverrides
		if err := json5.Unmarshal(local, &override); err != nil {
			return out, fmt.Errorf("parsing %s: %w", localPath, err)
		}
		if err := mergo.Merge(&out, override, mergo.WithOverride); err != nil {
			return out, fmt.Errorf("merging %s: %w", localPath, err)
		}
		found = true
	}

	if !found {
		return out, os.ErrNotExist
	}
	return out, nil
}

// localVariant turns "config.json5" into "config.local.json5".
func localVariant(name string) string {
	dir := filepath.Dir(name)
	base := filepath.Base(name)
	ext := filepath.Ext(base)
	stem := base[:len(base)-len(ext)]
	if ext == "" {
		return filepath.Join(dir, stem+".local")
	}
	return filepath.Join(dir, fmt.Sprintf("%s.local%s", stem, ext))
}

func (c *Config) applyFile(f fileOverrides) error {
	setString(&c.Logging.Level, f.Logging.Level)
	setString(&c.Logging.Format, f.Logging.Format)

	setBool(&c.Server.Enabled, f.Server.Enabled)
	setString(&c.Server.Host, f.Server.Host)
	setString(&c.Server.Port, f.Server.Port)

	if f.Crawler.MaxAttempts > 0 {
		c.Crawler.MaxAttempts = f.Crawler.MaxAttempts
	}
	if f.Crawler.MaxRestarts != nil {
		c.Crawler.MaxRestarts = *f.Crawler.MaxRestarts
	}
	for _, d := range []struct {
		raw  string
		dst  *time.Duration
		name string
	}{
		{f.Crawler.BackoffBase, &c.Crawler.BackoffBase, "crawler.backoff_base"},
		{f.Crawler.BackoffCap, &c.Crawler.BackoffCap, "crawler.backoff_cap"},
		{f.Crawler.JitterMin, &c.Crawler.JitterMin, "crawler.jitter_min"},
		{f.Crawler.JitterMax, &c.Crawler.JitterMax, "crawler.jitter_max"},
		{f.Crawler.StallThreshold, &c.Crawler.StallThreshold, "crawler.stall_threshold"},
		{f.Crawler.StallInterval, &c.Crawler.StallInterval, "crawler.stall_interval"},
		{f.Crawler.ItemDelayMin, &c.Crawler.ItemDelayMin, "crawler.item_delay_min"},
		{f.Crawler.ItemDelayMax, &c.Crawler.ItemDelayMax, "crawler.item_delay_max"},
		{f.Crawler.RestartDelay, &c.Crawler.RestartDelay, "crawler.restart_delay"},
		{f.Browser.NavTimeout, &c.Browser.NavTimeout, "browser.nav_timeout"},
	} {
		if err := setDuration(d.dst, d.raw, d.name); err != nil {
			return err
		}
	}

	setBool(&c.Browser.Headless, f.Browser.Headless)
	setString(&c.Browser.Locale, f.Browser.Locale)
	setString(&c.Browser.TimezoneID, f.Browser.Timezone)
	setString(&c.Browser.Proxy, f.Browser.Proxy)

	setString(&c.Storage.DataDir, f.Storage.DataDir)

	setBool(&c.Journal.Enabled, f.Journal.Enabled)
	setString(&c.Journal.DatabaseURL, f.Journal.DatabaseURL)
	setString(&c.Journal.RedisAddr, f.Journal.RedisAddr)
	setString(&c.Journal.RedisStream, f.Journal.RedisStream)

	return nil
}

func setString(dst *string, val string) {
	if val != "" {
		*dst = val
	}
}

func setBool(dst *bool, val *bool) {
	if val != nil {
		*dst = *val
	}
}

func setDuration(dst *time.Duration, raw, name string) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*dst = d
	return nil
}
