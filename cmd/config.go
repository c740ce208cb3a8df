// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
)

// fileConfig mirrors the TOML config file. Every key maps onto a flag.
//
//	port = "/dev/ttyUSB0"
//	baud = 19200
//	half_duplex = true
//	metrics = ":9100"
//
//	[node]
//	number = 3
//	input_bytes = 3
//	output_bytes = 6
//	listen = ":9007"
type fileConfig struct {
	Port        string `toml:"port"`
	Baud        int    `toml:"baud"`
	HalfDuplex  bool   `toml:"half_duplex"`
	URL         string `toml:"url"`
	Username    string `toml:"username"`
	NoSSLVerify bool   `toml:"no_ssl_verify"`
	TCP         string `toml:"tcp"`
	LogLevel    string `toml:"log_level"`
	Metrics     string `toml:"metrics"`

	Node struct {
		Number      int    `toml:"number"`
		InputBytes  int    `toml:"input_bytes"`
		OutputBytes int    `toml:"output_bytes"`
		Listen      string `toml:"listen"`
	} `toml:"node"`
}

// loadConfig reads a config file and returns the flag values it defines,
// keyed by flag name
func loadConfig(path string) (map[string]string, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("load config: unknown key %q", undecoded[0].String())
	}

	values := make(map[string]string)
	set := func(flag string, defined bool, v string) {
		if defined {
			values[flag] = strings.TrimSpace(v)
		}
	}

	set("port", meta.IsDefined("port"), raw.Port)
	set("baud", meta.IsDefined("baud"), strconv.Itoa(raw.Baud))
	set("half-duplex", meta.IsDefined("half_duplex"), strconv.FormatBool(raw.HalfDuplex))
	set("url", meta.IsDefined("url"), raw.URL)
	set("username", meta.IsDefined("username"), raw.Username)
	set("no-ssl-verify", meta.IsDefined("no_ssl_verify"), strconv.FormatBool(raw.NoSSLVerify))
	set("tcp", meta.IsDefined("tcp"), raw.TCP)
	set("log-level", meta.IsDefined("log_level"), raw.LogLevel)
	set("metrics", meta.IsDefined("metrics"), raw.Metrics)

	set("node", meta.IsDefined("node", "number"), strconv.Itoa(raw.Node.Number))
	set("input-bytes", meta.IsDefined("node", "input_bytes"), strconv.Itoa(raw.Node.InputBytes))
	set("output-bytes", meta.IsDefined("node", "output_bytes"), strconv.Itoa(raw.Node.OutputBytes))
	set("listen", meta.IsDefined("node", "listen"), raw.Node.Listen)

	return values, nil
}

// applyConfig sets every flag the user did not pass explicitly. Keys for flags
// the running command does not have are ignored.
func applyConfig(cmd *cobra.Command, values map[string]string) error {
	for name, v := range values {
		f := cmd.Flags().Lookup(name)
		if f == nil || f.Changed {
			continue
		}
		if err := f.Value.Set(v); err != nil {
			return fmt.Errorf("config %s: %w", name, err)
		}
	}
	return nil
}
