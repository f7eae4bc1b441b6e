// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// durationKeys are encoded as Go duration strings instead of nanoseconds.
var durationKeys = map[string]bool{
	"deadline":         true,
	"min_interval":     true,
	"control_interval": true,
	"keep_alive":       true,
	"safety_window":    true,
}

// Encode renders c as YAML.
func (c Config) Encode() ([]byte, error) {
	var root yaml.Node
	if err := root.Encode(c); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	humanizeDurations(&root)

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&root); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func humanizeDurations(n *yaml.Node) {
	if n.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(n.Content); i += 2 {
			key, val := n.Content[i], n.Content[i+1]
			if durationKeys[key.Value] && val.Kind == yaml.ScalarNode && val.Tag == "!!int" {
				if ns, err := strconv.ParseInt(val.Value, 10, 64); err == nil {
					val.Value = time.Duration(ns).String()
					val.Tag = "!!str"
				}
			}
		}
	}
	for _, child := range n.Content {
		humanizeDurations(child)
	}
}

// WriteDefault writes the default configuration to path. An existing file
// is only replaced when force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}
	out, err := Default().Encode()
	if err != nil {
		return err
	}
	header := []byte("# stovelink configuration. Environment variables STOVELINK_<SECTION>_<KEY> override these values.\n")
	if err := os.WriteFile(path, append(header, out...), 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
