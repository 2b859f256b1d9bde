// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package device persists the user's device lists: owned devices, which are
// registered explicitly and have no expiry, and the abandoned-host list
// excluded from fleet lease listings.
package device

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// OwnedDevice is a device the user registered permanently.
type OwnedDevice struct {
	Hostname string `yaml:"hostname"`
}

// configFile is the on-disk layout of the device config.
type configFile struct {
	Devices   []OwnedDevice `yaml:"devices"`
	Abandoned []string      `yaml:"abandoned,omitempty"`
}

// Repository stores owned devices and abandoned hostnames in a YAML file.
// Owned devices are mutated only by explicit add/remove actions; the
// abandoned list feeds the leased-device filtering in package fleet.
type Repository struct {
	path string

	mu        sync.Mutex
	observers []func()
}

// DefaultConfigPath returns the standard location of the device config
// file under the user config directory.
func DefaultConfigPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("could not determine user config directory: %w", err)
	}
	return filepath.Join(configDir, "crosconn", "devices.yaml"), nil
}

// NewRepository creates a repository backed by the YAML file at path. The
// file is created on first write.
func NewRepository(path string) *Repository {
	return &Repository{path: path}
}

// OnDidChange registers an observer called after every successful mutation.
func (r *Repository) OnDidChange(f func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, f)
}

func (r *Repository) load() (*configFile, error) {
	var config configFile
	data, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		return &config, nil
	}
	if err != nil {
		return nil, fmt.Errorf("could not read device config %q: %w", r.path, err)
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("could not parse device config %q: %w", r.path, err)
	}
	return &config, nil
}

func (r *Repository) save(config *configFile) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("could not encode device config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("could not create config directory: %w", err)
	}
	if err := os.WriteFile(r.path, data, 0o644); err != nil {
		return fmt.Errorf("could not write device config %q: %w", r.path, err)
	}
	return nil
}

// Owned returns the registered owned devices.
func (r *Repository) Owned() ([]OwnedDevice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	config, err := r.load()
	if err != nil {
		return nil, err
	}
	return config.Devices, nil
}

// AddOwned registers a device. Duplicate hostnames are rejected.
func (r *Repository) AddOwned(hostname string) error {
	if hostname == "" {
		return fmt.Errorf("hostname must not be empty")
	}
	r.mu.Lock()
	config, err := r.load()
	if err != nil {
		r.mu.Unlock()
		return err
	}
	for _, device := range config.Devices {
		if device.Hostname == hostname {
			r.mu.Unlock()
			return fmt.Errorf("device %q is already registered", hostname)
		}
	}
	config.Devices = append(config.Devices, OwnedDevice{Hostname: hostname})
	if err := r.save(config); err != nil {
		r.mu.Unlock()
		return err
	}
	observers := append([]func(){}, r.observers...)
	r.mu.Unlock()
	for _, f := range observers {
		f()
	}
	return nil
}

// RemoveOwned unregisters a device.
func (r *Repository) RemoveOwned(hostname string) error {
	r.mu.Lock()
	config, err := r.load()
	if err != nil {
		r.mu.Unlock()
		return err
	}
	kept := config.Devices[:0]
	found := false
	for _, device := range config.Devices {
		if device.Hostname == hostname {
			found = true
			continue
		}
		kept = append(kept, device)
	}
	if !found {
		r.mu.Unlock()
		return fmt.Errorf("device %q is not registered", hostname)
	}
	config.Devices = kept
	if err := r.save(config); err != nil {
		r.mu.Unlock()
		return err
	}
	observers := append([]func(){}, r.observers...)
	r.mu.Unlock()
	for _, f := range observers {
		f()
	}
	return nil
}

// Abandon records a leased hostname as abandoned so lease listings exclude
// it. Recording the same hostname twice is a no-op.
func (r *Repository) Abandon(hostname string) error {
	r.mu.Lock()
	config, err := r.load()
	if err != nil {
		r.mu.Unlock()
		return err
	}
	for _, h := range config.Abandoned {
		if h == hostname {
			r.mu.Unlock()
			return nil
		}
	}
	config.Abandoned = append(config.Abandoned, hostname)
	if err := r.save(config); err != nil {
		r.mu.Unlock()
		return err
	}
	observers := append([]func(){}, r.observers...)
	r.mu.Unlock()
	for _, f := range observers {
		f()
	}
	return nil
}

// AbandonedHostnames returns the abandoned hostnames. It satisfies
// fleet.AbandonedSource.
func (r *Repository) AbandonedHostnames(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	config, err := r.load()
	if err != nil {
		return nil, err
	}
	return config.Abandoned, nil
}
