// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package fleet

import (
	"context"
	"sync"
	"time"
)

// call is one shared lease-list computation; concurrent Devices callers
// wait on done instead of fetching again.
type call struct {
	done    chan struct{}
	devices []LeasedDevice
	err     error
}

// Repository caches the leased device list with invalidation tied to lease
// deadlines. The cache is dropped when explicitly refreshed, when the login
// state changes, or when the earliest lease deadline passes; deadline expiry
// notifies change observers so callers refetch.
//
// Each cache generation has at most one scheduled expiry timer. A
// computation captures the generation when it starts and compares it at
// completion, so a computation that was superseded mid-flight neither
// populates the cache nor schedules a timer.
type Repository struct {
	client    Client
	abandoned AbandonedSource

	mu          sync.Mutex
	generation  uint64
	cache       *call
	timer       *time.Timer
	observers   []func()
	expiryFloor time.Duration
}

// defaultExpiryFloor is the minimum delay before an expiry timer fires.
// Crosfleet can keep reporting a lease as STARTED briefly after its deadline
// passes; without a floor such a lease would rearm an immediately-firing
// timer on every refetch.
const defaultExpiryFloor = time.Minute

// NewRepository creates a repository over the given fleet client and,
// optionally, an abandoned-host source (nil means nothing is excluded).
func NewRepository(client Client, abandoned AbandonedSource) *Repository {
	return &Repository{client: client, abandoned: abandoned, expiryFloor: defaultExpiryFloor}
}

// OnDidChange registers an observer called whenever the cached device list
// is invalidated.
func (r *Repository) OnDidChange(f func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, f)
}

// Devices returns the leased devices, fetching from the fleet service if no
// cached result is available. When the user is not logged in it returns an
// empty list without caching, so a later call checks the login state again.
// Fetch failures propagate to the caller and are not cached or retried; the
// next call fetches again.
func (r *Repository) Devices(ctx context.Context) ([]LeasedDevice, error) {
	r.mu.Lock()
	if c := r.cache; c != nil {
		r.mu.Unlock()
		select {
		case <-c.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return c.devices, c.err
	}
	c := &call{done: make(chan struct{})}
	r.cache = c
	generation := r.generation
	r.mu.Unlock()

	devices, cacheable, err := r.fetch(ctx)
	c.devices, c.err = devices, err
	close(c.done)

	r.mu.Lock()
	// A refresh or login change may have superseded this computation while
	// it was in flight; in that case leave the newer generation alone.
	if r.generation == generation && r.cache == c {
		if err != nil || !cacheable {
			r.cache = nil
		} else {
			r.scheduleExpiryLocked(generation, devices)
		}
	}
	r.mu.Unlock()
	return devices, err
}

// fetch performs the login check, lease listing and abandoned filtering.
// The second return value reports whether the result may be cached.
func (r *Repository) fetch(ctx context.Context) ([]LeasedDevice, bool, error) {
	loggedIn, err := r.client.CheckLogin(ctx)
	if err != nil {
		return nil, false, err
	}
	if !loggedIn {
		return nil, false, nil
	}
	leases, err := r.client.ListLeases(ctx)
	if err != nil {
		return nil, false, err
	}
	var abandoned []string
	if r.abandoned != nil {
		abandoned, err = r.abandoned.AbandonedHostnames(ctx)
		if err != nil {
			return nil, false, err
		}
	}
	excluded := make(map[string]bool, len(abandoned))
	for _, hostname := range abandoned {
		excluded[hostname] = true
	}
	devices := make([]LeasedDevice, 0, len(leases))
	for _, device := range leases {
		if excluded[device.Hostname] {
			continue
		}
		devices = append(devices, device)
	}
	return devices, true, nil
}

// scheduleExpiryLocked arms a one-shot timer for the earliest lease
// deadline among devices, if any. Caller holds r.mu.
func (r *Repository) scheduleExpiryLocked(generation uint64, devices []LeasedDevice) {
	var earliest time.Time
	for _, device := range devices {
		if device.Deadline.IsZero() {
			continue
		}
		if earliest.IsZero() || device.Deadline.Before(earliest) {
			earliest = device.Deadline
		}
	}
	if earliest.IsZero() {
		return
	}
	delay := time.Until(earliest)
	if delay < r.expiryFloor {
		delay = r.expiryFloor
	}
	r.timer = time.AfterFunc(delay, func() {
		r.expire(generation)
	})
}

// expire invalidates the cache when a lease deadline passes, unless the
// generation the timer was armed for has already been superseded.
func (r *Repository) expire(generation uint64) {
	r.mu.Lock()
	if r.generation != generation {
		r.mu.Unlock()
		return
	}
	r.invalidateLocked()
	observers := append([]func(){}, r.observers...)
	r.mu.Unlock()
	for _, f := range observers {
		f()
	}
}

// Refresh drops the cached device list and cancels any pending expiry
// timer. Change observers are notified.
func (r *Repository) Refresh() {
	r.mu.Lock()
	r.invalidateLocked()
	observers := append([]func(){}, r.observers...)
	r.mu.Unlock()
	for _, f := range observers {
		f()
	}
}

// HandleLoginStateChange invalidates the cache in response to an upstream
// fleet login or logout.
func (r *Repository) HandleLoginStateChange() {
	r.Refresh()
}

// invalidateLocked advances the generation, drops the cache and stops any
// pending timer. Caller holds r.mu.
func (r *Repository) invalidateLocked() {
	r.generation++
	r.cache = nil
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}
