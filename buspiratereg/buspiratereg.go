// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package buspiratereg is a registry of the Bus Pirate adapters reachable
// from this host.
//
// Adapters are registered by name, with optional aliases, along with the
// function opening the byte stream to them; usually a serial port.
package buspiratereg

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
)

// Opener opens the byte stream to an adapter.
//
// It is provided by the transport, usually a serial port driver.
type Opener func() (io.ReadWriteCloser, error)

// Ref references an adapter.
//
// It is returned by All() to enumerate all registered adapters.
type Ref struct {
	// Name of the adapter.
	//
	// It must be unique across the host.
	Name string
	// Aliases are the alternative names that can be used to reference this
	// adapter; the device path of its serial port for example.
	Aliases []string
	// Open is the factory to open the byte stream to this adapter.
	Open Opener
}

func (r *Ref) clone() *Ref {
	return &Ref{Name: r.Name, Aliases: slices.Clone(r.Aliases), Open: r.Open}
}

// Open opens an adapter by its name or an alias and returns the byte stream
// to it, ready to be passed to buspirate.Enter.
//
// Specify the empty string "" to get the first registered adapter in lexical
// order.
func Open(name string) (io.ReadWriteCloser, error) {
	r, err := reg.lookup(name)
	if err != nil {
		return nil, err
	}
	return r.Open()
}

// All returns a copy of all the registered references, sorted by name.
func All() []*Ref {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	out := make([]*Ref, 0, len(reg.refs))
	for _, r := range reg.refs {
		out = append(out, r.clone())
	}
	slices.SortFunc(out, func(a, b *Ref) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// Register registers an adapter.
//
// Registering the same name twice is an error, as is reusing a name as an
// alias or the reverse.
func Register(name string, aliases []string, o Opener) error {
	if err := validate(name, aliases, o); err != nil {
		return fmt.Errorf("buspiratereg: can't register adapter %q: %w", name, err)
	}
	r := &Ref{Name: name, Aliases: slices.Clone(aliases), Open: o}
	if err := reg.add(r); err != nil {
		return fmt.Errorf("buspiratereg: can't register adapter %q: %w", name, err)
	}
	return nil
}

// Unregister removes a previously registered adapter.
//
// This happens when a USB adapter is unplugged.
func Unregister(name string) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	r, ok := reg.refs[name]
	if !ok {
		return fmt.Errorf("buspiratereg: can't unregister unknown adapter %q", name)
	}
	delete(reg.refs, name)
	for _, alias := range r.Aliases {
		delete(reg.aliases, alias)
	}
	return nil
}

//

var reg = newRegistry()

type registry struct {
	mu   sync.Mutex
	refs map[string]*Ref
	// aliases resolves an alias to the adapter name.
	aliases map[string]string
}

func newRegistry() *registry {
	return &registry{refs: map[string]*Ref{}, aliases: map[string]string{}}
}

func validate(name string, aliases []string, o Opener) error {
	switch {
	case name == "":
		return errors.New("empty name")
	case o == nil:
		return errors.New("nil Opener")
	case strings.ContainsAny(name, `:/\`):
		return errors.New("name contains a path separator or ':'")
	}
	for _, alias := range aliases {
		if alias == "" {
			return errors.New("empty alias")
		}
		if alias == name {
			return errors.New("alias is the same as its name")
		}
	}
	return nil
}

// taken reports what already uses s, if anything.
func (g *registry) taken(s string) string {
	if _, ok := g.refs[s]; ok {
		return "an adapter"
	}
	if _, ok := g.aliases[s]; ok {
		return "an alias"
	}
	return ""
}

func (g *registry) add(r *Ref) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if what := g.taken(r.Name); what != "" {
		return fmt.Errorf("name is already %s", what)
	}
	for _, alias := range r.Aliases {
		if what := g.taken(alias); what != "" {
			return fmt.Errorf("alias %q is already %s", alias, what)
		}
	}
	g.refs[r.Name] = r
	for _, alias := range r.Aliases {
		g.aliases[alias] = r.Name
	}
	return nil
}

// lookup resolves a name or an alias. The empty name resolves to the lowest
// registered name.
func (g *registry) lookup(name string) (*Ref, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.refs) == 0 {
		return nil, errors.New("buspiratereg: no adapter registered")
	}
	if name == "" {
		for n := range g.refs {
			if name == "" || n < name {
				name = n
			}
		}
	}
	if r, ok := g.refs[name]; ok {
		return r, nil
	}
	if n, ok := g.aliases[name]; ok {
		return g.refs[n], nil
	}
	return nil, fmt.Errorf("buspiratereg: can't open unknown adapter %q", name)
}
