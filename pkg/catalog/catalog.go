/*
Copyright 2022 The Numaproj Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package catalog holds the channel catalogue of a run: which channels exist, which table
// each is read from, how it is aggregated and how its values are rewritten.
package catalog

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/multierr"

	dfv1 "github.com/numaproj/numagrid/pkg/apis/grid/v1alpha1"
	"github.com/numaproj/numagrid/pkg/shared/expr"
	"github.com/numaproj/numagrid/pkg/table"
)

// Channel is a catalogue entry with its conversions compiled.
type Channel struct {
	dfv1.Channel
	conversions map[string]*expr.Program
}

// Catalog is the read only set of declared channels.
type Catalog struct {
	channels []*Channel
	byName   map[string]*Channel
}

// New validates the declared channels and compiles their conversions.
func New(channels []dfv1.Channel) (*Catalog, error) {
	c := &Catalog{
		byName: make(map[string]*Channel, len(channels)),
	}
	var errs error
	for _, ch := range channels {
		if ch.Name == "" {
			errs = multierr.Append(errs, fmt.Errorf("channel without a name"))
			continue
		}
		if strings.Contains(ch.Name, "/") {
			errs = multierr.Append(errs, fmt.Errorf("channel name %q must not contain '/'", ch.Name))
		}
		if _, dup := c.byName[ch.Name]; dup {
			errs = multierr.Append(errs, fmt.Errorf("duplicate channel %q", ch.Name))
			continue
		}
		if ch.Kind != dfv1.MeanChannel && ch.Kind != dfv1.LastChannel {
			errs = multierr.Append(errs, fmt.Errorf("channel %q has invalid kind %q", ch.Name, ch.Kind))
		}
		if ch.Table == "" {
			errs = multierr.Append(errs, fmt.Errorf("channel %q declares no table", ch.Name))
		}
		if ch.Kind == dfv1.MeanChannel && len(ch.Categories) > 0 {
			errs = multierr.Append(errs, fmt.Errorf("mean channel %q cannot declare categories", ch.Name))
		}
		if ch.OneHot {
			errs = multierr.Append(errs, validateOneHot(ch))
		}
		entry := &Channel{Channel: ch, conversions: make(map[string]*expr.Program)}
		for _, conv := range ch.Conversions {
			if _, dup := entry.conversions[conv.Unit]; dup {
				errs = multierr.Append(errs, fmt.Errorf("channel %q converts unit %q twice", ch.Name, conv.Unit))
				continue
			}
			p, err := expr.Compile(conv.Expr)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("channel %q: %w", ch.Name, err))
				continue
			}
			entry.conversions[conv.Unit] = p
		}
		c.byName[ch.Name] = entry
		c.channels = append(c.channels, entry)
	}
	if errs != nil {
		return nil, fmt.Errorf("%w: invalid channel catalogue: %w", dfv1.ErrConfiguration, errs)
	}
	return c, nil
}

func validateOneHot(ch dfv1.Channel) error {
	if ch.Kind != dfv1.LastChannel || len(ch.Categories) == 0 {
		return fmt.Errorf("one-hot channel %q must be a last channel with categories", ch.Name)
	}
	var errs error
	codes := make(map[float64]string, len(ch.Categories))
	for name, code := range ch.Categories {
		if name == "" || strings.ContainsAny(name, "/"+dfv1.OneHotSeparator) {
			errs = multierr.Append(errs, fmt.Errorf("one-hot channel %q has invalid category %q", ch.Name, name))
		}
		if other, dup := codes[code]; dup {
			errs = multierr.Append(errs, fmt.Errorf("one-hot channel %q codes %q and %q alike", ch.Name, min(name, other), max(name, other)))
		}
		codes[code] = name
	}
	return errs
}

// Get returns the channel with the given name.
func (c *Catalog) Get(name string) (*Channel, bool) {
	ch, ok := c.byName[name]
	return ch, ok
}

// Names returns every channel name in declaration order.
func (c *Catalog) Names() []string {
	out := make([]string, len(c.channels))
	for i, ch := range c.channels {
		out[i] = ch.Name
	}
	return out
}

// ForTable returns the channels read from a table, in declaration order.
func (c *Catalog) ForTable(table string) []*Channel {
	out := make([]*Channel, 0)
	for _, ch := range c.channels {
		if ch.Table == table {
			out = append(out, ch)
		}
	}
	return out
}

// Tables returns the distinct tables referenced by the catalogue, sorted.
func (c *Catalog) Tables() []string {
	seen := make(map[string]bool)
	out := make([]string, 0)
	for _, ch := range c.channels {
		if !seen[ch.Table] {
			seen[ch.Table] = true
			out = append(out, ch.Table)
		}
	}
	sort.Strings(out)
	return out
}

// Numeric reads a raw value of a mean channel as a number, applying the conversion of the
// row's unit when one is declared.
func (ch *Channel) Numeric(raw, unit string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("channel %q: value %q is not numeric", ch.Name, raw)
	}
	if p, ok := ch.conversions[strings.TrimSpace(unit)]; ok {
		if v, err = p.Apply(v, unit); err != nil {
			return 0, fmt.Errorf("channel %q: %w", ch.Name, err)
		}
	}
	return v, nil
}

// Code reads a raw value of a last channel. Declared categories win, otherwise the value
// must be numeric. A one-hot channel only accepts its categories.
func (ch *Channel) Code(raw, unit string) (float64, error) {
	if code, ok := ch.Categories[strings.TrimSpace(raw)]; ok {
		return code, nil
	}
	if ch.OneHot {
		return 0, fmt.Errorf("channel %q: value %q is not a declared category", ch.Name, raw)
	}
	return ch.Numeric(raw, unit)
}

type category struct {
	name string
	code float64
}

// categories are ordered by code, then name.
func (ch *Channel) categories() []category {
	out := make([]category, 0, len(ch.Categories))
	for name, code := range ch.Categories {
		out = append(out, category{name: name, code: code})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].code != out[j].code {
			return out[i].code < out[j].code
		}
		return out[i].name < out[j].name
	})
	return out
}

// Columns returns the feature columns of the channel in output order.
func (ch *Channel) Columns() []table.ColumnKey {
	if ch.OneHot {
		cats := ch.categories()
		out := make([]table.ColumnKey, len(cats))
		for i, c := range cats {
			out[i] = table.Key(ch.Name+dfv1.OneHotSeparator+c.name, dfv1.StatOneHot)
		}
		return out
	}
	stats := ch.Kind.Statistics()
	out := make([]table.ColumnKey, len(stats))
	for i, stat := range stats {
		out[i] = table.Key(ch.Name, stat)
	}
	return out
}

// OneHot replaces the last and mask columns of every one-hot channel present in f with one
// indicator column per category. A bucket without an observation is 0 in every indicator.
func (c *Catalog) OneHot(f *table.Frame) (*table.Frame, error) {
	out := f
	for _, ch := range c.channels {
		if !ch.OneHot || !out.HasChannel(ch.Name) {
			continue
		}
		last, ok := out.Column(table.Key(ch.Name, dfv1.StatLast))
		if !ok {
			return nil, fmt.Errorf("%w: one-hot channel %q has no last column", dfv1.ErrStructural, ch.Name)
		}
		cats := ch.categories()
		var err error
		for i, k := range ch.Columns() {
			values := make([]float64, len(last))
			for r, v := range last {
				if v == cats[i].code {
					values[r] = 1
				}
			}
			if out, err = out.With(k, values); err != nil {
				return nil, err
			}
		}
		if out, err = out.Drop(table.Key(ch.Name, dfv1.StatLast), table.Key(ch.Name, dfv1.StatMask)); err != nil {
			return nil, err
		}
	}
	return out, nil
}
