/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package quiz

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

var (
	ErrNoEntities       = errors.New("no countries loaded")
	ErrMalformedFeature = errors.New("malformed feature")
)

var leadingArticle = regexp.MustCompile(`^(the|a|an)\s+`)

// Feature is one record of the reference dataset, before exclusion.
type Feature struct {
	DisplayName string
	GeometryRef string
}

// Entity is a country that can be guessed this round.
type Entity struct {
	CanonicalName string `json:"canonical"`
	DisplayName   string `json:"display"`
	GeometryRef   string `json:"geometry"`
}

// Resolver maps free text to canonical country names. It is immutable once
// Load has returned, so a single Resolver may be shared by any number of
// sessions.
type Resolver struct {
	entities map[string]Entity
	aliases  map[string]string
	loaded   bool
}

func NewResolver() *Resolver {
	return &Resolver{
		entities: make(map[string]Entity),
		aliases:  make(map[string]string),
	}
}

// Normalize trims surrounding whitespace and lowercases s.
func Normalize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	return cases.Lower(language.Und).String(norm.NFC.String(s))
}

// Load builds the index. Features without a name are skipped and reported
// through the returned error; the rest of the index is still usable. A load
// that registers nothing returns ErrNoEntities.
func (r *Resolver) Load(features []Feature, aliases map[string]string, excluded []string) error {
	skip := make(map[string]struct{}, len(excluded))
	for _, name := range excluded {
		skip[Normalize(name)] = struct{}{}
	}

	byTarget := make(map[string][]string, len(aliases))
	for alias, target := range aliases {
		target = Normalize(target)
		byTarget[target] = append(byTarget[target], Normalize(alias))
	}

	r.entities = make(map[string]Entity, len(features))
	r.aliases = make(map[string]string, len(aliases))

	malformed := 0

	for _, f := range features {
		canonical := Normalize(f.DisplayName)
		if canonical == "" {
			malformed++
			continue
		}

		if _, ok := skip[canonical]; ok {
			continue
		}

		if _, ok := r.entities[canonical]; ok {
			continue
		}

		r.entities[canonical] = Entity{
			CanonicalName: canonical,
			DisplayName:   strings.TrimSpace(f.DisplayName),
			GeometryRef:   f.GeometryRef,
		}
	}

	// Aliases go in only once every country is known, so none of them can
	// shadow a real name regardless of dataset order.
	names := make([]string, 0, len(r.entities))
	for canonical := range r.entities {
		names = append(names, canonical)
	}
	sort.Strings(names)

	for _, canonical := range names {
		targets := byTarget[canonical]
		sort.Strings(targets)

		for _, alias := range targets {
			r.addAlias(alias, canonical)
		}
	}

	for _, canonical := range names {
		if stripped := leadingArticle.ReplaceAllString(canonical, ""); stripped != canonical {
			r.addAlias(stripped, canonical)
		}
	}

	r.loaded = true

	var errs []error
	if malformed > 0 {
		errs = append(errs, fmt.Errorf("%w: %d feature(s) without a name", ErrMalformedFeature, malformed))
	}
	if len(r.entities) == 0 {
		errs = append(errs, ErrNoEntities)
	}

	return errors.Join(errs...)
}

// addAlias keeps the first target registered for an alias.
func (r *Resolver) addAlias(alias, canonical string) {
	if alias == "" || alias == canonical {
		return
	}

	if existing, ok := r.aliases[alias]; ok && existing != canonical {
		return
	}

	if _, ok := r.entities[alias]; ok {
		return
	}

	r.aliases[alias] = canonical
}

// Resolve returns the canonical name a query refers to. It does not check
// that the name belongs to a loaded country; use IsKnown for that.
func (r *Resolver) Resolve(raw string) (string, bool) {
	if !r.loaded {
		panic("quiz: Resolve called before Load")
	}

	query := Normalize(raw)
	if query == "" {
		return "", false
	}

	if canonical, ok := r.aliases[query]; ok {
		return canonical, true
	}

	return query, true
}

func (r *Resolver) IsKnown(canonical string) bool {
	_, ok := r.entities[canonical]

	return ok
}

func (r *Resolver) Entity(canonical string) (Entity, bool) {
	e, ok := r.entities[canonical]

	return e, ok
}

func (r *Resolver) Len() int {
	return len(r.entities)
}

// Entities returns every loaded country, sorted by canonical name.
func (r *Resolver) Entities() []Entity {
	out := make([]Entity, 0, len(r.entities))
	for _, e := range r.entities {
		out = append(out, e)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CanonicalName < out[j].CanonicalName
	})

	return out
}
