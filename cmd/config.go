package main

import (
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/luca-patrignani/zbcoll/zbcoll"
	"github.com/pkg/errors"
)

// scenario describes one run of the collectives.
type scenario struct {
	Ranks      int
	Radix      int
	Reps       int
	Combinator string
	Shuffle    bool
	Timeout    time.Duration
}

func defaultScenario() scenario {
	return scenario{
		Ranks:      9,
		Radix:      zbcoll.DefaultRadix,
		Reps:       20,
		Combinator: "and",
		Shuffle:    true,
		Timeout:    30 * time.Second,
	}
}

type fileConfig struct {
	Ranks      int    `toml:"ranks"`
	Radix      int    `toml:"radix"`
	Reps       int    `toml:"reps"`
	Combinator string `toml:"combinator"`
	Shuffle    bool   `toml:"shuffle"`
	Timeout    string `toml:"timeout"`
}

// loadScenario reads the keys defined in the TOML file at path over base.
func loadScenario(path string, base scenario) (scenario, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return scenario{}, errors.Wrap(err, "load scenario")
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return scenario{}, errors.Errorf("load scenario: unknown key %q", undecoded[0].String())
	}
	sc := base
	if meta.IsDefined("ranks") {
		sc.Ranks = raw.Ranks
	}
	if meta.IsDefined("radix") {
		sc.Radix = raw.Radix
	}
	if meta.IsDefined("reps") {
		sc.Reps = raw.Reps
	}
	if meta.IsDefined("combinator") {
		sc.Combinator = strings.ToLower(strings.TrimSpace(raw.Combinator))
	}
	if meta.IsDefined("shuffle") {
		sc.Shuffle = raw.Shuffle
	}
	if meta.IsDefined("timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Timeout))
		if err != nil {
			return scenario{}, errors.Wrap(err, "parse timeout")
		}
		sc.Timeout = d
	}
	return sc, sc.validate()
}

func (sc scenario) validate() error {
	if sc.Ranks < 1 {
		return errors.Errorf("ranks must be positive, got %d", sc.Ranks)
	}
	if sc.Radix < 1 {
		return errors.Errorf("radix must be positive, got %d", sc.Radix)
	}
	if sc.Reps < 0 {
		return errors.Errorf("reps must not be negative, got %d", sc.Reps)
	}
	if _, ok := zbcoll.Combinators[sc.Combinator]; !ok {
		return errors.Errorf("unknown combinator %q", sc.Combinator)
	}
	if sc.Timeout <= 0 {
		return errors.Errorf("timeout must be positive, got %s", sc.Timeout)
	}
	return nil
}
