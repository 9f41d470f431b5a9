package bridge

import (
	"bytes"
	"context"
	"strconv"
	"strings"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	format "github.com/go-git/go-git/v5/plumbing/format/config"

	"github.com/go-git/go-git-bridge/dispatch"
	"github.com/go-git/go-git-bridge/errors"
)

// Config is a borrowed handle on the repository configuration. Reads see
// the repository file first, then the global and the system ones; writes go
// to the repository file and are saved at once.
type Config struct {
	borrowed[struct{}]
}

func newConfig(c *core) (*Config, error) {
	b, err := newBorrowed(c, struct{}{})
	if err != nil {
		return nil, err
	}

	cfg := &Config{borrowed: b}
	track(cfg, b.owner)
	return cfg, nil
}

// configKey is a parsed "section.key" or "section.subsection.key".
type configKey struct {
	section    string
	subsection string
	name       string
}

func parseConfigKey(op, key string) (configKey, error) {
	first := strings.IndexByte(key, '.')
	last := strings.LastIndexByte(key, '.')
	if first <= 0 || last == len(key)-1 {
		return configKey{}, errors.Enginef(op, errors.CodeInvalidSpec, "invalid config key %q", key)
	}

	k := configKey{section: key[:first], name: key[last+1:]}
	if first != last {
		k.subsection = key[first+1 : last]
	}

	return k, nil
}

func (k configKey) lookup(raw *format.Config) (string, bool) {
	if raw == nil || !raw.HasSection(k.section) {
		return "", false
	}

	s := raw.Section(k.section)
	if k.subsection == "" {
		if !s.HasOption(k.name) {
			return "", false
		}

		return s.Option(k.name), true
	}

	if !s.HasSubsection(k.subsection) {
		return "", false
	}

	ss := s.Subsection(k.subsection)
	if !ss.HasOption(k.name) {
		return "", false
	}

	return ss.Option(k.name), true
}

// readConfig returns the value of key, looked up in the repository, global
// and system configuration in that order.
func readConfig(r *git.Repository, key string) (string, error) {
	const op = "config.get"
	k, err := parseConfigKey(op, key)
	if err != nil {
		return "", err
	}

	local, err := r.Storer.Config()
	if err != nil {
		return "", err
	}

	if v, ok := k.lookup(local.Raw); ok {
		return v, nil
	}

	for _, scope := range []config.Scope{config.GlobalScope, config.SystemScope} {
		cfg, err := config.LoadConfig(scope)
		if err != nil {
			return "", errors.Engine(op, errors.CodeIo, err)
		}

		if v, ok := k.lookup(cfg.Raw); ok {
			return v, nil
		}
	}

	return "", errors.Enginef(op, errors.CodeNotFound, "config value %q was not found", key)
}

// writeConfig applies change to the repository configuration and saves it.
func writeConfig(r *git.Repository, change func(raw *format.Config)) error {
	cfg, err := r.Storer.Config()
	if err != nil {
		return err
	}

	change(cfg.Raw)

	var buf bytes.Buffer
	if err := format.NewEncoder(&buf).Encode(cfg.Raw); err != nil {
		return err
	}

	// the typed fields take precedence over Raw when saving
	fresh := config.NewConfig()
	if err := fresh.Unmarshal(buf.Bytes()); err != nil {
		return errors.Engine("config.set", errors.CodeInvalidSpec, err)
	}

	return r.Storer.SetConfig(fresh)
}

func (c *Config) set(ctx context.Context, op, key, value string) *dispatch.Future[struct{}] {
	k, err := parseConfigKey(op, key)
	if err != nil {
		return dispatch.Rejected[struct{}](c.owner.c.d, err)
	}

	return with(ctx, &c.borrowed, op, func(_ context.Context, r *git.Repository, _ struct{}) (struct{}, error) {
		return struct{}{}, writeConfig(r, func(raw *format.Config) {
			raw.SetOption(k.section, k.subsection, k.name, value)
		})
	})
}

func get[T any](ctx context.Context, c *Config, op, key string, parse func(string) (T, error)) *dispatch.Future[T] {
	return with(ctx, &c.borrowed, op, func(_ context.Context, r *git.Repository, _ struct{}) (T, error) {
		var v T
		s, err := readConfig(r, key)
		if err != nil {
			return v, err
		}

		v, err = parse(s)
		if err != nil {
			return v, errors.Engine(op, errors.CodeInvalidSpec, err)
		}

		return v, nil
	})
}

// SetStr sets a string value.
func (c *Config) SetStr(ctx context.Context, key, value string) *dispatch.Future[struct{}] {
	return c.set(ctx, "config.set_str", key, value)
}

// SetBool sets a boolean value.
func (c *Config) SetBool(ctx context.Context, key string, value bool) *dispatch.Future[struct{}] {
	return c.set(ctx, "config.set_bool", key, strconv.FormatBool(value))
}

// SetI64 sets an integer value.
func (c *Config) SetI64(ctx context.Context, key string, value int64) *dispatch.Future[struct{}] {
	return c.set(ctx, "config.set_i64", key, strconv.FormatInt(value, 10))
}

// GetStr returns a string value.
func (c *Config) GetStr(ctx context.Context, key string) *dispatch.Future[string] {
	return get(ctx, c, "config.get_str", key, func(s string) (string, error) { return s, nil })
}

// GetBool returns a boolean value. Like git, it accepts true, yes, on and 1,
// false, no, off and 0, and a key without value as true.
func (c *Config) GetBool(ctx context.Context, key string) *dispatch.Future[bool] {
	return get(ctx, c, "config.get_bool", key, parseConfigBool)
}

// GetI64 returns an integer value. The k, m and g suffixes are honored.
func (c *Config) GetI64(ctx context.Context, key string) *dispatch.Future[int64] {
	return get(ctx, c, "config.get_i64", key, parseConfigInt)
}

// Remove deletes a value from the repository configuration.
func (c *Config) Remove(ctx context.Context, key string) *dispatch.Future[struct{}] {
	const op = "config.remove"
	k, err := parseConfigKey(op, key)
	if err != nil {
		return dispatch.Rejected[struct{}](c.owner.c.d, err)
	}

	return with(ctx, &c.borrowed, op, func(_ context.Context, r *git.Repository, _ struct{}) (struct{}, error) {
		local, err := r.Storer.Config()
		if err != nil {
			return struct{}{}, err
		}

		if _, ok := k.lookup(local.Raw); !ok {
			return struct{}{}, errors.Enginef(op, errors.CodeNotFound, "config value %q was not found", key)
		}

		return struct{}{}, writeConfig(r, func(raw *format.Config) {
			s := raw.Section(k.section)
			if k.subsection == "" {
				s.RemoveOption(k.name)
				return
			}

			s.Subsection(k.subsection).RemoveOption(k.name)
		})
	})
}

func parseConfigBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "", "true", "yes", "on", "1":
		return true, nil
	case "false", "no", "off", "0":
		return false, nil
	}

	return false, errors.New("invalid boolean " + strconv.Quote(s))
}

func parseConfigInt(s string) (int64, error) {
	s = strings.TrimSpace(s)
	mult := int64(1)
	if n := len(s); n > 0 {
		switch s[n-1] {
		case 'k', 'K':
			mult = 1 << 10
		case 'm', 'M':
			mult = 1 << 20
		case 'g', 'G':
			mult = 1 << 30
		}

		if mult != 1 {
			s = s[:n-1]
		}
	}

	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}

	return v * mult, nil
}
