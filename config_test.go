package bridge

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	git "github.com/go-git/go-git/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/go-git/go-git-bridge/errors"
)

type ConfigSuite struct {
	BaseSuite
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigSuite))
}

func (s *ConfigSuite) config(r *Repository) *Config {
	cfg := must(s.T(), r.Config(context.Background()))
	s.T().Cleanup(func() { _ = cfg.Free() })
	return cfg
}

func (s *ConfigSuite) TestSetGet() {
	ctx := context.Background()
	r := s.initRepository(false)
	cfg := s.config(r)

	must(s.T(), cfg.SetStr(ctx, "bridge.name", "value"))
	must(s.T(), cfg.SetBool(ctx, "bridge.enabled", true))
	must(s.T(), cfg.SetI64(ctx, "bridge.size", -42))
	must(s.T(), cfg.SetStr(ctx, "branch.feature/x.remote", "origin"))

	s.Equal("value", must(s.T(), cfg.GetStr(ctx, "bridge.name")))
	s.True(must(s.T(), cfg.GetBool(ctx, "bridge.enabled")))
	s.Equal(int64(-42), must(s.T(), cfg.GetI64(ctx, "bridge.size")))
	s.Equal("origin", must(s.T(), cfg.GetStr(ctx, "branch.feature/x.remote")))

	_, err := wait(cfg.GetBool(ctx, "bridge.name"))
	s.ErrorIs(err, errors.ErrInvalidSpec)

	// the values are saved and seen by the engine
	engine, err := git.PlainOpen(r.Workdir())
	s.Require().NoError(err)
	c, err := engine.Config()
	s.Require().NoError(err)
	s.Equal("value", c.Raw.Section("bridge").Option("name"))
	s.Equal("origin", c.Raw.Section("branch").Subsection("feature/x").Option("remote"))
}

func (s *ConfigSuite) TestSetKeepsRemotes() {
	ctx := context.Background()
	r := s.initRepository(false)

	remote := must(s.T(), r.CreateRemote(ctx, "origin", "https://example.com/repo.git"))
	s.NoError(remote.Free())

	cfg := s.config(r)
	must(s.T(), cfg.SetStr(ctx, "core.editor", "vi"))

	s.Equal([]string{"origin"}, must(s.T(), r.RemoteNames(ctx)))
	s.Equal("https://example.com/repo.git", must(s.T(), cfg.GetStr(ctx, "remote.origin.url")))
}

func (s *ConfigSuite) TestRemove() {
	ctx := context.Background()
	r := s.initRepository(false)
	cfg := s.config(r)

	must(s.T(), cfg.SetStr(ctx, "bridge.sub.key", "v"))
	must(s.T(), cfg.Remove(ctx, "bridge.sub.key"))

	_, err := wait(cfg.GetStr(ctx, "bridge.sub.key"))
	s.ErrorIs(err, errors.ErrNotFound)

	_, err = wait(cfg.Remove(ctx, "bridge.sub.key"))
	s.ErrorIs(err, errors.ErrNotFound)
}

func (s *ConfigSuite) TestInvalidKey() {
	ctx := context.Background()
	r := s.initRepository(false)
	cfg := s.config(r)

	for _, key := range []string{"", "nodot", ".name", "section."} {
		_, err := wait(cfg.SetStr(ctx, key, "v"))
		s.ErrorIs(err, errors.ErrInvalidSpec, key)

		_, err = wait(cfg.GetStr(ctx, key))
		s.ErrorIs(err, errors.ErrInvalidSpec, key)
	}
}

func (s *ConfigSuite) TestGlobalFallback() {
	ctx := context.Background()
	home := s.T().TempDir()
	s.T().Setenv("HOME", home)
	s.T().Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	s.Require().NoError(os.WriteFile(filepath.Join(home, ".gitconfig"),
		[]byte("[bridge]\n\tscope = global\n"), 0o644))

	r := s.initRepository(false)
	cfg := s.config(r)

	s.Equal("global", must(s.T(), cfg.GetStr(ctx, "bridge.scope")))

	must(s.T(), cfg.SetStr(ctx, "bridge.scope", "local"))
	s.Equal("local", must(s.T(), cfg.GetStr(ctx, "bridge.scope")))

	// removing only touches the repository file
	must(s.T(), cfg.Remove(ctx, "bridge.scope"))
	s.Equal("global", must(s.T(), cfg.GetStr(ctx, "bridge.scope")))
}

func TestParseConfigBool(t *testing.T) {
	for in, want := range map[string]bool{
		"": true, "true": true, "Yes": true, "on": true, "1": true,
		"false": false, "NO": false, "off": false, "0": false,
	} {
		got, err := parseConfigBool(in)
		assert.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := parseConfigBool("maybe")
	assert.Error(t, err)
}

func TestParseConfigInt(t *testing.T) {
	for in, want := range map[string]int64{
		"0": 0, "-3": -3, "2k": 2 << 10, "3M": 3 << 20, "1g": 1 << 30,
	} {
		got, err := parseConfigInt(in)
		assert.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := parseConfigInt("12x")
	assert.Error(t, err)
}
