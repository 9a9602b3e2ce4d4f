package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koster-lab/kso-agent/internal/config"
)

func TestRun_UnknownCommand(t *testing.T) {
	var out bytes.Buffer
	err := run([]string{"bogus"}, &out)
	require.Error(t, err)
	assert.Contains(t, out.String(), "usage: kso")
}

func TestRun_Version(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run([]string{"version"}, &out))
	assert.Contains(t, out.String(), config.Version)
}

func TestParseIDs(t *testing.T) {
	ids, err := parseIDs("10, 11,,12")
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 11, 12}, ids)

	_, err = parseIDs("10,cod")
	var verr *config.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "species", verr.Field)
}

func TestOptionalInt(t *testing.T) {
	v, err := optionalInt("start", "")
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = optionalInt("start", "30")
	require.NoError(t, err)
	assert.Equal(t, 30, *v)

	_, err = optionalInt("end", "1m")
	assert.Error(t, err)
}

func TestApplyFlags(t *testing.T) {
	t.Setenv(config.EnvProject, "")
	base, err := config.New()
	require.NoError(t, err)

	cfg, err := applyFlags(base, commonFlags{
		db:      "postgres://kso@localhost/koster",
		movies:  "/srv/movies",
		project: "spyfish_aotearoa",
		workers: 3,
	})
	require.NoError(t, err)

	assert.Equal(t, config.ProjectSpyfish, cfg.Project())
	assert.Equal(t, "/srv/movies", cfg.MovieDir())
	assert.Equal(t, 3, cfg.Workers())
	assert.Equal(t, "postgres://kso@localhost/koster", databaseDSN(cfg))
	assert.Equal(t, base.OutputDir(), cfg.OutputDir())

	_, err = applyFlags(base, commonFlags{project: "nope"})
	assert.Error(t, err)
	_, err = applyFlags(base, commonFlags{workers: -1})
	assert.Error(t, err)
}
