package config_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/raphi011/allureboard/internal/config"
	"github.com/raphi011/allureboard/internal/model"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	c := config.Default()

	require.NoError(t, c.Validate())
	assert.Equal(t, filepath.Join(".", "data", "test-results"), c.EffectiveResultsDir())
	assert.Equal(t, c.EffectiveResultsDir(), c.EffectiveIngestDir())
}

func TestLoad(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/etc/allureboard.yaml", []byte(`
port: 8080
reportsPath: /srv/reports
source:
  mode: database
database:
  path: /srv/results.db
watch:
  settleDelay: 2s
refresh:
  schedule: "0 */5 * * * *"
ingest:
  enabled: true
  resultsDir: /srv/incoming
hooks:
  slack:
    token: xoxb
    channel: C1
`), 0o644))

	c, err := config.Load(fs, "/etc/allureboard.yaml")
	require.NoError(t, err)
	require.NoError(t, c.Validate())

	assert.Equal(t, 8080, c.Port)
	assert.Equal(t, model.SourceModeDatabase, c.Source.Mode)
	assert.Equal(t, 2*time.Second, c.Watch.SettleDelay)
	assert.True(t, c.Watch.Enabled)
	assert.Equal(t, "/srv/reports/data/test-results", filepath.ToSlash(c.EffectiveResultsDir()))
	assert.Equal(t, "/srv/incoming", c.EffectiveIngestDir())
	assert.True(t, c.Hooks.Slack.Enabled())
	assert.False(t, c.Hooks.Elastic.Enabled())
}

func TestLoadWithoutPath(t *testing.T) {
	c, err := config.Load(afero.NewMemMapFs(), "")
	require.NoError(t, err)

	assert.Equal(t, config.Default(), c)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load(afero.NewMemMapFs(), "/missing.yaml")

	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	c := config.Default()
	c.Port = 70000
	c.Source.Mode = "ftp"
	c.Refresh.Schedule = "every now and then"
	c.Hooks.Slack.Token = "xoxb"
	c.Log.Format = "xml"

	err := c.Validate()
	require.Error(t, err)

	assert.ErrorContains(t, err, "port 70000")
	assert.ErrorContains(t, err, `unknown source mode "ftp"`)
	assert.ErrorContains(t, err, "refresh.schedule")
	assert.ErrorContains(t, err, "hooks.slack.channel")
	assert.ErrorContains(t, err, `unknown log format "xml"`)
}
