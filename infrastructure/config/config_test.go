package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/monorist/monorise/domain/entity"
	"github.com/monorist/monorise/domain/registry"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("ENVIRONMENT", "")
	t.Setenv("REPLICATION_SINK", "")

	cfg, err := LoadConfig()

	require.NoError(t, err)
	assert.Equal(t, "entity-replication", cfg.EntityReplicationIndex)
	assert.Equal(t, "mutual-replication", cfg.MutualReplicationIndex)
	assert.Equal(t, "monorise.core", cfg.EventSource)
	assert.Equal(t, 5*time.Minute, cfg.PrejoinCacheTTL)
	assert.Equal(t, SinkNone, cfg.ReplicationSink)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoadConfig_FromEnvironment(t *testing.T) {
	t.Setenv("TABLE_NAME", "core-table")
	t.Setenv("PREJOIN_CACHE_TTL", "90")
	t.Setenv("REPLICATION_SINK", "s3")
	t.Setenv("REPLICATION_BUCKET", "archive")
	t.Setenv("ENABLE_TRACING", "true")

	cfg, err := LoadConfig()

	require.NoError(t, err)
	assert.Equal(t, "core-table", cfg.TableName)
	assert.Equal(t, 90*time.Second, cfg.PrejoinCacheTTL)
	assert.Equal(t, "archive", cfg.ReplicationBucket)
	assert.True(t, cfg.EnableTracing)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		return Config{
			Environment:            "production",
			TableName:              "core",
			EntityReplicationIndex: "entity-replication",
			MutualReplicationIndex: "mutual-replication",
			EventBusName:           "bus",
			ReplicationSink:        SinkNone,
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "missing table", mutate: func(c *Config) { c.TableName = "" }, wantErr: "TABLE_NAME"},
		{name: "unknown sink", mutate: func(c *Config) { c.ReplicationSink = "kafka" }, wantErr: "REPLICATION_SINK"},
		{name: "s3 without bucket", mutate: func(c *Config) { c.ReplicationSink = SinkS3 }, wantErr: "REPLICATION_BUCKET"},
		{name: "postgres without secret", mutate: func(c *Config) { c.ReplicationSink = SinkPostgres }, wantErr: "REPLICATION_DSN_SECRET"},
		{name: "local endpoint in production", mutate: func(c *Config) { c.DynamoDBEndpoint = "http://localhost:8000" }, wantErr: "DYNAMODB_ENDPOINT"},
		{name: "negative ttl", mutate: func(c *Config) { c.PrejoinCacheTTL = -time.Second }, wantErr: "PREJOIN_CACHE_TTL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)

			err := cfg.Validate()

			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

const definitions = `
entities:
  - name: playlist
    mutualFields:
      videos:
        entityType: video
        processor: rank
  - name: video
    searchableFields: [title]
    mutualFields:
      playlists:
        entityType: playlist
    tags:
      - name: featured
        processor: featured
      - name: long
        when: has(data.minutes) && data.minutes > 30
        sortValue: data.title
`

func TestParseEntityConfigs(t *testing.T) {
	procs := Processors{
		Mutual: map[string]registry.MutualDataProcessor{
			"rank": func(ids []string, id string, _ *entity.Mutual, _ map[string]interface{}) map[string]interface{} {
				return map[string]interface{}{"rank": len(ids)}
			},
		},
		Tag: map[string]registry.TagProcessor{
			"featured": func(e *entity.Entity) ([]entity.Tag, error) { return []entity.Tag{{}}, nil },
		},
	}

	configs, err := ParseEntityConfigs([]byte(definitions), procs)
	require.NoError(t, err)
	reg, err := registry.New(configs...)
	require.NoError(t, err)

	playlist, ok := reg.Get("playlist")
	require.True(t, ok)
	assert.Equal(t, map[string]interface{}{"rank": 2},
		playlist.MutualFields["videos"].DataProcessor([]string{"a", "b"}, "a", nil, nil))

	video, ok := reg.Get("video")
	require.True(t, ok)
	require.Len(t, video.Tags, 2)
	assert.Equal(t, "featured", video.Tags[0].Name)

	tags, err := video.Tags[1].Processor(&entity.Entity{Data: map[string]interface{}{"minutes": 45, "title": "Deep dive"}})
	require.NoError(t, err)
	assert.Equal(t, []entity.Tag{{SortValue: "Deep dive"}}, tags)
}

func TestParseEntityConfigs_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "unknown mutual processor", yaml: "entities:\n  - name: a\n    mutualFields:\n      b: {entityType: a, processor: nope}\n"},
		{name: "unknown tag processor", yaml: "entities:\n  - name: a\n    tags:\n      - {name: t, processor: nope}\n"},
		{name: "invalid cel", yaml: "entities:\n  - name: a\n    tags:\n      - {name: t, when: 'data.x =='}\n"},
		{name: "processor and rule", yaml: "entities:\n  - name: a\n    tags:\n      - {name: t, processor: x, when: 'true'}\n"},
		{name: "malformed yaml", yaml: "entities: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseEntityConfigs([]byte(tt.yaml), Processors{})
			assert.Error(t, err)
		})
	}
}

func TestLoadRegistry_CheckedInDefinitions(t *testing.T) {
	reg, err := LoadRegistry("../../config/entities.yaml", Processors{})

	require.NoError(t, err)
	assert.Equal(t, []string{"chapter", "course", "learner", "module", "organization", "video"}, reg.Names())
	assert.NotEmpty(t, reg.PrejoinsAffectedBy("module", "chapter"))

	learner, _ := reg.Get("learner")
	require.NotNil(t, learner.Validate)
	assert.Error(t, learner.Validate(map[string]interface{}{"name": "Ada"}, false))
	assert.NoError(t, learner.Validate(map[string]interface{}{"name": "Ada"}, true))
}
