package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/duynguyendang/kbfuse/pkg/common/errors"
	"github.com/duynguyendang/kbfuse/pkg/processor"
)

const fusionPlan = `
name: fusion
knowledge_bases:
  - name: kb1
  - name: kb2
    id: 6F9619FF-8B86-D011-B42D-00C04FC964FF
processors:
  - id: load1
    type: source
    knowledge_base: kb1
    params:
      path: one.nt
  - id: load2
    type: source
    knowledge_base: kb2
    params:
      path: two.ttl
  - id: match
    type: label-match
    depends_on: [load1, load2]
    params:
      category: Person
      threshold: 0.9
`

func TestParsePlan_Resolve(t *testing.T) {
	p, err := ParsePlan([]byte(fusionPlan))
	require.NoError(t, err)
	assert.Equal(t, "fusion", p.Name)
	require.Len(t, p.Processors, 3)

	defs, kbs, err := p.Resolve()
	require.NoError(t, err)
	assert.Equal(t, processor.KnowledgeBaseIDFromName("kb1"), kbs["kb1"])
	assert.Equal(t, processor.KnowledgeBaseID("6f9619ff-8b86-d011-b42d-00c04fc964ff"), kbs["kb2"])

	require.Len(t, defs, 3)
	assert.Equal(t, kbs["kb2"], defs[1].KnowledgeBase)
	assert.Equal(t, []processor.ID{"load1", "load2"}, defs[2].DependsOn)
	assert.Empty(t, defs[2].KnowledgeBase)
	assert.Equal(t, "Person", defs[2].Params["category"])
}

func TestParsePlan_Errors(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"empty", ""},
		{"unknown field", "name: x\nsteps: []\n"},
		{"malformed", "processors: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePlan([]byte(tt.text))
			assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
		})
	}
}

func TestPlan_ResolveErrors(t *testing.T) {
	tests := []struct {
		name string
		plan Plan
	}{
		{"unnamed knowledge base", Plan{KnowledgeBases: []KnowledgeBase{{}}}},
		{"duplicate name", Plan{KnowledgeBases: []KnowledgeBase{{Name: "a"}, {Name: "a"}}}},
		{"bad id", Plan{KnowledgeBases: []KnowledgeBase{{Name: "a", ID: "nope"}}}},
		{"shared id", Plan{KnowledgeBases: []KnowledgeBase{
			{Name: "a"},
			{Name: "b", ID: string(processor.KnowledgeBaseIDFromName("a"))},
		}}},
		{"undeclared reference", Plan{
			KnowledgeBases: []KnowledgeBase{{Name: "a"}},
			Processors:     []ProcessorSpec{{ID: "load", Type: "source", KnowledgeBase: "b"}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := tt.plan.Resolve()
			assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
		})
	}
}

func TestLoadPlan(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fusionPlan), 0o644))

	p, err := LoadPlan(path)
	require.NoError(t, err)
	assert.Len(t, p.KnowledgeBases, 2)

	_, err = LoadPlan(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestConfig_DefaultsAndValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.MaxRuns = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.LogLevel = "loud"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Persist = true
	cfg.DataDir = ""
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.MaxParallel = -1
	assert.Error(t, cfg.Validate())
}

func TestConfig_StoreConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()
	assert.Equal(t, "Safe-Serving", cfg.StoreConfig().Profile)

	cfg.LowMemory = true
	sc := cfg.StoreConfig()
	assert.Equal(t, "Low-Mem", sc.Profile)
	assert.NoError(t, sc.Validate())
}

func TestConfig_ApplyEnv(t *testing.T) {
	env := map[string]string{
		"KBFUSE_DATA_DIR":     "/var/kbfuse",
		"KBFUSE_MAX_PARALLEL": "4",
		"KBFUSE_PERSIST":      "true",
		"KBFUSE_LOG_LEVEL":    "debug",
		"PORT":                "9090",
	}
	cfg := DefaultConfig()
	require.NoError(t, cfg.ApplyEnv(func(k string) string { return env[k] }))

	assert.Equal(t, "/var/kbfuse", cfg.DataDir)
	assert.Equal(t, 4, cfg.MaxParallel)
	assert.True(t, cfg.Persist)
	assert.Equal(t, ":9090", cfg.Listen)
	require.NoError(t, cfg.Validate())

	env = map[string]string{"KBFUSE_MAX_RUNS": "many"}
	assert.Error(t, DefaultConfig().ApplyEnv(func(k string) string { return env[k] }))
}

func TestConfig_FileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "kbfuse.yaml")
	cfg := DefaultConfig()
	cfg.MaxParallel = 3
	cfg.LowMemory = true
	require.NoError(t, cfg.SaveToFile(path))

	back, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, back)

	require.NoError(t, os.WriteFile(path, []byte("max_runs: 5\n"), 0o644))
	partial, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 5, partial.MaxRuns)
	assert.Equal(t, ":8080", partial.Listen, "unset fields keep their defaults")
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte("KBFUSE_TEST_DOTENV=loaded\n"), 0o644))
	t.Setenv("KBFUSE_TEST_DOTENV", "")
	require.NoError(t, os.Unsetenv("KBFUSE_TEST_DOTENV"))

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "loaded", os.Getenv("KBFUSE_TEST_DOTENV"))
	assert.NoError(t, LoadDotEnv(filepath.Join(dir, "absent.env")))
}
