package jsonconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypedAccessorsAndValidate(t *testing.T) {
	obj := Obj{
		"aet":     "ORTHANC",
		"port":    4242.0,
		"strict":  true,
		"peers":   []interface{}{"a", "b"},
		"nested":  map[string]interface{}{"x": "y"},
		"_ignore": "comment-like key",
	}
	assert.Equal(t, "ORTHANC", obj.RequiredString("aet"))
	assert.Equal(t, 4242, obj.RequiredInt("port"))
	assert.True(t, obj.RequiredBool("strict"))
	assert.Equal(t, []string{"a", "b"}, obj.RequiredList("peers"))
	assert.Equal(t, "y", obj.RequiredObject("nested").RequiredString("x"))
	assert.NoError(t, obj.Validate())
}

func TestValidateReportsUnknownKey(t *testing.T) {
	obj := Obj{"known": "x", "typo": "y"}
	obj.RequiredString("known")
	assert.Error(t, obj.Validate())
}

func TestReadFileExpandsEnvAndInclude(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "aet.json")
	require.NoError(t, os.WriteFile(sub, []byte(`{"title": "ORTHANC"}`), 0o644))

	root := filepath.Join(dir, "root.json")
	require.NoError(t, os.Setenv("PACSD_TEST_PORT", "4243"))
	t.Cleanup(func() { os.Unsetenv("PACSD_TEST_PORT") })
	content := `{
		"port": ["_env", "PACSD_TEST_PORT", "4242"],
		"aet": ["_include", "aet.json"]
	}`
	require.NoError(t, os.WriteFile(root, []byte(content), 0o644))

	cfg, err := ReadFile(root)
	require.NoError(t, err)
	assert.Equal(t, "4243", cfg.RequiredString("port"))
	assert.Equal(t, "ORTHANC", cfg.RequiredObject("aet").RequiredString("title"))
}

func TestMergeOverridesScalarsAndMergesObjects(t *testing.T) {
	base := Obj{"a": "1", "nested": map[string]interface{}{"x": "1", "y": "1"}}
	patch := Obj{"a": "2", "nested": map[string]interface{}{"y": "2"}}
	merged := Merge(base, patch)
	assert.Equal(t, "2", merged.RequiredString("a"))
	nested := merged.RequiredObject("nested")
	assert.Equal(t, "1", nested.RequiredString("x"))
	assert.Equal(t, "2", nested.RequiredString("y"))
}
