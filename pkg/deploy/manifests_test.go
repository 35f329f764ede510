package deploy

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeManifests(t *testing.T, names ...string) string {
	dir, err := ioutil.TempDir("", "manifests-test")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	for _, name := range names {
		require.NoError(t, ioutil.WriteFile(filepath.Join(dir, name), []byte("# "+name+"\n"), 0644))
	}
	return dir
}

func TestManifestSetEnvironmentFileShadowsShared(t *testing.T) {
	dir := writeManifests(t, "namespace.yaml", "deployment.yaml", "deployment-staging.yaml", "service.yaml")

	set := ManifestSet{Dir: dir, Environment: "staging"}
	path, ok := set.Resolve("deployment")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "deployment-staging.yaml"), path)

	// other environments fall back to the shared file
	set.Environment = "prod"
	path, ok = set.Resolve("deployment")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "deployment.yaml"), path)
}

func TestManifestSetLoadOrder(t *testing.T) {
	dir := writeManifests(t, "namespace.yaml", "deployment.yaml", "service.yaml")

	docs, err := ManifestSet{Dir: dir, Environment: "staging"}.Load()
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, "# namespace.yaml\n", string(docs[0]))
	assert.Equal(t, "# deployment.yaml\n", string(docs[1]))
	assert.Equal(t, "# service.yaml\n", string(docs[2]))
}

func TestManifestSetMissingDeploymentIsFatal(t *testing.T) {
	dir := writeManifests(t, "namespace.yaml", "service.yaml")

	_, err := ManifestSet{Dir: dir, Environment: "staging"}.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deployment")
}

func TestManifestSetOptionalResourcesTolerated(t *testing.T) {
	dir := writeManifests(t, "deployment.yaml")

	docs, err := ManifestSet{Dir: dir, Environment: "staging"}.Load()
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "# deployment.yaml\n", string(docs[0]))
}

func TestSplitDocuments(t *testing.T) {
	multidoc := []byte("kind: Namespace\n---\nkind: Deployment\n---\n\n---\nkind: Service\n")
	docs := splitDocuments(multidoc)
	require.Len(t, docs, 3)
	assert.Equal(t, "kind: Namespace", string(docs[0]))
	assert.Equal(t, "kind: Service\n", string(docs[2]))
}
