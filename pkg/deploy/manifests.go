package deploy

import (
	"bytes"
	"context"
	"io/ioutil"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
)

// The logical resources a deployment is made of, in the order they
// must reach the cluster. Only the workload itself is mandatory.
var logicalResources = []struct {
	name     string
	required bool
}{
	{"namespace", false},
	{"deployment", true},
	{"service", false},
}

// ManifestSet resolves the manifest files for one environment. An
// environment-specific file `<logical>-<env>.yaml` shadows the shared
// `<logical>.yaml`; lookup is by these two names only, nothing is
// inferred from directory layout.
type ManifestSet struct {
	Dir         string
	Environment string
}

// Resolve returns the path serving the logical resource, preferring
// the environment-specific file.
func (m ManifestSet) Resolve(logical string) (string, bool) {
	for _, name := range []string{
		logical + "-" + m.Environment + ".yaml",
		logical + ".yaml",
	} {
		path := filepath.Join(m.Dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, true
		}
	}
	return "", false
}

// Load reads the manifest documents in apply order. A missing
// deployment manifest is an error; the other resources are optional.
func (m ManifestSet) Load() ([][]byte, error) {
	var docs [][]byte
	for _, res := range logicalResources {
		path, ok := m.Resolve(res.name)
		if !ok {
			if res.required {
				return nil, errors.Errorf("no %s manifest found under %s", res.name, m.Dir)
			}
			continue
		}
		doc, err := ioutil.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "reading %s", path)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// OverlayRenderer composes manifests with an external overlay tool
// instead of reading files directly. Mutually exclusive with
// ManifestSet; the caller picks one.
type OverlayRenderer struct {
	Tool   string // e.g., "kustomize"
	Logger log.Logger
}

// Render runs the overlay tool over dir and splits its output into
// individual documents.
func (r OverlayRenderer) Render(ctx context.Context, dir string) ([][]byte, error) {
	tool := r.Tool
	if tool == "" {
		tool = "kustomize"
	}
	cmd := exec.CommandContext(ctx, tool, "build", dir)
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	begin := time.Now()
	err := cmd.Run()
	if err != nil {
		err = errors.Wrap(errors.New(strings.TrimSpace(stderr.String())), "running "+tool)
	}
	r.Logger.Log("cmd", tool+" build "+dir, "took", time.Since(begin), "err", err)
	if err != nil {
		return nil, err
	}
	return splitDocuments(stdout.Bytes()), nil
}

func splitDocuments(multidoc []byte) [][]byte {
	var docs [][]byte
	for _, doc := range bytes.Split(multidoc, []byte("\n---\n")) {
		if len(bytes.TrimSpace(doc)) == 0 {
			continue
		}
		docs = append(docs, doc)
	}
	return docs
}
