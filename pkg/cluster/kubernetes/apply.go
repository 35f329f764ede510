package kubernetes

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
	rest "k8s.io/client-go/rest"

	"github.com/shipway/shipway/pkg/cluster"
)

type apiObject struct {
	Kind     string `yaml:"kind"`
	Metadata struct {
		Name      string `yaml:"name"`
		Namespace string `yaml:"namespace"`
	} `yaml:"metadata"`
	bytes []byte
}

func (o *apiObject) ResourceID() string {
	ns := o.Metadata.Namespace
	if ns == "" {
		ns = "default"
	}
	return fmt.Sprintf("%s:%s/%s", ns, strings.ToLower(o.Kind), o.Metadata.Name)
}

func parseObj(def []byte) (*apiObject, error) {
	obj := apiObject{bytes: def}
	if err := yaml.Unmarshal(def, &obj); err != nil {
		return nil, err
	}
	if obj.Kind == "" || obj.Metadata.Name == "" {
		return nil, errors.New("manifest is missing kind or metadata.name")
	}
	return &obj, nil
}

// Applier is something that will apply ordered manifests to the cluster.
type Applier interface {
	Apply(ctx context.Context, logger log.Logger, objs []*apiObject) error
}

// rankOfKind returns an int denoting the position of the given kind
// in the partial ordering of Kubernetes resources, according to which
// kinds depend on which (derived by hand). Namespaces come before
// everything; Services select over workloads, so they come after.
func rankOfKind(kind string) int {
	switch kind {
	// Namespaces answer to NOONE
	case "Namespace":
		return 0
	// These don't go in namespaces; or do, but don't depend on anything else
	case "CustomResourceDefinition", "ServiceAccount", "ClusterRole", "Role", "PersistentVolume":
		return 1
	// These depend on something above, but not each other
	case "ResourceQuota", "LimitRange", "Secret", "ConfigMap", "RoleBinding", "ClusterRoleBinding", "PersistentVolumeClaim":
		return 2
	// Workloads
	case "DaemonSet", "Deployment", "ReplicationController", "ReplicaSet", "Job", "CronJob", "StatefulSet":
		return 3
	// These refer to workloads by selector
	case "Service", "Ingress":
		return 4
	// Assumption: anything not mentioned isn't depended _upon_, so
	// can come last.
	default:
		return 5
	}
}

type applyOrder []*apiObject

func (objs applyOrder) Len() int {
	return len(objs)
}

func (objs applyOrder) Swap(i, j int) {
	objs[i], objs[j] = objs[j], objs[i]
}

func (objs applyOrder) Less(i, j int) bool {
	ranki, rankj := rankOfKind(objs[i].Kind), rankOfKind(objs[j].Kind)
	if ranki == rankj {
		return objs[i].Metadata.Name < objs[j].Metadata.Name
	}
	return ranki < rankj
}

// Kubectl applies manifests by driving the kubectl binary, connected
// with the same rest.Config the typed client uses.
type Kubectl struct {
	exe    string
	config *rest.Config
}

func NewKubectl(exe string, config *rest.Config) *Kubectl {
	return &Kubectl{
		exe:    exe,
		config: config,
	}
}

func (c *Kubectl) connectArgs() []string {
	var args []string
	if c.config.Host != "" {
		args = append(args, fmt.Sprintf("--server=%s", c.config.Host))
	}
	if c.config.Username != "" {
		args = append(args, fmt.Sprintf("--username=%s", c.config.Username))
	}
	if c.config.Password != "" {
		args = append(args, fmt.Sprintf("--password=%s", c.config.Password))
	}
	if c.config.TLSClientConfig.CertFile != "" {
		args = append(args, fmt.Sprintf("--client-certificate=%s", c.config.TLSClientConfig.CertFile))
	}
	if c.config.TLSClientConfig.CAFile != "" {
		args = append(args, fmt.Sprintf("--certificate-authority=%s", c.config.TLSClientConfig.CAFile))
	}
	if c.config.TLSClientConfig.KeyFile != "" {
		args = append(args, fmt.Sprintf("--client-key=%s", c.config.TLSClientConfig.KeyFile))
	}
	if c.config.BearerToken != "" {
		args = append(args, fmt.Sprintf("--token=%s", c.config.BearerToken))
	}
	return args
}

// Apply tries the whole set in one multidoc apply; if that fails,
// each object is applied separately so the failures can be attributed.
func (c *Kubectl) Apply(ctx context.Context, logger log.Logger, objs []*apiObject) error {
	if len(objs) == 0 {
		return nil
	}
	if err := c.doCommand(ctx, logger, makeMultidoc(objs), "apply"); err == nil {
		return nil
	}
	var errs cluster.ApplyError
	for _, obj := range objs {
		r := bytes.NewReader(obj.bytes)
		if err := c.doCommand(ctx, logger, r, "apply"); err != nil {
			errs = append(errs, cluster.ResourceError{ID: obj.ResourceID(), Err: err})
		}
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

func (c *Kubectl) doCommand(ctx context.Context, logger log.Logger, r io.Reader, args ...string) error {
	args = append(args, "-f", "-")
	cmd := c.kubectlCommand(ctx, args...)
	cmd.Stdin = r
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	stdout := &bytes.Buffer{}
	cmd.Stdout = stdout

	begin := time.Now()
	err := cmd.Run()
	if err != nil {
		err = errors.Wrap(errors.New(strings.TrimSpace(stderr.String())), "running kubectl")
	}

	logger.Log("cmd", "kubectl "+strings.Join(args, " "), "took", time.Since(begin), "err", err, "output", strings.TrimSpace(stdout.String()))
	return err
}

func makeMultidoc(objs []*apiObject) *bytes.Buffer {
	buf := &bytes.Buffer{}
	for _, obj := range objs {
		buf.WriteString("\n---\n")
		buf.Write(obj.bytes)
	}
	return buf
}

func (c *Kubectl) kubectlCommand(ctx context.Context, args ...string) *exec.Cmd {
	return exec.CommandContext(ctx, c.exe, append(c.connectArgs(), args...)...)
}
