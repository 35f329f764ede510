package deploy

import (
	"context"
	"encoding/base64"
	"io/ioutil"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials/stscreds"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/eks"
	"github.com/aws/aws-sdk-go/service/sts"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

const (
	// tokenPrefix and the presign lifetime follow the EKS token scheme;
	// the API server verifies the presigned STS request embedded in it.
	tokenPrefix   = "k8s-aws-v1."
	tokenLifetime = 15 * time.Minute
	clusterHeader = "x-k8s-aws-id"
)

// CredentialMethod yields a kubeconfig the deploy stage can use to
// reach a cluster. Exactly one method is configured per deployment;
// having none is a failure before anything touches the cluster.
type CredentialMethod interface {
	// Resolve produces the path of a kubeconfig file and a cleanup
	// function removing any transient state it created.
	Resolve(ctx context.Context) (kubeconfig string, cleanup func(), err error)
}

// StaticCredential is a pre-existing kubeconfig supplied by the
// operator or the surrounding CI environment.
type StaticCredential struct {
	KubeconfigPath string
}

func (c StaticCredential) Resolve(context.Context) (string, func(), error) {
	if _, err := os.Stat(c.KubeconfigPath); err != nil {
		return "", nil, errors.Wrap(err, "reading kubeconfig")
	}
	return c.KubeconfigPath, func() {}, nil
}

// FederatedCredential mints short-lived cluster access from the
// ambient cloud identity: describe the cluster for its endpoint and
// CA, presign an STS identity request as the bearer token, and write
// the two into a transient kubeconfig. Nothing durable is created.
type FederatedCredential struct {
	Region      string
	ClusterName string
	// RoleARN, when set, is assumed before talking to the cluster APIs.
	RoleARN string
}

func (c FederatedCredential) Resolve(ctx context.Context) (string, func(), error) {
	sess, err := session.NewSession(&aws.Config{Region: aws.String(c.Region)})
	if err != nil {
		return "", nil, errors.Wrap(err, "creating AWS session")
	}
	var cfgs []*aws.Config
	if c.RoleARN != "" {
		cfgs = append(cfgs, &aws.Config{Credentials: stscreds.NewCredentials(sess, c.RoleARN)})
	}

	describe, err := eks.New(sess, cfgs...).DescribeClusterWithContext(ctx, &eks.DescribeClusterInput{
		Name: aws.String(c.ClusterName),
	})
	if err != nil {
		return "", nil, errors.Wrapf(err, "describing cluster %s", c.ClusterName)
	}
	endpoint := aws.StringValue(describe.Cluster.Endpoint)
	caData, err := base64.StdEncoding.DecodeString(aws.StringValue(describe.Cluster.CertificateAuthority.Data))
	if err != nil {
		return "", nil, errors.Wrap(err, "decoding cluster CA")
	}

	token, err := c.bearerToken(sess, cfgs...)
	if err != nil {
		return "", nil, err
	}

	dir, err := ioutil.TempDir("", "shipway-kubeconfig")
	if err != nil {
		return "", nil, errors.Wrap(err, "creating kubeconfig dir")
	}
	path := filepath.Join(dir, "config")
	if err := writeKubeconfig(path, c.ClusterName, endpoint, caData, token); err != nil {
		os.RemoveAll(dir)
		return "", nil, err
	}
	return path, func() { os.RemoveAll(dir) }, nil
}

func (c FederatedCredential) bearerToken(sess *session.Session, cfgs ...*aws.Config) (string, error) {
	req, _ := sts.New(sess, cfgs...).GetCallerIdentityRequest(&sts.GetCallerIdentityInput{})
	req.HTTPRequest.Header.Set(clusterHeader, c.ClusterName)
	presigned, err := req.Presign(tokenLifetime)
	if err != nil {
		return "", errors.Wrap(err, "presigning identity request")
	}
	return formatBearerToken(presigned), nil
}

func formatBearerToken(presignedURL string) string {
	return tokenPrefix + base64.RawURLEncoding.EncodeToString([]byte(presignedURL))
}

type kubeconfigCluster struct {
	Server                   string `yaml:"server"`
	CertificateAuthorityData string `yaml:"certificate-authority-data"`
}

type kubeconfigUser struct {
	Token string `yaml:"token"`
}

type kubeconfigContext struct {
	Cluster string `yaml:"cluster"`
	User    string `yaml:"user"`
}

type kubeconfig struct {
	APIVersion     string `yaml:"apiVersion"`
	Kind           string `yaml:"kind"`
	CurrentContext string `yaml:"current-context"`
	Clusters       []struct {
		Name    string            `yaml:"name"`
		Cluster kubeconfigCluster `yaml:"cluster"`
	} `yaml:"clusters"`
	Users []struct {
		Name string         `yaml:"name"`
		User kubeconfigUser `yaml:"user"`
	} `yaml:"users"`
	Contexts []struct {
		Name    string            `yaml:"name"`
		Context kubeconfigContext `yaml:"context"`
	} `yaml:"contexts"`
}

func writeKubeconfig(path, clusterName, endpoint string, caData []byte, token string) error {
	cfg := kubeconfig{
		APIVersion:     "v1",
		Kind:           "Config",
		CurrentContext: clusterName,
	}
	cfg.Clusters = append(cfg.Clusters, struct {
		Name    string            `yaml:"name"`
		Cluster kubeconfigCluster `yaml:"cluster"`
	}{
		Name: clusterName,
		Cluster: kubeconfigCluster{
			Server:                   endpoint,
			CertificateAuthorityData: base64.StdEncoding.EncodeToString(caData),
		},
	})
	cfg.Users = append(cfg.Users, struct {
		Name string         `yaml:"name"`
		User kubeconfigUser `yaml:"user"`
	}{
		Name: clusterName,
		User: kubeconfigUser{Token: token},
	})
	cfg.Contexts = append(cfg.Contexts, struct {
		Name    string            `yaml:"name"`
		Context kubeconfigContext `yaml:"context"`
	}{
		Name:    clusterName,
		Context: kubeconfigContext{Cluster: clusterName, User: clusterName},
	})

	bytes, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "marshalling kubeconfig")
	}
	// contains a bearer token; keep it out of other users' reach
	return ioutil.WriteFile(path, bytes, 0600)
}
