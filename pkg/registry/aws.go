package registry

// References:
//  - https://github.com/kubernetes/kubernetes/blob/master/pkg/credentialprovider/aws/aws_credentials.go

import (
	"encoding/base64"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ecr"
	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/pkg/errors"
)

const (
	// For recognising ECR hosts
	ecrHostSuffix = ".amazonaws.com"
	// How long AWS tokens remain valid
	tokenValid = 12 * time.Hour
)

// AWSRegistryConfig selects which ECR registries to mint tokens for.
type AWSRegistryConfig struct {
	Region      string
	RegistryIDs []string
}

// ECRKeychain yields credentials for ECR hosts by exchanging the
// ambient AWS identity for a registry token, refreshing it before the
// 12h validity lapses. Non-ECR hosts fall through to the given
// keychain.
func ECRKeychain(fallback authn.Keychain, config AWSRegistryConfig) authn.Keychain {
	return &ecrKeychain{
		fallback: fallback,
		config:   config,
	}
}

type ecrKeychain struct {
	fallback authn.Keychain
	config   AWSRegistryConfig

	mu          sync.Mutex
	auths       map[string]*authn.Basic
	credsExpire time.Time
}

func (k *ecrKeychain) Resolve(target authn.Resource) (authn.Authenticator, error) {
	if !strings.HasSuffix(target.RegistryStr(), ecrHostSuffix) {
		return k.fallback.Resolve(target)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	now := time.Now()
	if now.After(k.credsExpire) {
		auths, err := fetchECRAuths(k.config)
		if err != nil {
			return nil, errors.Wrap(err, "fetching ECR authorization token")
		}
		k.auths = auths
		k.credsExpire = now.Add(tokenValid)
	}
	if auth, ok := k.auths[target.RegistryStr()]; ok {
		return auth, nil
	}
	return k.fallback.Resolve(target)
}

func fetchECRAuths(config AWSRegistryConfig) (map[string]*authn.Basic, error) {
	sess := session.Must(session.NewSession(&aws.Config{Region: &config.Region}))
	svc := ecr.New(sess)
	ecrToken, err := svc.GetAuthorizationToken(&ecr.GetAuthorizationTokenInput{
		RegistryIds: aws.StringSlice(config.RegistryIDs),
	})
	if err != nil {
		return nil, err
	}
	auths := make(map[string]*authn.Basic)
	for _, v := range ecrToken.AuthorizationData {
		// Remove the https prefix
		host := strings.TrimPrefix(*v.ProxyEndpoint, "https://")
		auth, err := parseAuth(*v.AuthorizationToken)
		if err != nil {
			return nil, err
		}
		auths[host] = auth
	}
	return auths, nil
}

func parseAuth(token string) (*authn.Basic, error) {
	decoded, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, err
	}
	parts := strings.SplitN(string(decoded), ":", 2)
	if len(parts) != 2 {
		return nil, errors.New("invalid authorization token: expected <user>:<password>")
	}
	return &authn.Basic{
		Username: parts[0],
		Password: parts[1],
	}, nil
}
