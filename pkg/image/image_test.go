package image

import (
	"encoding/json"
	"fmt"
	"testing"
)

const testDigest = "sha256:05f95c4d4882cbcae59d18ffcaa4fe824f3d5f2a2c4b33e255f8b9f61f1b54f4"

func TestDomainRegexp(t *testing.T) {
	for _, d := range []string{
		"localhost", "localhost:5000",
		"example.com", "example.com:80",
		"gcr.io",
		"index.docker.com",
	} {
		if !domainRegexp.MatchString(d) {
			t.Errorf("domain regexp did not match %q", d)
		}
	}
}

func TestParseRef(t *testing.T) {
	for _, x := range []struct {
		test     string
		registry string
		repo     string
	}{
		// Library images can have the domain omitted; a
		// single-element path is understood to be prefixed with "library".
		{"alpine", dockerHubHost, "library/alpine"},
		{"library/alpine", dockerHubHost, "library/alpine"},
		{"alpine:mytag", dockerHubHost, "library/alpine"},
		// The old registry path should be replaced with the new one
		{"docker.io/library/alpine", dockerHubHost, "library/alpine"},
		// It's possible to have a domain with a single-element path
		{"localhost/hello:v1.1", "localhost", "hello"},
		{"localhost:5000/hello:v1.1", "localhost:5000", "hello"},
		{"example.com/hello:v1.1", "example.com", "hello"},
		// The path can have an arbitrary number of elements
		{"quay.io/library/alpine", "quay.io", "library/alpine"},
		{"quay.io/library/alpine:latest", "quay.io", "library/alpine"},
		{"localhost:5000/path/to/repo/alpine:mytag", "localhost:5000", "path/to/repo/alpine"},
	} {
		i, err := ParseRef(x.test)
		if err != nil {
			t.Errorf("Failed parsing %q: %s", x.test, err)
		}
		if i.String() != x.test {
			t.Errorf("%q does not stringify as itself; got %q", x.test, i.String())
		}
		if i.Registry() != x.registry {
			t.Errorf("%q registry: expected %q, got %q", x.test, x.registry, i.Registry())
		}
		if i.Repository() != x.repo {
			t.Errorf("%q repo: expected %q, got %q", x.test, x.repo, i.Repository())
		}
	}
}

func TestParseRefErrorCases(t *testing.T) {
	for _, x := range []struct {
		test string
	}{
		{""},
		{":tag"},
		{"/leading/slash"},
		{"trailing/slash/"},
	} {
		_, err := ParseRef(x.test)
		if err == nil {
			t.Fatalf("Expected parse failure for %q", x.test)
		}
	}
}

func TestParseCanonicalRef(t *testing.T) {
	for _, x := range []struct {
		test  string
		canon string
	}{
		// A bare digest ref pins as-is, with name canonicalised
		{"alpine@" + testDigest, "index.docker.io/library/alpine@" + testDigest},
		{"ghcr.io/shipway/helloworld@" + testDigest, "ghcr.io/shipway/helloworld@" + testDigest},
		{"localhost:5000/hello@" + testDigest, "localhost:5000/hello@" + testDigest},
		// A cosmetic tag before the digest is discarded; the digest is the identity
		{"ghcr.io/shipway/helloworld:sha-59f0001@" + testDigest, "ghcr.io/shipway/helloworld@" + testDigest},
		{"alpine:latest@" + testDigest, "index.docker.io/library/alpine@" + testDigest},
	} {
		ref, err := ParseCanonicalRef(x.test)
		if err != nil {
			t.Errorf("Failed parsing %q: %s", x.test, err)
			continue
		}
		if ref.String() != x.canon {
			t.Errorf("%q: expected %q, got %q", x.test, x.canon, ref.String())
		}
		if ref.Digest.String() != testDigest {
			t.Errorf("%q: digest not preserved; got %q", x.test, ref.Digest)
		}
	}
}

func TestParseCanonicalRefErrorCases(t *testing.T) {
	for _, x := range []struct {
		test string
	}{
		{""},
		// Floating tags are never a canonical identity
		{"ghcr.io/shipway/helloworld:latest"},
		{"alpine"},
		// Digest must be syntactically valid
		{"alpine@sha256:notahexdigest"},
		{"alpine@59f0001"},
		{"@" + testDigest},
	} {
		_, err := ParseCanonicalRef(x.test)
		if err == nil {
			t.Fatalf("Expected parse failure for %q", x.test)
		}
	}
}

func TestRefSerialization(t *testing.T) {
	for _, x := range []struct {
		test     Ref
		expected string
	}{
		{Ref{Name: Name{Image: "alpine"}, Tag: "a123"}, `"alpine:a123"`},
		{Ref{Name: Name{Domain: "ghcr.io", Image: "shipway/foobar"}, Tag: "baz"}, `"ghcr.io/shipway/foobar:baz"`},
	} {
		serialized, err := json.Marshal(x.test)
		if err != nil {
			t.Errorf("Error encoding %v: %v", x.test, err)
		}
		if string(serialized) != x.expected {
			t.Errorf("Encoded %v as %s, but expected %s", x.test, string(serialized), x.expected)
		}

		var decoded Ref
		if err := json.Unmarshal([]byte(x.expected), &decoded); err != nil {
			t.Errorf("Error decoding %v: %v", x.expected, err)
		}
		if decoded != x.test {
			t.Errorf("Decoded %s as %v, but expected %v", x.expected, decoded, x.test)
		}
	}
}

func TestCanonicalRefSerialization(t *testing.T) {
	in := fmt.Sprintf(`"ghcr.io/shipway/foobar@%s"`, testDigest)
	var decoded CanonicalRef
	if err := json.Unmarshal([]byte(in), &decoded); err != nil {
		t.Fatal(err)
	}
	out, err := json.Marshal(decoded)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != in {
		t.Errorf("round trip: expected %s, got %s", in, string(out))
	}
}

func TestSortTags(t *testing.T) {
	tags := []string{"sha-59f0001", "1.2.3", "2.0.0", "1.10.0", "latest"}
	SortTags(tags)
	expected := []string{"2.0.0", "1.10.0", "1.2.3", "latest", "sha-59f0001"}
	for i := range expected {
		if tags[i] != expected[i] {
			t.Fatalf("expected order %v, got %v", expected, tags)
		}
	}
}
