// Copyright Contributors to the launch project

// Package clustercontext holds the fixed registry of clusters launch can
// target, along with the URLs and hostnames each one exposes.
package clustercontext

import "fmt"

// Context names one of the fixed clusters launch knows how to talk to.
type Context string

const (
	Berkeley    Context = "berkeley"
	Staging     Context = "staging"
	VoltagePark Context = "voltage-park"
)

// Default is used when the user passes no --context flag.
const Default = Berkeley

// All lists every valid Context, in the order they should appear in --help.
var All = []Context{Berkeley, Staging, VoltagePark}

type coordinates struct {
	clusterURL            string
	headlampURL           string
	katibURL              string
	containerRegistryHost string
	// inClusterRegistryHost is the registry host reachable only from inside
	// the cluster (used by RemoteBuilder, which runs its build pod there),
	// as opposed to containerRegistryHost which goes through the Tailscale
	// proxy and is reachable from a developer's machine.
	inClusterRegistryHost string
	pushRemoteURL         string
}

var registry = map[Context]coordinates{
	Berkeley: {
		clusterURL:            "https://berkeley-tailscale-operator.taila1eba.ts.net",
		headlampURL:           "https://berkeley-headlamp.taila1eba.ts.net",
		katibURL:              "http://berkeley-katib.taila1eba.ts.net",
		containerRegistryHost: "berkeley-docker.taila1eba.ts.net",
		inClusterRegistryHost: "docker-registry.docker-registry.svc.cluster.local",
		pushRemoteURL:         "github.com/Astera-org/launch",
	},
	Staging: {
		clusterURL:            "https://staging-tailscale-operator.taila1eba.ts.net",
		headlampURL:           "https://staging-headlamp.taila1eba.ts.net",
		katibURL:              "http://staging-katib.taila1eba.ts.net",
		containerRegistryHost: "staging-docker.taila1eba.ts.net",
		inClusterRegistryHost: "docker-registry.docker-registry.svc.cluster.local",
		pushRemoteURL:         "github.com/Astera-org/launch",
	},
	VoltagePark: {
		clusterURL:            "https://voltage-park-tailscale-operator.taila1eba.ts.net",
		headlampURL:           "https://voltage-park-headlamp.taila1eba.ts.net",
		katibURL:              "http://voltage-park-katib.taila1eba.ts.net",
		containerRegistryHost: "voltage-park-docker.taila1eba.ts.net",
		inClusterRegistryHost: "docker-registry.docker-registry.svc.cluster.local",
		pushRemoteURL:         "github.com/Astera-org/launch",
	},
}

// Parse validates value against the fixed registry.
func Parse(value string) (Context, error) {
	ctx := Context(value)
	if _, ok := registry[ctx]; !ok {
		return "", fmt.Errorf("unknown cluster context %q, must be one of %v", value, All)
	}
	return ctx, nil
}

func (c Context) lookup() coordinates {
	coords, ok := registry[c]
	if !ok {
		panic(fmt.Sprintf("clustercontext: unregistered context %q", c))
	}
	return coords
}

// ClusterURL is the Kubernetes API server's URL.
func (c Context) ClusterURL() string { return c.lookup().clusterURL }

// HeadlampURL is the Headlamp dashboard's base URL, used to build
// human-clickable links to submitted resources.
func (c Context) HeadlampURL() string { return c.lookup().headlampURL }

// KatibURL is the Katib UI's base URL.
func (c Context) KatibURL() string { return c.lookup().katibURL }

// ContainerRegistryHost is the hostname images are pushed to before
// submission.
func (c Context) ContainerRegistryHost() string { return c.lookup().containerRegistryHost }

// InClusterRegistryHost is the registry hostname reachable only from inside
// the cluster, used by RemoteBuilder's build pod to avoid the Tailscale
// proxy.
func (c Context) InClusterRegistryHost() string { return c.lookup().inClusterRegistryHost }

// PushRemoteURL is the git remote RemoteBuilder tells kaniko to clone from.
func (c Context) PushRemoteURL() string { return c.lookup().pushRemoteURL }

func (c Context) String() string { return string(c) }
