// Copyright Contributors to the launch project

package main

import (
	"fmt"
	"os"

	"github.com/go-logr/logr"

	"github.com/Astera-org/launch/internal/cluster"
	"github.com/Astera-org/launch/internal/clustercontext"
)

const tokenEnvVar = "LAUNCH_TOKEN"

var (
	contextFlag   string
	tokenFlag     string
	namespaceFlag string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&contextFlag, "context", string(clustercontext.Default), "cluster to target")
	rootCmd.PersistentFlags().StringVar(&tokenFlag, "token", "", "bearer token for the cluster API server (defaults to $"+tokenEnvVar+")")
	rootCmd.PersistentFlags().StringVar(&namespaceFlag, "namespace", "default", "namespace to operate in")
}

// resolveContext validates --context against the fixed registry.
func resolveContext() (clustercontext.Context, error) {
	return clustercontext.Parse(contextFlag)
}

// resolveToken reads the bearer token from --token, falling back to the
// environment variable. Ambient kubeconfig or in-cluster config is never
// consulted.
func resolveToken() (string, error) {
	if tokenFlag != "" {
		return tokenFlag, nil
	}
	if token := os.Getenv(tokenEnvVar); token != "" {
		return token, nil
	}
	return "", fmt.Errorf("no cluster token: pass --token or set $%s", tokenEnvVar)
}

func newClusterClient(log logr.Logger) (*cluster.Client, clustercontext.Context, error) {
	clusterCtx, err := resolveContext()
	if err != nil {
		return nil, "", err
	}
	token, err := resolveToken()
	if err != nil {
		return nil, "", err
	}

	cl, err := cluster.New(cluster.Config{ServerURL: clusterCtx.ClusterURL(), Token: token}, log)
	if err != nil {
		return nil, "", fmt.Errorf("connecting to cluster %s: %w", clusterCtx, err)
	}
	return cl, clusterCtx, nil
}
