// Copyright Contributors to the launch project

package main

import (
	"fmt"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"k8s.io/klog/v2"
)

var verbose bool

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug-level logging")
}

// newLogger builds the process-wide logger: a production zap configuration
// in prod, a development one (human-readable console output, debug level
// enabled) when --verbose is set, wired through zapr the same way the teacher wires its
// controller-runtime manager's logger.
func newLogger() (logr.Logger, error) {
	var zapLog *zap.Logger
	var err error
	if verbose {
		zapLog, err = zap.NewDevelopment()
	} else {
		zapLog, err = zap.NewProduction()
	}
	if err != nil {
		return logr.Logger{}, fmt.Errorf("building logger: %w", err)
	}

	log := zapr.NewLogger(zapLog)
	klog.SetLogger(log)
	return log, nil
}
