// Package gologger bridges the wearables logging stack (glog) to go-job's
// logger contracts and resolves named component loggers for the runtime's
// background pieces (sync worker, scheduler, webhook processor).
package gologger

import (
	"strings"

	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"
)

// Resolve uses deterministic precedence provider > logger > nop.
func Resolve(name string, provider glog.LoggerProvider, logger glog.Logger) (glog.LoggerProvider, glog.Logger) {
	return glog.Resolve(name, provider, logger)
}

// ResolveComponent names a child logger for one runtime component under the
// wearables namespace. The returned logger is never nil.
func ResolveComponent(component string, provider glog.LoggerProvider, logger glog.Logger) glog.Logger {
	name := "wearables"
	if component = strings.TrimSpace(component); component != "" {
		name = name + "." + component
	}
	_, resolved := glog.Resolve(name, provider, logger)
	return glog.Ensure(resolved)
}

// ToJobProvider maps a glog provider to the go-job logger provider contract.
func ToJobProvider(provider glog.LoggerProvider) job.LoggerProvider {
	if provider == nil {
		return nil
	}
	return job.GoLoggerProvider(provider)
}

// ToJobLogger maps a glog logger to the go-job logger contract.
func ToJobLogger(logger glog.Logger) job.Logger {
	if logger == nil {
		return nil
	}
	return job.GoLogger(logger)
}

// ResolveForJob resolves glog logger/provider then returns equivalent go-job
// adapters, so queue hosts can hand go-job the same sink the service logs to.
func ResolveForJob(
	name string,
	provider glog.LoggerProvider,
	logger glog.Logger,
) (glog.LoggerProvider, glog.Logger, job.LoggerProvider, job.Logger) {
	resolvedProvider, resolvedLogger := Resolve(name, provider, logger)
	return resolvedProvider, resolvedLogger, ToJobProvider(resolvedProvider), ToJobLogger(resolvedLogger)
}
