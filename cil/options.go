package cil

import (
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/cli-metadata/pe"
)

// Option configures how a module is read.
type Option func(*readOptions)

type readOptions struct {
	resolver AssemblyResolver
	logger   *zap.Logger
	deferred bool
}

func defaultReadOptions() readOptions {
	return readOptions{deferred: true}
}

// WithResolver sets the resolver used to follow references into other
// assemblies. Without one, cross-assembly references stay unresolved.
func WithResolver(r AssemblyResolver) Option {
	return func(o *readOptions) { o.resolver = r }
}

// WithLogger sets the module logger. It defaults to the package logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *readOptions) { o.logger = l }
}

// WithDeferredLoading chooses between on-demand decoding (true, the default)
// and decoding the whole graph while reading.
func WithDeferredLoading(deferred bool) Option {
	return func(o *readOptions) { o.deferred = deferred }
}

// WriteOption configures Module.Write.
type WriteOption func(*writeOptions)

type writeOptions struct {
	timestamp    *uint32
	architecture pe.Machine
}

// WithTimestamp sets the COFF timestamp. By default the timestamp of the read
// image is kept, and new modules use the current time.
func WithTimestamp(t time.Time) WriteOption {
	return func(o *writeOptions) {
		ts := uint32(t.Unix())
		o.timestamp = &ts
	}
}

// WithArchitecture overrides the target machine.
func WithArchitecture(m pe.Machine) WriteOption {
	return func(o *writeOptions) { o.architecture = m }
}
