// Package config aggregates every subpackage's Config into the single
// struct the process entry point parses, grouped by concern the way
// atccmd.RunCommand groups its web/db/gc/metrics sub-configs.
package config

import (
	"time"

	"github.com/arXiv/arxiv-compiler/compiler/creds"
	"github.com/arXiv/arxiv-compiler/compiler/runner"
	"github.com/arXiv/arxiv-compiler/compiler/sourceclient"
	"github.com/arXiv/arxiv-compiler/compiler/store"
	"github.com/arXiv/arxiv-compiler/compiler/worker"
)

// ServerConfig controls the HTTP listener itself.
type ServerConfig struct {
	BindAddr string `long:"bind-addr" description:"address the API server listens on" default:":8080"`
}

// QueueConfig sizes the in-process dispatch queue.
type QueueConfig struct {
	Concurrency int `long:"queue-concurrency"  description:"number of concurrent compile workers" default:"4"`
	BufferSize  int `long:"queue-buffer-size"  description:"depth of the pending-job buffer"       default:"64"`
}

// TracingConfig gates OpenTelemetry exporter setup.
type TracingConfig struct {
	Enabled  bool   `long:"tracing-enabled"  description:"export spans via OTLP/gRPC"`
	Endpoint string `long:"tracing-endpoint" description:"OTLP/gRPC collector endpoint" default:"localhost:4317"`
}

// AuthConfig controls whether checksum verification is enforced on
// compile requests that cannot be validated as proper base64.
type AuthConfig struct {
	ChecksumVerification bool `long:"checksum-verification" description:"reject compile requests with a non-base64 checksum instead of opaquely encoding it" default:"true"`
}

// Config is the complete process configuration, parsed by
// github.com/jessevdk/go-flags with NamespaceDelimiter "-" so that, e.g.,
// Store.Bucket surfaces as --store-bucket / ARXIV_COMPILER_STORE_BUCKET.
type Config struct {
	Server ServerConfig `group:"Server Options"`

	SourceClient sourceclient.Config `group:"Source Client Options"`
	Store        store.Config        `group:"Object Store Options"`
	Runner       runner.Config       `group:"Converter Runner Options"`
	Worker       worker.Config       `group:"Task Worker Options"`
	Creds        creds.Config        `group:"Registry Credential Options"`
	Queue        QueueConfig         `group:"Dispatch Queue Options"`
	Tracing      TracingConfig       `group:"Tracing Options"`
	Auth         AuthConfig          `group:"Authorization Options"`

	DefaultOutputFormat string `long:"default-output-format" description:"output format assumed when a compile request omits one" default:"pdf"`

	StatusPollInterval time.Duration `long:"status-poll-interval" description:"how long graceful shutdown waits for in-flight HTTP requests to finish" default:"5s"`
}
