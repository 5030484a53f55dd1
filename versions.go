package arxivcompiler

// Version is the version of the compile service. Overridden at build time
// via ldflags.
var Version = "0.0.0-dev"

// ConverterVersion identifies the converter image version this build
// expects. It is not part of the /status response.
var ConverterVersion = "1.0"
