//go:build wireinject

package app

import (
	"io"

	"github.com/google/wire"

	"github.com/audiolibrelab/dailycapture/internal/config"
)

func wireDaemon(p *config.Provider, engineLog io.Writer) (*Daemon, func(), error) {
	panic(wire.Build(DaemonSet))
}

func wireRecorder(p *config.Provider, engineLog io.Writer) (*Recorder, func(), error) {
	panic(wire.Build(RecorderSet))
}
