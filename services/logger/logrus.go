package logsvc

import (
	"io"

	"github.com/sirupsen/logrus"

	"github.com/trezcool/admissions/core"
)

// NewStd returns the process logger: human-readable text while debugging, JSON lines otherwise.
func NewStd(conf *core.Config, out io.Writer) *logrus.Logger {
	std := logrus.New()
	std.SetOutput(out)
	if conf.Debug {
		std.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		std.SetLevel(logrus.DebugLevel)
	} else {
		std.SetFormatter(&logrus.JSONFormatter{})
		std.SetLevel(logrus.InfoLevel)
	}
	return std
}
