// Package logmonitor adapts monitor.Monitor onto logrus, the teacher's
// structured-logging library, mirroring the pervasive
// log.Infof/Debugf/Warnf/Errorf style seen throughout sol/manager.go and
// main.go.
package logmonitor

import (
	"github.com/sirupsen/logrus"
)

// Monitor logs every lifecycle event at a level chosen to match its
// severity: successes at Debug, retries at Warn, failures at Error, free
// trace text at Trace.
type Monitor struct {
	log *logrus.Entry
}

// New wraps log (or logrus.StandardLogger() if nil) as a monitor.Monitor.
func New(log *logrus.Logger) *Monitor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Monitor{log: log.WithField("component", "c12")}
}

func (m *Monitor) OnDataLinkLayerSuccess() {
	m.log.Debug("data link layer success")
}

func (m *Monitor) OnDataLinkLayerRetry(err error) {
	m.log.WithError(err).Warn("data link layer retry")
}

func (m *Monitor) OnDataLinkLayerFail(err error) {
	m.log.WithError(err).Error("data link layer fail")
}

func (m *Monitor) OnApplicationLayerStart(name string) {
	m.log.WithField("service", name).Debug("application layer start")
}

func (m *Monitor) OnApplicationLayerSuccess(name string) {
	m.log.WithField("service", name).Debug("application layer success")
}

func (m *Monitor) OnApplicationLayerRetry(name string, err error) {
	m.log.WithField("service", name).WithError(err).Warn("application layer retry")
}

func (m *Monitor) OnApplicationLayerFail(name string, err error) {
	m.log.WithField("service", name).WithError(err).Error("application layer fail")
}

func (m *Monitor) Write(text string) {
	m.log.Trace(text)
}
