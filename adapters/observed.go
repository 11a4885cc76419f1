// Package adapters
// Author: momentics <momentics@gmail.com>
//
// Decorators that count authentication and transport outcomes into
// api.Control metrics.

package adapters

import (
	"errors"

	"github.com/momentics/hioload-state/api"
)

// Metric keys recorded by the observed collaborators.
const (
	MetricAuthAccepted = "auth.accepted"
	MetricAuthRejected = "auth.rejected"
	MetricAuthFailed   = "auth.failed"
	MetricPushSent     = "push.sent"
	MetricPushFailed   = "push.failed"
	MetricDisconnects  = "transport.disconnects"
)

type observedAuth struct {
	next api.Authenticator
	ctrl api.Control
}

// ObserveAuthenticator counts accepted, rejected and failed authentications.
func ObserveAuthenticator(next api.Authenticator, ctrl api.Control) api.Authenticator {
	return &observedAuth{next: next, ctrl: ctrl}
}

func (o *observedAuth) Authenticate(req api.Request, params ...any) (string, error) {
	id, err := o.next.Authenticate(req, params...)
	var rej *api.AuthError
	switch {
	case err == nil:
		o.ctrl.AddMetric(MetricAuthAccepted, 1)
	case errors.As(err, &rej):
		o.ctrl.AddMetric(MetricAuthRejected, 1)
	default:
		o.ctrl.AddMetric(MetricAuthFailed, 1)
	}
	return id, err
}

type observedTransport struct {
	next api.Transport
	ctrl api.Control
}

// ObserveTransport counts pushes and disconnects.
func ObserveTransport(next api.Transport, ctrl api.Control) api.Transport {
	return &observedTransport{next: next, ctrl: ctrl}
}

func (o *observedTransport) Push(fd int, payload []byte) error {
	err := o.next.Push(fd, payload)
	if err != nil {
		o.ctrl.AddMetric(MetricPushFailed, 1)
	} else {
		o.ctrl.AddMetric(MetricPushSent, 1)
	}
	return err
}

func (o *observedTransport) IsEstablished(fd int) bool {
	return o.next.IsEstablished(fd)
}

func (o *observedTransport) Disconnect(fd int, code int, message string) error {
	o.ctrl.AddMetric(MetricDisconnects, 1)
	return o.next.Disconnect(fd, code, message)
}
