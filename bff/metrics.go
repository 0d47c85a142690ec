package bff

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var loginsStarted = promauto.NewCounter(prometheus.CounterOpts{
	Name: "opensocial_bff_logins_started",
	Help: "OAuth login flows initiated",
})

var loginsCompleted = promauto.NewCounter(prometheus.CounterOpts{
	Name: "opensocial_bff_logins_completed",
	Help: "OAuth login flows completed successfully at the callback",
})

var loginFailures = promauto.NewCounter(prometheus.CounterOpts{
	Name: "opensocial_bff_login_failures",
	Help: "OAuth login initiations rejected upstream",
})

var callbackFailures = promauto.NewCounter(prometheus.CounterOpts{
	Name: "opensocial_bff_callback_failures",
	Help: "OAuth callbacks that did not establish a session",
})
