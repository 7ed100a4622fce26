// Package infra holds the adapters that connect tankwatch to the outside
// world: the MQTT client and telemetry subscriber, SQLite and Postgres
// persistence, alert notifiers, metrics sinks, Sentry and the zerolog
// logger. Adapters implement interfaces declared under core and register
// themselves with the core factories; core never imports infra.
package infra
