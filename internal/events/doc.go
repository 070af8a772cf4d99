// Package events publishes turn-completion events to an external channel.
// The log sink is the default; redis and rabbitmq sinks let other systems
// consume the activity stream.
package events
