/*
Package mqtt4w bridges workstation state to an MQTT broker following the Home
Assistant discovery convention.

The package implements the supervision engine of the bridge:

  - Services: independent state producers, built fresh for every connection
  - Events: deduplicated binary and text state changes
  - Discovery: entity descriptors compiled into retained configuration
  - Supervision: connection epochs with a last will and a fixed reconnect delay

# Basic Usage

A supervisor needs a dialer for the broker, a builder creating the services
of an epoch and the identity of the workstation. The mqtt4w command builds
the dialer and the builder from its configuration file:

	sup, err := mqtt4w.New(
		mqtt4w.WithDialer(dialer),
		mqtt4w.WithBuilder(builder),
		mqtt4w.WithIdentity(discovery.Identity{UniqueID: uuidx.NodeID(), WorkstationName: "desk"}),
		mqtt4w.WithRoot(topic.MustNew("mqtt4w", "desk")),
	)
	if err != nil {
		return err
	}
	return sup.Run(ctx)

# Architecture

1. Epochs (supervisor.go)
  - Dial with the offline availability registered as last will
  - Publish online, build services, run them until the connection fails
  - Tear down every service before publishing offline

2. Publisher
  - A single goroutine drains the events of every service in order
  - Each publish is bounded by a timeout, a failure ends the epoch

3. Commands
  - Command topics are subscribed for the duration of the epoch
  - Handlers run one at a time on a dispatcher goroutine

Run returns nil once its context is cancelled and the last epoch has been
torn down.
*/
package mqtt4w
