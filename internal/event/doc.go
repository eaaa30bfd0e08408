/*
Package event provides the pub/sub event system of a shell service.

Components report lifecycle facts (service state transitions, command
registration, pack discovery failures, execution start and completion,
listener binding, session open and close) as typed events. Subscribers
attach to a single event type or to all events and receive each event by
direct call, either on their own goroutine (Publish) or inline
(PublishSync).

# Topics

Besides typed events, a Bus carries free-form topic messages over a
watermill GoChannel. The bus-send and bus-tail shell commands use these:

	_ = bus.Send("alerts", []byte("disk full"))

	msgs, err := bus.Tail(ctx, "alerts")
	for payload := range msgs {
		fmt.Println(string(payload))
	}

Topic messages are not persisted: a message sent while no one tails its
topic is dropped.

# Ownership

There is no process-wide bus. Each shell service creates one with NewBus
and closes it when the service closes.
*/
package event
