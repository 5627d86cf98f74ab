/*
Package events provides an in-memory pub/sub broker for sari's
index-lifecycle and fallback-governance notifications.

Publishers (the indexer, the search engine router, the daemon's root
registration) call Publish on a shared Broker; a consumer calls
Subscribe and ranges over the returned channel. No package in this
module subscribes. Delivery is best-effort: a subscriber with a full
buffer skips an event rather than blocking the broadcast loop.

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)
	go func() {
		for ev := range sub {
			...
		}
	}()

	broker.Publish(&events.Event{Type: events.EventEngineFallback, Message: "bleve missing, using sqlite"})
*/
package events
