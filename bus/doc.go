// Package bus publishes taskgate state changes to interested listeners.
//
// # Overview
//
// The session manager and the task store publish an Event on every
// transition: a session phase change, a reconciled list, a created task, a
// rolled-back update. Listeners such as "taskctl watch" subscribe with a
// wildcard and render them.
//
// # Available Implementations
//
//   - NATSBus: events leave the process over NATS
//   - MemoryBus: in-process delivery for tests and single-process use
//
// # Usage
//
//	b := bus.NewMemoryBus(bus.DefaultConfig())
//	pub := bus.NewPublisher(b, "taskgate")
//
//	sub, _ := b.Subscribe("taskgate.>")
//	go func() {
//	    for msg := range sub.Messages() {
//	        ev, _ := bus.DecodeEvent(msg)
//	        fmt.Println(ev.Type)
//	    }
//	}()
//
//	pub.Publish(ctx, "tasks", "task.created", task)
//
// Delivery is best effort: a subscriber that falls behind by more than its
// buffer loses messages.
package bus
