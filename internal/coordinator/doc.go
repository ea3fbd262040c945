// Package coordinator reconciles the three sources of Bemfa device state into
// one table.
//
// The sources are the periodic device-list poll, the MQTT push stream and
// locally issued commands. A single goroutine, the loop, owns every write to
// the device.Table; the HTTP poll, the MQTT callback and the command path all
// hand their results to the loop as events and never touch the table
// themselves. Readers use the table's lock-free snapshot.
//
// Lifecycle:
//
//	c := coordinator.New(table, client, transport, cfg)
//	if err := c.Start(ctx); err != nil { // first refresh runs synchronously
//	    return err
//	}
//	defer c.Stop()
//
// Changes are fanned out to subscribers on the loop goroutine, in
// subscription order. Subscribers must not block.
package coordinator
