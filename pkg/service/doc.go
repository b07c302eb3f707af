// Package service provides the LightService, the top-level orchestrator of
// a LAN light client.
//
// A LightService owns two UDP transports: a primary socket on an
// OS-assigned port (send and receive) and a legacy socket on the well-known
// port (receive only). Their inbound streams are kept alive by connection
// supervisors, merged, stripped of broadcast messages and multicast on an
// internal hub. The router consumes the hub and creates one light.Light per
// device target the first time it is seen; each new light is announced to
// the extension chain before it starts receiving its own traffic.
//
// A shared heartbeat drives discovery: one GetService broadcast is sent on
// Start and another on every tick.
//
// Example usage:
//
//	cfg := service.DefaultConfig()
//	cfg.Logger = slog.Default()
//
//	svc, err := service.New(cfg, extension.DispatcherFunc(func(l *light.Light) {
//		fmt.Println("found", l.Target())
//	}))
//	if err != nil {
//		return err
//	}
//	if err := svc.Start(ctx); err != nil {
//		return err
//	}
//	defer svc.Stop()
//
// # Lifecycle
//
// IDLE -> STARTING -> RUNNING -> STOPPING -> STOPPED. Stop is idempotent
// and a no-op before Start. A stopped service cannot be restarted.
//
// # Sending
//
// Send never blocks for long and never fails loudly: it reports false when
// the service is not running or the datagram could not be written. Messages
// to a known light go to the address it last replied from; broadcast
// messages and messages for unknown targets go to the broadcast address.
package service
