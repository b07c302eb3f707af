// Package connection keeps a transport's inbound stream alive.
//
// A Supervisor runs a blocking stream function (typically a transport's
// Listen) and, whenever it returns, waits for the Backoff delay and runs it
// again. Errors are reported through the OnReconnecting hook and the
// supervisor's logger; they never reach the consumer of the stream. There is
// no retry limit: the supervisor keeps trying until it is closed.
//
// # Reconnection Strategy
//
// Light transports use a fixed delay of ReconnectDelay (2 seconds):
//
//	sup := connection.NewSupervisor(func(ctx context.Context) error {
//		return tr.Listen(ctx, deliver)
//	}, connection.SupervisorConfig{
//		Name:    "primary",
//		Backoff: connection.NewFixedBackoff(connection.ReconnectDelay),
//	})
//	sup.Start(ctx)
//	defer sup.Close()
//
// The attempt counter resets once a stream has stayed up for longer than the
// delay.
package connection
