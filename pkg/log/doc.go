// Package log provides protocol capture for the LAN light client.
//
// Capture is separate from operational logging (slog): it records a
// machine-readable trace of every datagram, decoded header and lifecycle
// transition so that discovery and routing problems can be analysed after
// the fact with the lanlight-log tool.
//
// # Basic Usage
//
//	// Console while developing
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// Binary capture file
//	fl, _ := log.NewFileLogger("/var/log/lanlight/client.llog")
//	cfg.ProtocolLogger = fl
//
//	// Both
//	cfg.ProtocolLogger = log.NewMultiLogger(log.NewSlogAdapter(slog.Default()), fl)
//
// # Event Types
//
//   - Transport: raw datagram bytes (FrameEvent), tagged with the socket
//     binding's ConnectionID
//   - Wire: decoded headers (MessageEvent)
//   - Service: supervisor, session and service state changes (StateChangeEvent)
//
// Errors at any layer use ErrorEventData.
//
// # File Format
//
// Capture files are a stream of CBOR-encoded events with integer keys,
// conventionally with the .llog extension.
package log
