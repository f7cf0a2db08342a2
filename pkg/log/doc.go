/*
Package log provides structured logging for netevd using zerolog.

A single global Logger is configured once at startup via Init. Subsystems
obtain a child logger carrying a "component" field with WithComponent, or a
"link"/"link_index" pair with WithLink, rather than repeating those fields on
every call site.

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
	wlog := log.WithComponent("watcher")
	wlog.Info().Str("link", "eth1").Msg("address added")
*/
package log
