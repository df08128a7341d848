package main

// Defaults for the mixer pair and the daemon surface
const (
	defaultDevice        = "hw:0"
	defaultSourceControl = "Master"
	defaultMaxVolume     = 100
	defaultLockFile      = "/run/mixsync/mixsync.pid"
	defaultLogLevel      = "warn"

	// Environment marker set on the detached child of -d.
	daemonChildEnv = "MIXSYNC_DAEMON_CHILD"

	syslogTag = "mixsync"
)

// State publication
const (
	stateBroadcastBuffer = 64 // StateStore -> websocket broadcaster
	wsClientSendBuffer   = 32 // per websocket client
	wsCoalesceWindowMS   = 50 // volume_synced coalescing window (ms)
	shutdownTimeoutMS    = 2000
)
