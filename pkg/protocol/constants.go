package protocol

import "time"

// Network ports and wire literals shared by hosts and slaves.
const (
	// DiscoveryPort is the UDP port the discovery responder binds.
	DiscoveryPort = 53535

	// InputPort is the TCP port of the command channel (slave -> host).
	InputPort = 53536

	// SyncPort is the TCP port of the snapshot channel (host -> slaves).
	SyncPort = 53537

	// DiscoveryQuery is the datagram payload a node answers with its role.
	DiscoveryQuery = "WHO_ARE_YOU?"

	// ModePrefix prefixes every discovery reply, e.g. "MODE:HOST".
	ModePrefix = "MODE:"

	// AckOK is the acknowledgement line for an accepted command.
	AckOK = "OK"

	// AckErrPrefix prefixes a rejected command's acknowledgement line.
	AckErrPrefix = "ERR "

	// FrameHeaderSize is the length prefix of a snapshot frame in bytes.
	FrameHeaderSize = 4

	// MaxFrameSize bounds a single snapshot frame. Larger length prefixes are
	// treated as stream corruption.
	MaxFrameSize = 64 << 20
)

// Default timings. All of them can be overridden through configuration.
const (
	DefaultSendTimeout      = 2 * time.Second
	DefaultDiscoveryTimeout = time.Second
	DefaultProbeTimeout     = 1200 * time.Millisecond
	DefaultReconnectBackoff = 750 * time.Millisecond
	DefaultTickInterval     = time.Second
)

// Directory and file names used under the state directory.
const (
	// StratDir is the user-level state directory (e.g., ~/.strat).
	StratDir = ".strat"

	// SavesDir holds primary save files.
	SavesDir = "saves"

	// BackupsDir holds timestamped backups, one subdirectory per save.
	BackupsDir = "backups"
)
