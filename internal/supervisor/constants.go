package supervisor

import "time"

const (
	DefaultGracePeriod  = 3 * time.Second
	DefaultKillTimeout  = 2 * time.Second
	DefaultDrainTimeout = 1 * time.Second
	DefaultWriteTimeout = 2 * time.Second

	EventBufferSize = 64

	PTYRows = 24
	PTYCols = 200
)
