package backup

// Mode is a backup strategy: whether to copy everything, only files
// changed since any prior session, or only files changed since the last
// full session.
type Mode string

const (
	Full         Mode = "full"
	Incremental  Mode = "incremental"
	Differential Mode = "differential"
)

// Valid reports whether m is one of the three recognized modes.
func (m Mode) Valid() bool {
	switch m {
	case Full, Incremental, Differential:
		return true
	default:
		return false
	}
}
