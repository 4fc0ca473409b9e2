package kernel

// UnknownState is the label of state codes outside the kernel enumeration.
const UnknownState = "unknown"

// threadStates is indexed by the ch_thread state field.
var threadStates = [...]string{
	"READY",
	"CURRENT",
	"STARTED",
	"SUSPENDED",
	"QUEUED",
	"WTSEM",
	"WTMTX",
	"WTCOND",
	"SLEEPING",
	"WTEXIT",
	"WTOREVT",
	"WTANDEVT",
	"SNDMSGQ",
	"SNDMSG",
	"WTMSG",
	"FINAL",
}

// StateLabel decodes a thread state code.
func StateLabel(code int64) string {
	if code < 0 || code >= int64(len(threadStates)) {
		return UnknownState
	}
	return threadStates[code]
}
