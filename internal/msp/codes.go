package msp

// MSP function codes used by the syncer. All fit in 8 bits so they are
// addressable over either framing.
const (
	CmdAPIVersion       uint16 = 1
	CmdFCVariant        uint16 = 2
	CmdDataflashSummary uint16 = 70
	CmdDataflashRead    uint16 = 71
	CmdDataflashErase   uint16 = 72
	CmdBlackboxConfig   uint16 = 80
	CmdUID              uint16 = 160
)
