package at

const (
	// Terminal Control
	CRLF = "\r\n"

	// Response Codes
	OK       = "OK"
	ERROR    = "ERROR"
	CmeError = "+CME ERROR:"
	CmsError = "+CMS ERROR:"

	// URCs (Unsolicited Result Codes) seen on Quectel modems. These can
	// arrive between a command and its final response and must not be
	// mistaken for data lines.
	UrcReady      = "RDY"
	UrcIndication = "+QIND:"
	UrcTimeZone   = "+CTZV:"
	UrcGnss       = "+QGPSURC:"

	// Common Commands
	CmdAt            = "AT"
	CmdEchoOff       = "ATE0"
	CmdIdentify      = "ATI"
	CmdSignalQuality = "AT+CSQ"
)

type ResponseType int

const (
	TypeFinal ResponseType = iota // OK, ERROR, +CME ERROR
	TypeURC                       // Asynchronous notifications
	TypeData                      // Intermediate command output (+CMEE: 2, ...)
)
