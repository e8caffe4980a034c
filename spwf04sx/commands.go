package spwf04sx

import "fmt"

// CommandID is the one byte command code at the start of every request frame.
type CommandID byte

// The commands used by the driver.
const (
	CommandSCFG     CommandID = 0x16
	CommandWCFG     CommandID = 0x17
	CommandSSIDTXT  CommandID = 0x1B
	CommandWIFI     CommandID = 0x1D
	CommandHTTPGET  CommandID = 0x2E
	CommandHTTPPOST CommandID = 0x2F
	CommandSOCKON   CommandID = 0x30
	CommandSOCKQ    CommandID = 0x31
	CommandSOCKC    CommandID = 0x32
	CommandSOCKW    CommandID = 0x33
	CommandSOCKR    CommandID = 0x34
	CommandSOCKL    CommandID = 0x35
	CommandTLSCERT  CommandID = 0x44
)

var commandNames = map[CommandID]string{
	CommandSCFG:     "SCFG",
	CommandWCFG:     "WCFG",
	CommandSSIDTXT:  "SSIDTXT",
	CommandWIFI:     "WIFI",
	CommandHTTPGET:  "HTTPGET",
	CommandHTTPPOST: "HTTPPOST",
	CommandSOCKON:   "SOCKON",
	CommandSOCKQ:    "SOCKQ",
	CommandSOCKC:    "SOCKC",
	CommandSOCKW:    "SOCKW",
	CommandSOCKR:    "SOCKR",
	CommandSOCKL:    "SOCKL",
	CommandTLSCERT:  "TLSCERT",
}

func (c CommandID) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("CMD(0x%02X)", byte(c))
}

// WiFiState is the radio/connection state reported in the low nibble of every response status
// byte.
type WiFiState byte

// Module states.
const (
	StateHardwarePowerUp WiFiState = iota
	StateHardwareFailure
	StateRadioTerminatedByUser
	StateRadioIdle
	StateScanInProgress
	StateScanComplete
	StateJoinInProgress
	StateJoined
	StateAccessPointStarted
	StateHandshakeComplete
	StateReadyToTransmit
)

var stateNames = [...]string{
	"HardwarePowerUp",
	"HardwareFailure",
	"RadioTerminatedByUser",
	"RadioIdle",
	"ScanInProgress",
	"ScanComplete",
	"JoinInProgress",
	"Joined",
	"AccessPointStarted",
	"HandshakeComplete",
	"ReadyToTransmit",
}

func (s WiFiState) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", byte(s))
}

// Indication is the code carried by an unsolicited indication frame (a WIND).
type Indication byte

// Indication codes the driver names. Others are passed through with their numeric value.
const (
	IndicationConsoleActive       Indication = 0
	IndicationPowerOn             Indication = 1
	IndicationReset               Indication = 2
	IndicationWatchdogRunning     Indication = 3
	IndicationHeapTooSmall        Indication = 4
	IndicationHardwareFailure     Indication = 5
	IndicationWatchdogTerminating Indication = 6
	IndicationHardFault           Indication = 8
	IndicationStackOverflow       Indication = 9
	IndicationMallocFailed        Indication = 10
	IndicationError               Indication = 11
	IndicationPowerSaveFailure    Indication = 12
	IndicationCopyrightInfo       Indication = 13
	IndicationBSSRegained         Indication = 14
	IndicationSignalLow           Indication = 15
	IndicationSignalOK            Indication = 16
	IndicationFirmwareUpdate      Indication = 17
	IndicationEncryptionKeyBad    Indication = 18
	IndicationJoin                Indication = 19
	IndicationJoinFailed          Indication = 20
	IndicationScanning            Indication = 21
	IndicationScanFailed          Indication = 23
	IndicationWiFiUp              Indication = 24
	IndicationAssociated          Indication = 25
	IndicationStartedMiniAP       Indication = 26
	IndicationStartFailed         Indication = 27
	IndicationHardwareStarted     Indication = 29
	IndicationBSSLost             Indication = 30
	IndicationScanComplete        Indication = 32
	IndicationPoweredDown         Indication = 35
	IndicationDisassociation      Indication = 40
	IndicationDeauthentication    Indication = 41
	IndicationSocketClosed        Indication = 58
	IndicationSocketDataPending   Indication = 55
)

var indicationNames = map[Indication]string{
	IndicationConsoleActive:       "ConsoleActive",
	IndicationPowerOn:             "PowerOn",
	IndicationReset:               "Reset",
	IndicationWatchdogRunning:     "WatchdogRunning",
	IndicationHeapTooSmall:        "HeapTooSmall",
	IndicationHardwareFailure:     "HardwareFailure",
	IndicationWatchdogTerminating: "WatchdogTerminating",
	IndicationHardFault:           "HardFault",
	IndicationStackOverflow:       "StackOverflow",
	IndicationMallocFailed:        "MallocFailed",
	IndicationError:               "Error",
	IndicationPowerSaveFailure:    "PowerSaveFailure",
	IndicationCopyrightInfo:       "CopyrightInfo",
	IndicationBSSRegained:         "BSSRegained",
	IndicationSignalLow:           "SignalLow",
	IndicationSignalOK:            "SignalOK",
	IndicationFirmwareUpdate:      "FirmwareUpdate",
	IndicationEncryptionKeyBad:    "EncryptionKeyNotRecognized",
	IndicationJoin:                "Join",
	IndicationJoinFailed:          "JoinFailed",
	IndicationScanning:            "Scanning",
	IndicationScanFailed:          "ScanFailed",
	IndicationWiFiUp:              "WiFiUp",
	IndicationAssociated:          "Associated",
	IndicationStartedMiniAP:       "StartedMiniAP",
	IndicationStartFailed:         "StartFailed",
	IndicationHardwareStarted:     "HardwareStarted",
	IndicationBSSLost:             "BSSLost",
	IndicationScanComplete:        "ScanComplete",
	IndicationPoweredDown:         "PoweredDown",
	IndicationDisassociation:      "Disassociation",
	IndicationDeauthentication:    "Deauthentication",
	IndicationSocketClosed:        "SocketClosed",
	IndicationSocketDataPending:   "SocketDataPending",
}

func (i Indication) String() string {
	if name, ok := indicationNames[i]; ok {
		return name
	}
	return fmt.Sprintf("Indication(%d)", byte(i))
}

// ConnectionType selects the transport of a module socket.
type ConnectionType int

// Connection types.
const (
	ConnectionTCP ConnectionType = iota
	ConnectionUDP
)

func (c ConnectionType) String() string {
	if c == ConnectionUDP {
		return "udp"
	}
	return "tcp"
}

// SecurityType selects whether a connection is wrapped in TLS by the module.
type SecurityType int

// Security types.
const (
	SecurityNone SecurityType = iota
	SecurityTLS
)

func (s SecurityType) String() string {
	if s == SecurityTLS {
		return "tls"
	}
	return "none"
}

// httpSecurityParam is the HTTP command's encoding of the security type.
func (s SecurityType) httpSecurityParam() string {
	if s == SecurityTLS {
		return "2"
	}
	return "0"
}

// socketKindParam is the socket open command's connection kind when no common name is given.
func socketKindParam(connType ConnectionType, security SecurityType) string {
	switch {
	case connType != ConnectionTCP:
		return "u"
	case security == SecurityTLS:
		return "s"
	default:
		return "t"
	}
}
