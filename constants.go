package gsusb

// Vendor control requests understood by gs_usb firmware.
const (
	breqHostFormat     = 0
	breqBitTiming      = 1
	breqMode           = 2
	breqBerr           = 3
	breqBTConst        = 4
	breqDeviceConfig   = 5
	breqTimestamp      = 6
	breqIdentify       = 7
	breqGetUserID      = 8
	breqSetUserID      = 9
	breqDataBitTiming  = 10
	breqBTConstExt     = 11
	breqSetTermination = 12
	breqGetTermination = 13
	breqGetState       = 14
)

// Mode flags accepted by the MODE request.
const (
	ModeNormal       uint32 = 0
	ModeListenOnly   uint32 = 1 << 0
	ModeLoopBack     uint32 = 1 << 1
	ModeTripleSample uint32 = 1 << 2
	ModeOneShot      uint32 = 1 << 3
	ModeHWTimestamp  uint32 = 1 << 4
	ModeIdentify     uint32 = 1 << 5
	ModeUserID       uint32 = 1 << 6
	ModePadPackets   uint32 = 1 << 7
	ModeFD           uint32 = 1 << 8
	ModeBerrReport   uint32 = 1 << 12
)

// Feature bits advertised by the device in the BT_CONST response.
const (
	FeatureListenOnly    uint32 = 1 << 0
	FeatureLoopBack      uint32 = 1 << 1
	FeatureTripleSample  uint32 = 1 << 2
	FeatureOneShot       uint32 = 1 << 3
	FeatureHWTimestamp   uint32 = 1 << 4
	FeatureIdentify      uint32 = 1 << 5
	FeatureUserID        uint32 = 1 << 6
	FeaturePadPackets    uint32 = 1 << 7
	FeatureFD            uint32 = 1 << 8
	FeatureLPC546XXQuirk uint32 = 1 << 9
	FeatureBTConstExt    uint32 = 1 << 10
	FeatureTermination   uint32 = 1 << 11
	FeatureBerrReport    uint32 = 1 << 12
	FeatureGetState      uint32 = 1 << 13
)

// Mode values for the MODE request.
const (
	canModeReset uint32 = 0
	canModeStart uint32 = 1
)

// supportedModes is the set of mode bits this driver knows how to handle.
// Anything else requested by the caller is silently dropped during Start.
const supportedModes = ModeListenOnly | ModeLoopBack | ModeOneShot | ModeHWTimestamp | ModeFD

// CAN identifier flag bits, same layout as linux/can.h.
const (
	CANEFFFlag uint32 = 0x80000000 // extended frame format (29 bit id)
	CANRTRFlag uint32 = 0x40000000 // remote transmission request
	CANERRFlag uint32 = 0x20000000 // error message frame
)

// CAN identifier masks.
const (
	CANSFFMask uint32 = 0x000007FF
	CANEFFMask uint32 = 0x1FFFFFFF
	CANERRMask uint32 = 0x1FFFFFFF
)

// Per-frame flag bits of the host frame flags byte.
const (
	FlagOverflow uint8 = 1 << 0
	FlagFD       uint8 = 1 << 1
	FlagBRS      uint8 = 1 << 2
	FlagESI      uint8 = 1 << 3
)

// Payload limits.
const (
	CANMaxDLC  = 8
	CANMaxDLen = 8
	FDMaxDLC   = 15
	FDMaxDLen  = 64
)

// Echo id sentinels. Every transmitted frame carries EchoIDTx and comes back
// as an echo; frames received off the bus carry EchoIDRx.
const (
	EchoIDTx uint32 = 0
	EchoIDRx uint32 = 0xFFFFFFFF
)

// Wire sizes of the host frame for the four (fd x timestamp) layouts.
const (
	frameSize            = 20
	frameSizeHWTimestamp = 24
	frameSizeFD          = 76
	frameSizeFDTimestamp = 80
)

// fdDLCToLen maps a CAN FD DLC to its payload length in bytes.
var fdDLCToLen = [16]int{0, 1, 2, 3, 4, 5, 6, 7, 8, 12, 16, 20, 24, 32, 48, 64}

// USB identity. Endpoint numbers are the endpoint addresses with the
// direction bit stripped, as gousb wants them.
const (
	usbInterfaceNum = 0
	usbConfigNum    = 1
	usbOutEndpoint  = 0x02
	usbInEndpoint   = 0x81
	requestTypeOut  = 0x41 // vendor, host to device
	requestTypeIn   = 0xC1 // vendor, device to host
)

// Known gs_usb compatible vendor/product id pairs.
const (
	VendorGS             = 0x1D50
	ProductGS            = 0x606F
	VendorCandleLight    = 0x1209
	ProductCandleLight   = 0x2323
	VendorCESCANextFD    = 0x1CD2
	ProductCESCANextFD   = 0x606F
	VendorABEDebuggerFD  = 0x16D0
	ProductABEDebuggerFD = 0x10B8
)

var supportedIDs = [][2]uint16{
	{VendorGS, ProductGS},
	{VendorCandleLight, ProductCandleLight},
	{VendorCESCANextFD, ProductCESCANextFD},
	{VendorABEDebuggerFD, ProductABEDebuggerFD},
}

// IsSupportedDevice reports whether the vendor/product pair belongs to a
// known gs_usb compatible adapter.
func IsSupportedDevice(vendor, product uint16) bool {
	for _, id := range supportedIDs {
		if id[0] == vendor && id[1] == product {
			return true
		}
	}
	return false
}
