package radio

// SX127x LoRa register map (subset used by the gateway)
const (
	RegFifo              byte = 0x00
	RegOpMode            byte = 0x01
	RegFrfMsb            byte = 0x06
	RegFrfMid            byte = 0x07
	RegFrfLsb            byte = 0x08
	RegPaConfig          byte = 0x09
	RegLna               byte = 0x0C
	RegFifoAddrPtr       byte = 0x0D
	RegFifoTxBaseAddr    byte = 0x0E
	RegFifoRxBaseAddr    byte = 0x0F
	RegFifoRxCurrentAddr byte = 0x10
	RegIrqFlags          byte = 0x12
	RegRxNbBytes         byte = 0x13
	RegPktSnrValue       byte = 0x19
	RegPktRssiValue      byte = 0x1A
	RegModemConfig1      byte = 0x1D
	RegModemConfig2      byte = 0x1E
	RegPayloadLength     byte = 0x22
	RegModemConfig3      byte = 0x26
	RegSyncWord          byte = 0x39
	RegVersion           byte = 0x42
)

// Operating modes. The long-range bit selects the LoRa modem.
const (
	ModeLongRange    byte = 0x80
	ModeSleep        byte = 0x00
	ModeStandby      byte = 0x01
	ModeTx           byte = 0x03
	ModeRxContinuous byte = 0x05
)

// IRQ flag bits, cleared by writing 1
const (
	IrqTxDone          byte = 0x08
	IrqPayloadCrcError byte = 0x20
	IrqRxDone          byte = 0x40
	IrqAll             byte = 0xFF
)

// Modem profile shared with the deployed sensor nodes. These must match the
// node firmware exactly and are never negotiated.
const (
	PaConfigBoost byte = 0x8F // PA_BOOST, max output
	LnaMaxGain    byte = 0x23 // G1 + LNA boost
	ModemConfig1  byte = 0x72 // BW 125 kHz, CR 4/5, explicit header
	ModemConfig2  byte = 0xC4 // SF12, CRC on
	ModemConfig3  byte = 0x0C // low data rate optimize + AGC auto
	SyncWord      byte = 0x12 // private network
	ChipVersion   byte = 0x12 // expected RegVersion for SX1276/77/78
)

// DefaultFrequencyHz is the carrier used by the deployed nodes
const DefaultFrequencyHz = 433_000_000
