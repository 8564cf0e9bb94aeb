package radio

// FrequencyStep is the synthesizer resolution in Hz: FXOSC (32 MHz) / 2^19
const FrequencyStep = 61.03515625

// RSSIOffset is subtracted from RegPktRssiValue on the low frequency port
const RSSIOffset = 164

// SNRDivisor scales RegPktSnrValue, a two's complement value in quarter dB
const SNRDivisor = 4.0

// FrequencyRegister converts a carrier frequency in Hz to the 24-bit FRF value
func FrequencyRegister(hz uint32) uint32 {
	return uint32(float64(hz)/FrequencyStep) & 0xFFFFFF
}

// FrequencyBytes splits the FRF value into MSB, MID and LSB register bytes
func FrequencyBytes(hz uint32) [3]byte {
	frf := FrequencyRegister(hz)
	return [3]byte{byte(frf >> 16), byte(frf >> 8), byte(frf)}
}

// RSSI converts the raw packet RSSI register to dBm
func RSSI(raw byte) int {
	return int(raw) - RSSIOffset
}

// SNR converts the raw packet SNR register to dB
func SNR(raw byte) float64 {
	v := int(raw)
	if v&0x80 != 0 {
		v -= 256
	}
	return float64(v) / SNRDivisor
}

// OpMode composes the RegOpMode value for a LoRa mode
func OpMode(mode byte) byte {
	return ModeLongRange | mode
}
