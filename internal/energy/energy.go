package energy

// Model gives the energy (joules) one packet costs to send or receive.
type Model interface {
	TransmitCost() float64
	ReceiveCost() float64
}

// RadioModel derives per-packet costs from radio power draw and airtime.
type RadioModel struct {
	TxPowerW   float64
	RxPowerW   float64
	PacketBits float64
	BitRateBps float64
}

// Defaults roughly match a small 802.11 radio on a quadcopter.
const (
	DefaultTxPowerW   = 0.1
	DefaultRxPowerW   = 0.05
	DefaultPacketBits = 1024 * 8
	DefaultBitRateBps = 2e6
)

func NewRadioModel(txPowerW, rxPowerW, packetBits, bitRateBps float64) RadioModel {
	m := RadioModel{TxPowerW: txPowerW, RxPowerW: rxPowerW, PacketBits: packetBits, BitRateBps: bitRateBps}
	if m.PacketBits <= 0 {
		m.PacketBits = DefaultPacketBits
	}
	if m.BitRateBps <= 0 {
		m.BitRateBps = DefaultBitRateBps
	}
	return m
}

// Airtime in seconds for one packet.
func (m RadioModel) Airtime() float64 {
	return m.PacketBits / m.BitRateBps
}

func (m RadioModel) TransmitCost() float64 {
	return m.TxPowerW * m.Airtime()
}

func (m RadioModel) ReceiveCost() float64 {
	return m.RxPowerW * m.Airtime()
}

// Fixed charges constant amounts, handy for scenarios and tests.
type Fixed struct {
	Tx float64
	Rx float64
}

func (f Fixed) TransmitCost() float64 { return f.Tx }
func (f Fixed) ReceiveCost() float64  { return f.Rx }
