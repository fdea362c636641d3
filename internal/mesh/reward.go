package mesh

import (
	"math"

	"github.com/luxfi/zhtp-core/internal/peerregistry"
)

var protocolMultiplier = map[peerregistry.Transport]float64{
	peerregistry.TransportBLE:        2.0,
	peerregistry.TransportBTClassic:  1.8,
	peerregistry.TransportWiFiDirect: 1.5,
	peerregistry.TransportLoRa:       3.0,
	peerregistry.TransportSatellite:  2.5,
	peerregistry.TransportQUIC:       1.4,
	peerregistry.TransportTCP:        1.0,
	peerregistry.TransportUDP:        1.1,
}

// ForwardReward computes the theoretical token reward for one successful
// forward (spec §4.2 "Reward accounting on forward").
func ForwardReward(bytesForwarded int, hops int, transport peerregistry.Transport, m peerregistry.QualityMetrics) uint64 {
	base := 10.0 + float64(bytesForwarded)/1024.0 + float64(hops)*5.0

	protoMul, ok := protocolMultiplier[transport]
	if !ok {
		protoMul = 1.0
	}

	quality := 1.0
	if m.UptimePercent() > 99 {
		quality += 0.05
	}
	if m.SuccessRatePercent() > 95 {
		quality += 0.10
	}
	avg := m.AverageLatencyMS()
	if avg > 0 && avg < 50 {
		quality += 0.05
	}

	return uint64(math.Floor(base * protoMul * quality))
}
