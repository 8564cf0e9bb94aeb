package main

import (
	"math"
	"math/rand"
	"time"

	"github.com/firewatch/flames/internal/protocol"
)

// simulator produces plausible readings for one node. Fire readings run hot
// and dry with the flame sensor tripped and the MQ-2 near saturation.
type simulator struct {
	node     string
	fire     bool
	rng      *rand.Rand
	lat, lon *float64
}

func newSimulator(node string, fire bool, rng *rand.Rand) *simulator {
	return &simulator{node: node, fire: fire, rng: rng}
}

func (s *simulator) setPosition(lat, lon float64) {
	s.lat = &lat
	s.lon = &lon
}

func (s *simulator) frame() protocol.Frame {
	var temp, hum float64
	var flame, smoke int
	if s.fire {
		temp = 55 + s.rng.Float64()*25
		hum = 10 + s.rng.Float64()*10
		flame = 1
		smoke = 800 + s.rng.Intn(224)
	} else {
		temp = 22 + s.rng.Float64()*8
		hum = 45 + s.rng.Float64()*20
		smoke = 100 + s.rng.Intn(150)
	}
	temp = round1(temp)
	hum = round1(hum)

	return protocol.Frame{
		Node:  protocol.NodeID(s.node),
		Temp:  &temp,
		Hum:   &hum,
		Flame: &flame,
		Smoke: &smoke,
		Lat:   s.lat,
		Lon:   s.lon,
	}
}

func (s *simulator) envelope(gatewayID string, at time.Time) *protocol.Envelope {
	rssi := -40 - s.rng.Intn(80)
	snr := round1(-5 + s.rng.Float64()*15)
	return protocol.NewEnvelope(gatewayID, rssi, snr, at, s.frame())
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
