package message

import "math"

// Trust model constants, protocol-locked per spec §4.4 — never make
// these configurable, the wire format's cardinality depends on both
// sides computing identically.
const (
	trustSigmoidSteepness = 13.0
	trustSigmoidMidpoint  = 0.3
	trustNoiseVariance    = 0.003
	trustZeroSharedMult   = 0.001
)

// GaussianNoise lets tests substitute a deterministic source; production
// code leaves it as the default Box-Muller sampler.
var GaussianNoise = defaultGaussian

// Sigmoid computes a message's recomputed trust: its remote (incoming)
// priority scaled by the trust multiplier for the given shared and total
// friend counts (spec §4.4). sharedFriends == 0 forces the protocol-locked floor
// multiplier, regardless of the sigmoid's value at fraction 0.
func Sigmoid(remotePriority float64, sharedFriends, myFriends int) float64 {
	mult := sigmoidMultiplier(sharedFriends, myFriends)
	return remotePriority * mult
}

func sigmoidMultiplier(sharedFriends, myFriends int) float64 {
	if sharedFriends == 0 {
		return trustZeroSharedMult
	}
	fraction := 0.0
	if myFriends > 0 {
		fraction = float64(sharedFriends) / float64(myFriends)
	}
	sig := 1.0 / (1.0 + math.Exp(-trustSigmoidSteepness*(fraction-trustSigmoidMidpoint)))
	mult := sig + GaussianNoise(0.0, trustNoiseVariance)
	return clamp01(mult)
}

// NewPriority merges a remote message's priority evidence with the
// stored priority, per spec §4.4: "merges never reduce stored trust."
func NewPriority(remotePriority float64, stored float64, sharedFriends, myFriends int) float64 {
	candidate := Sigmoid(remotePriority, sharedFriends, myFriends)
	return math.Max(candidate, stored)
}

// Combined computes the scalar used to order messages for exchange and
// display (spec §4.3 "Combined priority").
//
//	trust_component   = 0.50 * trust
//	recency_component = 0.25 * 0.5^(age/8h)
//	hearts_component  = 0.25 * min(1, log10(hearts+1)/2)
//	raw = sum of the above, gated to <=0.3 when trust < 0.3
//	result = max(0.01, raw)
func Combined(trust float64, hearts int, ageMillis int64) float64 {
	const halfLife = 8 * 60 * 60 * 1000 // 8h in ms
	trustComponent := 0.50 * trust
	recencyComponent := 0.25 * math.Pow(0.5, float64(ageMillis)/float64(halfLife))
	heartsComponent := 0.25 * math.Min(1, math.Log10(float64(hearts+1))/2)
	raw := trustComponent + recencyComponent + heartsComponent
	if trust < 0.3 {
		raw = math.Min(raw, 0.3)
	}
	return math.Max(0.01, raw)
}

func defaultGaussian(mean, variance float64) float64 {
	// Box-Muller transform over randFloat, which draws from math/rand;
	// crypto/rand is not used since this noise is not security-sensitive,
	// only protocol-shaped.
	u1, u2 := randFloat(), randFloat()
	z0 := math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
	return mean + z0*math.Sqrt(variance)
}
